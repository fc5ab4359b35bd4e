package migrations

import (
	"gorm.io/gorm"
)

// Migration001AudioCache creates the persistent reply audio table.
type Migration001AudioCache struct{}

func (m *Migration001AudioCache) Version() string {
	return "001_audio_cache"
}

func (m *Migration001AudioCache) Description() string {
	return "Create audio_cache table keyed by message id"
}

func (m *Migration001AudioCache) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audio_cache (
			message_id VARCHAR(255) PRIMARY KEY,
			audio BLOB NOT NULL,
			ingested_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_audio_cache_ingested_at ON audio_cache(ingested_at)`).Error
}

func (m *Migration001AudioCache) Down(db *gorm.DB) error {
	if err := db.Exec(`DROP INDEX IF EXISTS idx_audio_cache_ingested_at`).Error; err != nil {
		return err
	}
	return db.Exec(`DROP TABLE IF EXISTS audio_cache`).Error
}
