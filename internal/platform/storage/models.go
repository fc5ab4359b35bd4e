package storage

import "time"

// AudioCacheRecord is one assembled reply audio blob.
type AudioCacheRecord struct {
	MessageID  string    `gorm:"column:message_id;primaryKey;size:255"`
	Audio      []byte    `gorm:"column:audio;not null"`
	IngestedAt time.Time `gorm:"column:ingested_at;not null;index:idx_audio_cache_ingested_at"`
}

func (AudioCacheRecord) TableName() string {
	return "audio_cache"
}
