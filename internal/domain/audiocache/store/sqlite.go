package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"chatvoice/internal/platform/storage"
)

type sqliteStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLite builds a SQLite-backed audio store. The schema is owned by the
// storage migrations; the caller owns the database handle.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{
		db:  db,
		now: cfg.clock(),
	}, nil
}

func (s *sqliteStore) Put(ctx context.Context, messageID string, audio []byte) error {
	if err := validateID(messageID); err != nil {
		return err
	}
	record := &storage.AudioCacheRecord{
		MessageID:  messageID,
		Audio:      audio,
		IngestedAt: s.now().UTC(),
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", messageID).Delete(&storage.AudioCacheRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
}

func (s *sqliteStore) Get(ctx context.Context, messageID string) (Entry, error) {
	var record storage.AudioCacheRecord
	if err := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&record).Error; err != nil {
		if errorsIsNotFound(err) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return Entry{
		MessageID:  record.MessageID,
		Audio:      record.Audio,
		IngestedAt: record.IngestedAt,
	}, nil
}

func (s *sqliteStore) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge).UTC()
	res := s.db.WithContext(ctx).Where("ingested_at <= ?", cutoff).Delete(&storage.AudioCacheRecord{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *sqliteStore) ClearAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&storage.AudioCacheRecord{}).Error
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var row struct {
		Total int64
		Bytes int64
	}
	err := s.db.WithContext(ctx).Model(&storage.AudioCacheRecord{}).
		Select("COUNT(*) AS total, COALESCE(SUM(LENGTH(audio)), 0) AS bytes").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":  DriverSQLite,
		"total": row.Total,
		"bytes": row.Bytes,
	}, nil
}

func (s *sqliteStore) Close(context.Context) error {
	return nil
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
