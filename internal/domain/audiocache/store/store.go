// Package store persists assembled reply audio keyed by message id.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when no audio is stored for the id.
	ErrNotFound = errors.New("audio not found")
	// ErrQuotaExceeded is returned by Put when the store has no room left.
	ErrQuotaExceeded = errors.New("audio store quota exceeded")
)

// Entry is one cached audio blob.
type Entry struct {
	MessageID  string
	Audio      []byte
	IngestedAt time.Time
}

// Store is the persistent audio store. Put overwrites by message id.
type Store interface {
	Put(ctx context.Context, messageID string, audio []byte) error
	Get(ctx context.Context, messageID string) (Entry, error)
	// EvictOlderThan removes entries ingested at or before now-maxAge and
	// reports how many were removed.
	EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
	ClearAll(ctx context.Context) error
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver    string
	Namespace string
	Redis     *RedisConfig
	Memory    *MemoryConfig
	// Now overrides the ingestion clock.
	Now func() time.Time
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	// MaxBytes caps the total stored audio. Zero means unlimited.
	MaxBytes int64
	// SweepInterval and MaxAge drive the background expiry loop. The loop
	// is off when either is zero.
	SweepInterval time.Duration
	MaxAge        time.Duration
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	// KeyTTL lets redis expire entries on its own in addition to sweeps.
	KeyTTL time.Duration
}

func (c Config) clock() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}

func validateID(messageID string) error {
	if messageID == "" {
		return errors.New("message id required")
	}
	return nil
}
