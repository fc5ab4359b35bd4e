// Package audiocache wraps the persistent audio store with the client's
// fallback policy: reads never fail, and writes that fail get one eviction
// sweep and one retry before the audio is dropped from the cache.
package audiocache

import (
	"context"
	"errors"
	"time"

	"chatvoice/internal/domain/audiocache/store"
	platformerrors "chatvoice/internal/platform/errors"
	"chatvoice/internal/platform/logging"
	"chatvoice/internal/platform/observability"
)

const (
	logTag = "Cache"

	// DefaultMaxAge is how long cached audio is kept.
	DefaultMaxAge = 24 * time.Hour
)

// PutResult reports what happened to a cache write.
type PutResult int

const (
	PutStored PutResult = iota
	PutStoredAfterEviction
	PutDropped
)

func (r PutResult) String() string {
	switch r {
	case PutStored:
		return "stored"
	case PutStoredAfterEviction:
		return "stored_after_eviction"
	default:
		return "dropped"
	}
}

// Cache is safe for concurrent use.
type Cache struct {
	store   store.Store
	maxAge  time.Duration
	logger  *logging.Logger
	metrics *observability.Metrics
}

type Option func(*Cache)

func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func New(s store.Store, opts ...Option) *Cache {
	c := &Cache{
		store:  s,
		maxAge: DefaultMaxAge,
		logger: logging.NewDiscard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached audio for messageID. Store failures are logged and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, messageID string) ([]byte, bool) {
	entry, err := c.store.Get(ctx, messageID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.WarnTag(logTag, "read %s failed: %v", messageID, err)
		}
		c.metrics.CacheLookup(false)
		return nil, false
	}
	if len(entry.Audio) == 0 {
		c.metrics.CacheLookup(false)
		return nil, false
	}
	c.metrics.CacheLookup(true)
	return entry.Audio, true
}

// Has reports whether audio for messageID is cached.
func (c *Cache) Has(ctx context.Context, messageID string) bool {
	_, ok := c.Get(ctx, messageID)
	return ok
}

// Put stores audio. On failure it sweeps expired entries and retries once.
// The caller keeps its audio either way; a dropped write only means the
// next playback has to synthesize again.
func (c *Cache) Put(ctx context.Context, messageID string, audio []byte) PutResult {
	result := c.put(ctx, messageID, audio)
	c.metrics.CacheWrite(result.String())
	return result
}

func (c *Cache) put(ctx context.Context, messageID string, audio []byte) PutResult {
	err := c.store.Put(ctx, messageID, audio)
	if err == nil {
		c.logger.DebugTag(logTag, "stored %s (%d bytes)", messageID, len(audio))
		return PutStored
	}
	c.logger.WarnTag(logTag, "store %s failed, sweeping expired audio: %v", messageID, err)

	if _, sweepErr := c.SweepExpired(ctx); sweepErr != nil {
		c.logger.ErrorTag(logTag, "dropping %s: sweep failed: %v", messageID, sweepErr)
		return PutDropped
	}
	if err := c.store.Put(ctx, messageID, audio); err != nil {
		c.logger.ErrorTag(logTag, "dropping %s after retry: %v", messageID, err)
		return PutDropped
	}
	return PutStoredAfterEviction
}

// SweepExpired removes entries older than the configured max age.
func (c *Cache) SweepExpired(ctx context.Context) (int, error) {
	n, err := c.store.EvictOlderThan(ctx, c.maxAge)
	if err != nil {
		return 0, platformerrors.Wrap(platformerrors.KindStorage, "audiocache.sweep", "evict expired audio", err)
	}
	if n > 0 {
		c.logger.InfoTag(logTag, "evicted %d expired entries", n)
	}
	return n, nil
}

// ClearAll empties the cache.
func (c *Cache) ClearAll(ctx context.Context) error {
	if err := c.store.ClearAll(ctx); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "audiocache.clear", "clear cached audio", err)
	}
	c.logger.InfoTag(logTag, "cleared all cached audio")
	return nil
}

func (c *Cache) Stats(ctx context.Context) (map[string]any, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "audiocache.stats", "read cache stats", err)
	}
	stats["max_age_seconds"] = int(c.maxAge.Seconds())
	return stats, nil
}

// RunSweeper sweeps expired entries every interval until ctx is done. The
// first sweep runs immediately.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.SweepExpired(ctx); err != nil && ctx.Err() == nil {
			c.logger.WarnTag(logTag, "periodic sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
