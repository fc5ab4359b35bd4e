package store

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	items    map[string]Entry
	bytes    int64
	maxBytes int64
	mutex    sync.RWMutex
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory builds an in-memory audio store.
func NewMemory(cfg Config) Store {
	s := &memoryStore{
		items: make(map[string]Entry),
		now:   cfg.clock(),
		stop:  make(chan struct{}),
	}
	if cfg.Memory != nil {
		s.maxBytes = cfg.Memory.MaxBytes
		if cfg.Memory.SweepInterval > 0 && cfg.Memory.MaxAge > 0 {
			go s.gcLoop(cfg.Memory.SweepInterval, cfg.Memory.MaxAge)
		}
	}
	return s
}

func (s *memoryStore) gcLoop(every, maxAge time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = s.EvictOlderThan(context.Background(), maxAge)
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) Put(_ context.Context, messageID string, audio []byte) error {
	if err := validateID(messageID); err != nil {
		return err
	}
	data := append([]byte(nil), audio...)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	size := s.bytes + int64(len(data))
	if old, ok := s.items[messageID]; ok {
		size -= int64(len(old.Audio))
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return ErrQuotaExceeded
	}
	s.items[messageID] = Entry{MessageID: messageID, Audio: data, IngestedAt: s.now()}
	s.bytes = size
	return nil
}

func (s *memoryStore) Get(_ context.Context, messageID string) (Entry, error) {
	s.mutex.RLock()
	entry, ok := s.items[messageID]
	s.mutex.RUnlock()
	if !ok {
		return Entry{}, ErrNotFound
	}
	entry.Audio = append([]byte(nil), entry.Audio...)
	return entry, nil
}

func (s *memoryStore) EvictOlderThan(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed := 0

	s.mutex.Lock()
	for id, entry := range s.items {
		if !entry.IngestedAt.After(cutoff) {
			s.bytes -= int64(len(entry.Audio))
			delete(s.items, id)
			removed++
		}
	}
	s.mutex.Unlock()
	return removed, nil
}

func (s *memoryStore) ClearAll(_ context.Context) error {
	s.mutex.Lock()
	s.items = make(map[string]Entry)
	s.bytes = 0
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (map[string]any, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return map[string]any{
		"type":      DriverMemory,
		"total":     len(s.items),
		"bytes":     s.bytes,
		"max_bytes": s.maxBytes,
	}, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}
