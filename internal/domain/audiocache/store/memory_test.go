package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreQuota(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(Config{Memory: &MemoryConfig{MaxBytes: 10}})
	t.Cleanup(func() { _ = s.Close(ctx) })

	if err := s.Put(ctx, "a", make([]byte, 6)); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := s.Put(ctx, "b", make([]byte, 6)); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	// overwriting counts the replaced bytes as freed
	if err := s.Put(ctx, "a", make([]byte, 10)); err != nil {
		t.Fatalf("overwrite within quota: %v", err)
	}
	if _, err := s.EvictOlderThan(ctx, 0); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if err := s.Put(ctx, "b", make([]byte, 6)); err != nil {
		t.Fatalf("Put after eviction: %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(Config{})
	audio := []byte("abc")
	_ = s.Put(ctx, "m", audio)
	audio[0] = 'z'

	entry, _ := s.Get(ctx, "m")
	if string(entry.Audio) != "abc" {
		t.Fatalf("store kept caller's slice: %q", entry.Audio)
	}
	entry.Audio[1] = 'z'
	again, _ := s.Get(ctx, "m")
	if string(again.Audio) != "abc" {
		t.Fatalf("store leaked its slice: %q", again.Audio)
	}
}

func TestMemoryStoreBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(Config{Memory: &MemoryConfig{
		SweepInterval: 5 * time.Millisecond,
		MaxAge:        20 * time.Millisecond,
	}})
	t.Cleanup(func() { _ = s.Close(ctx) })

	_ = s.Put(ctx, "m", []byte("x"))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.Get(ctx, "m"); errors.Is(err, ErrNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("background sweep never removed the expired entry")
}
