package store

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	platformerrors "chatvoice/internal/platform/errors"
)

func TestFactoryMemory(t *testing.T) {
	store, err := New(Config{Driver: DriverMemory}, Dependencies{})
	if err != nil {
		t.Fatalf("New memory store: %v", err)
	}
	defer store.Close(context.Background())
}

func TestFactoryDefaultsToMemory(t *testing.T) {
	store, err := New(Config{}, Dependencies{})
	if err != nil {
		t.Fatalf("New default store: %v", err)
	}
	defer store.Close(context.Background())
	stats, _ := store.Stats(context.Background())
	if stats["type"] != DriverMemory {
		t.Fatalf("expected memory driver, got %v", stats["type"])
	}
}

func TestFactorySQLite(t *testing.T) {
	if _, err := New(Config{Driver: DriverSQLite}, Dependencies{}); err == nil {
		t.Fatalf("expected error without database handle")
	}

	store, err := New(Config{Driver: DriverSQLite}, Dependencies{SQLiteDB: openTestDB(t)})
	if err != nil {
		t.Fatalf("New sqlite store: %v", err)
	}
	defer store.Close(context.Background())

	if err := store.Put(context.Background(), "factory-sqlite", []byte("x")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
}

func TestFactoryRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	store, err := New(Config{
		Driver:    DriverRedis,
		Namespace: "chatvoice",
		Redis:     &RedisConfig{Addr: mr.Addr()},
	}, Dependencies{})
	if err != nil {
		t.Fatalf("New redis store: %v", err)
	}
	defer store.Close(context.Background())

	if err := store.Put(context.Background(), "factory-redis", []byte("x")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if !mr.Exists("chatvoice:audio:entry:factory-redis") {
		t.Fatalf("expected namespaced key, have %v", mr.Keys())
	}
}

func TestFactoryUnsupported(t *testing.T) {
	_, err := New(Config{Driver: "unknown"}, Dependencies{})
	if !platformerrors.IsKind(err, platformerrors.KindConfig) {
		t.Fatalf("expected config error for unsupported driver, got %v", err)
	}
}

func TestFactoryRedisUnreachable(t *testing.T) {
	_, err := New(Config{Driver: DriverRedis, Redis: &RedisConfig{Addr: "127.0.0.1:1"}}, Dependencies{})
	if !platformerrors.IsKind(err, platformerrors.KindStorage) {
		t.Fatalf("expected storage error for unreachable redis, got %v", err)
	}
}

func TestNormalizeDriver(t *testing.T) {
	for in, want := range map[string]string{"": DriverMemory, " SQLite ": DriverSQLite, "Redis": DriverRedis} {
		if got := NormalizeDriver(in); got != want {
			t.Errorf("NormalizeDriver(%q) = %q, want %q", in, got, want)
		}
	}
}
