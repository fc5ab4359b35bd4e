package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps one hash per entry and a sorted set of message ids scored
// by ingestion time in microseconds, which drives eviction.
type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedis constructs a redis-backed audio store.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "audio"
		if cfg.Namespace != "" {
			prefix = cfg.Namespace + ":audio"
		}
	}
	return &redisStore{
		client: client,
		prefix: prefix + ":",
		ttl:    cfg.Redis.KeyTTL,
		now:    cfg.clock(),
	}, nil
}

func (s *redisStore) key(id string) string {
	return s.prefix + "entry:" + id
}

func (s *redisStore) indexKey() string {
	return s.prefix + "index"
}

func (s *redisStore) Put(ctx context.Context, messageID string, audio []byte) error {
	if err := validateID(messageID); err != nil {
		return err
	}
	at := s.now()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := s.key(messageID)
		pipe.HSet(ctx, key, "audio", audio, "ingested_at", at.UnixNano())
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(at.UnixMicro()), Member: messageID})
		return nil
	})
	return err
}

func (s *redisStore) Get(ctx context.Context, messageID string) (Entry, error) {
	fields, err := s.client.HGetAll(ctx, s.key(messageID)).Result()
	if err != nil {
		return Entry{}, err
	}
	if len(fields) == 0 {
		// the hash may have expired through KeyTTL
		s.client.ZRem(ctx, s.indexKey(), messageID)
		return Entry{}, ErrNotFound
	}
	nanos, err := strconv.ParseInt(fields["ingested_at"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("corrupt ingested_at for %s: %w", messageID, err)
	}
	return Entry{
		MessageID:  messageID,
		Audio:      []byte(fields["audio"]),
		IngestedAt: time.Unix(0, nanos),
	}, nil
}

func (s *redisStore) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge).UnixMicro()
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
		members[i] = id
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *redisStore) ClearAll(ctx context.Context) error {
	var cursor uint64
	pattern := s.prefix + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	total, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":        DriverRedis,
		"total":       total,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
