// Package redisstore persists recovery strategy history in Redis so that
// several runner processes learn from each other.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devicelab-dev/axrunner/pkg/recovery"
)

// DefaultKey is the Redis key holding the snapshot.
const DefaultKey = "axrunner:recovery:history"

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	Key      string        `yaml:"key"`
	TTL      time.Duration `yaml:"ttl"`
}

// Store implements recovery.Store on a Redis string key.
type Store struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
}

// New wraps an existing client. An empty key uses DefaultKey; ttl 0 keeps the key forever.
func New(rdb redis.Cmdable, key string, ttl time.Duration) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{rdb: rdb, key: key, ttl: ttl}
}

// Connect parses cfg.URL, checks the connection and returns a store and its client.
func Connect(ctx context.Context, cfg Config) (*Store, *redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return New(rdb, cfg.Key, cfg.TTL), rdb, nil
}

// Load implements recovery.Store. A missing key yields an empty snapshot.
func (s *Store) Load(ctx context.Context) (recovery.Snapshot, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return recovery.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recovery history: %w", err)
	}

	var snap recovery.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recovery history: %w", err)
	}
	return snap, nil
}

// Save implements recovery.Store.
func (s *Store) Save(ctx context.Context, snap recovery.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery history: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set recovery history: %w", err)
	}
	return nil
}
