package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on Redis: one JSON value per notebook
// path plus a set indexing the tracked paths.
type RedisBackend struct {
	client *redis.Client
	prefix string
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all backup keys (default: "nbclient:backup:").
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

const defaultRedisPrefix = "nbclient:backup:"

// NewRedisBackend creates a Redis backend and verifies connectivity.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, NewConnectionError("redis ping failed", err)
	}

	return &RedisBackend{client: client, prefix: prefix}, nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) dataKey(path string) string {
	return r.prefix + "nb:" + path
}

func (r *RedisBackend) indexKey() string {
	return r.prefix + "paths"
}

// Load retrieves the backups for a path.
func (r *RedisBackend) Load(ctx context.Context, path string) (*Backups, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	r.mu.RUnlock()

	raw, err := r.client.Get(ctx, r.dataKey(path)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, NewQueryError("failed to get backups", err)
	}

	var bs Backups
	if err := json.Unmarshal(raw, &bs); err != nil {
		return nil, NewQueryError("failed to unmarshal backups", err)
	}
	return &bs, nil
}

// Save persists the backups for a path and indexes it.
func (r *RedisBackend) Save(ctx context.Context, path string, backups *Backups) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrStoreClosed
	}
	r.mu.RUnlock()

	raw, err := json.Marshal(backups)
	if err != nil {
		return NewQueryError("failed to marshal backups", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.dataKey(path), raw, 0)
	pipe.SAdd(ctx, r.indexKey(), path)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewQueryError("failed to save backups", err)
	}
	return nil
}

// Paths lists every tracked notebook path.
func (r *RedisBackend) Paths(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	r.mu.RUnlock()

	paths, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, NewQueryError("failed to list paths", err)
	}
	return paths, nil
}

// DeleteAll wipes every backup key and the index.
func (r *RedisBackend) DeleteAll(ctx context.Context) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrStoreClosed
	}
	r.mu.RUnlock()

	paths, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return NewQueryError("failed to list paths", err)
	}

	pipe := r.client.Pipeline()
	for _, path := range paths {
		pipe.Del(ctx, r.dataKey(path))
	}
	pipe.Del(ctx, r.indexKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return NewQueryError("failed to delete backups", err)
	}
	return nil
}

// Close releases the Redis client.
func (r *RedisBackend) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

// Ping checks if the Redis connection is alive.
func (r *RedisBackend) Ping(ctx context.Context) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrStoreClosed
	}
	r.mu.RUnlock()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
