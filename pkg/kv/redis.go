package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is the key-value storage interface backing the gateway.
type Store interface {
	// Get returns the string value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key with an optional TTL (0 means no expiry).
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Del removes the given keys.
	Del(ctx context.Context, keys ...string) error
	// Exists reports whether the key exists.
	Exists(ctx context.Context, key string) (bool, error)
	// SMembers returns all members of the set stored at key.
	SMembers(ctx context.Context, key string) ([]string, error)
	// Apply executes all operations in the batch atomically.
	Apply(ctx context.Context, batch *Batch) error
	// Ping verifies connectivity with the backing store.
	Ping(ctx context.Context) error
	// Close releases the underlying connections.
	Close() error
}

// Batch accumulates mutations that must be applied in a single transaction.
type Batch struct {
	ops []func(pipe redis.Pipeliner)
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Set queues a SET of value at key with an optional TTL.
func (b *Batch) Set(key, value string, ttl time.Duration) *Batch {
	b.ops = append(b.ops, func(pipe redis.Pipeliner) {
		pipe.Set(context.Background(), key, value, ttl)
	})
	return b
}

// SAdd queues adding members to the set at key.
func (b *Batch) SAdd(key string, members ...string) *Batch {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	b.ops = append(b.ops, func(pipe redis.Pipeliner) {
		pipe.SAdd(context.Background(), key, args...)
	})
	return b
}

// SRem queues removing members from the set at key.
func (b *Batch) SRem(key string, members ...string) *Batch {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	b.ops = append(b.ops, func(pipe redis.Pipeliner) {
		pipe.SRem(context.Background(), key, args...)
	})
	return b
}

// Del queues removal of the given keys.
func (b *Batch) Del(keys ...string) *Batch {
	b.ops = append(b.ops, func(pipe redis.Pipeliner) {
		pipe.Del(context.Background(), keys...)
	})
	return b
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Config holds redis connection configuration.
type Config struct {
	URL         string
	Password    string
	DB          int
	MaxRetries  int
	PoolSize    int
	DialTimeout time.Duration
}

// RedisStore implements Store over a redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a redis-backed store and verifies connectivity.
func NewRedisStore(cfg Config) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = cfg.DialTimeout
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client, used in tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return members, nil
}

// Apply executes all queued batch operations inside a MULTI/EXEC transaction.
func (s *RedisStore) Apply(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, op := range batch.ops {
		op(pipe)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
