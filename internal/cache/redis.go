// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores entries in redis. The client pools its read/write
// connections internally; the invalidation-bus subscriber uses its own
// connection with a separate reconnect policy (see internal/cluster).
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects using a redis URI ("redis://host:port/db").
func NewRedisBackend(uri string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return &RedisBackend{client: redis.NewClient(opts)}, nil
}

// NewRedisBackendFromClient wraps an existing client; used by tests.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get returns the cached value, or (nil, nil) on a plain miss.
func (r *RedisBackend) Get(key string) ([]byte, error) {
	v, err := r.client.Get(context.Background(), key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set stores the value without expiry; flush is the invalidation path.
func (r *RedisBackend) Set(key string, value []byte) error {
	return r.client.Set(context.Background(), key, value, 0).Err()
}

// Del removes one entry.
func (r *RedisBackend) Del(key string) error {
	return r.client.Del(context.Background(), key).Err()
}

// Flush clears the current database.
func (r *RedisBackend) Flush() error {
	return r.client.FlushDB(context.Background()).Err()
}
