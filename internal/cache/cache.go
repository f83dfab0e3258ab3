// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cache provides the authorization result cache: a uniform
// backend contract over an in-process map, memcached, or redis, plus the
// read-through layer that memoizes resolution output. Entries carry no
// primary TTL; any mutation that could change a resolution flushes the
// whole cache.
package cache

import (
	"fmt"

	"github.com/toeirei/keygate/internal/logging"
)

// Backend is the uniform get/set/delete/flush contract every cache
// engine implements. Implementations must be safe for concurrent use.
// A nil value for Get with a nil error means "not cached".
type Backend interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Del(key string) error
	Flush() error
}

// New constructs the configured backend, or (nil, nil) when caching is
// disabled. Callers must treat a nil backend as "always miss".
func New(cacheType, uri string) (Backend, error) {
	switch cacheType {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryBackend(), nil
	case "memcached":
		return NewMemcachedBackend(uri), nil
	case "redis":
		return NewRedisBackend(uri)
	default:
		return nil, fmt.Errorf("unknown cache type: %q", cacheType)
	}
}

// MustNew is New for boot paths where a misconfigured cache should
// degrade to disabled rather than stop the server.
func MustNew(cacheType, uri string) Backend {
	b, err := New(cacheType, uri)
	if err != nil {
		logging.Errorf("cache: disabled, backend init failed: %v", err)
		return nil
	}
	return b
}
