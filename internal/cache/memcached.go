// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package cache

import (
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// maxTTLSeconds caps memcached entries at 30 days. Invalidation is
// wholesale flush, not expiry; the TTL is a safety net against key
// leaks, not the primary mechanism.
const maxTTLSeconds = 30 * 24 * 60 * 60

// MemcachedBackend stores entries in a memcached cluster. Operations
// fail fast: one attempt with a bounded connect timeout, errors are the
// caller's cue to fall through to direct computation.
type MemcachedBackend struct {
	client *memcache.Client
}

// NewMemcachedBackend connects to the comma-separated server list.
func NewMemcachedBackend(servers string) *MemcachedBackend {
	client := memcache.New(splitServers(servers)...)
	client.Timeout = time.Second
	client.MaxIdleConns = 4
	return &MemcachedBackend{client: client}
}

func splitServers(servers string) []string {
	var out []string
	for _, s := range strings.Split(servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the cached value, or (nil, nil) on a plain miss.
func (m *MemcachedBackend) Get(key string) ([]byte, error) {
	item, err := m.client.Get(key)
	if err == memcache.ErrCacheMiss {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

// Set stores the value with the safety-net TTL.
func (m *MemcachedBackend) Set(key string, value []byte) error {
	return m.client.Set(&memcache.Item{Key: key, Value: value, Expiration: maxTTLSeconds})
}

// Del removes one entry; a miss is not an error.
func (m *MemcachedBackend) Del(key string) error {
	err := m.client.Delete(key)
	if err == memcache.ErrCacheMiss {
		return nil
	}
	return err
}

// Flush clears the whole cache.
func (m *MemcachedBackend) Flush() error {
	return m.client.FlushAll()
}
