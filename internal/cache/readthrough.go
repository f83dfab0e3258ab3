// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package cache

import (
	"encoding/json"
	"strings"

	"github.com/toeirei/keygate/internal/logging"
	"github.com/toeirei/keygate/internal/model"
)

// Resolver is the direct-computation fallback behind the cache,
// implemented by the authz engine.
type Resolver interface {
	Authorized(user, host string) ([]model.AuthorizedKey, error)
}

// ReadThrough memoizes resolution output. The backend may be nil
// (caching disabled) or erroring; both degrade to direct computation and
// the fromCache=false signal, never to a request failure.
type ReadThrough struct {
	backend  Backend
	resolver Resolver
}

// NewReadThrough wires the resolver behind the (possibly nil) backend.
func NewReadThrough(backend Backend, resolver Resolver) *ReadThrough {
	return &ReadThrough{backend: backend, resolver: resolver}
}

func textKey(user, host string) string { return user + "_" + host }
func jsonKey(user, host string) string { return "json:" + user + "_" + host }

// LookupText returns the plain-text authorized_keys rendering: one line
// per key, trailing newline when non-empty. fromCache reports whether
// the value was served from the backend.
func (c *ReadThrough) LookupText(user, host string) (string, bool, error) {
	if v, ok := c.get(textKey(user, host)); ok {
		return string(v), true, nil
	}
	keys, err := c.resolver.Authorized(user, host)
	if err != nil {
		return "", false, err
	}
	text := RenderText(keys)
	c.put(textKey(user, host), []byte(text))
	return text, false, nil
}

// LookupJSON returns the JSON rendering of the same computation, cached
// under its own namespace.
func (c *ReadThrough) LookupJSON(user, host string) ([]byte, bool, error) {
	if v, ok := c.get(jsonKey(user, host)); ok {
		return v, true, nil
	}
	keys, err := c.resolver.Authorized(user, host)
	if err != nil {
		return nil, false, err
	}
	body, err := json.Marshal(keys)
	if err != nil {
		return nil, false, err
	}
	c.put(jsonKey(user, host), body)
	return body, false, nil
}

// InvalidateAll flushes the entire cache. It is called on every accepted
// write; failure is logged, never surfaced to the triggering caller.
func (c *ReadThrough) InvalidateAll() {
	if c.backend == nil {
		return
	}
	if err := c.backend.Flush(); err != nil {
		logging.Errorf("cache: flush failed: %v", err)
	}
}

func (c *ReadThrough) get(key string) ([]byte, bool) {
	if c.backend == nil {
		return nil, false
	}
	v, err := c.backend.Get(key)
	if err != nil {
		logging.Warnf("cache: get %q failed, computing directly: %v", key, err)
		return nil, false
	}
	if v == nil {
		return nil, false
	}
	return v, true
}

func (c *ReadThrough) put(key string, value []byte) {
	if c.backend == nil {
		return
	}
	if err := c.backend.Set(key, value); err != nil {
		logging.Warnf("cache: set %q failed: %v", key, err)
	}
}

// RenderText renders resolved keys as authorized_keys lines. Each line
// is "options key" (or just the key when the option string is empty);
// a non-empty result always ends with exactly one newline.
func RenderText(keys []model.AuthorizedKey) string {
	if len(keys) == 0 {
		return ""
	}
	var b strings.Builder
	for _, k := range keys {
		if k.SSHOptions != "" {
			b.WriteString(k.SSHOptions)
			b.WriteByte(' ')
		}
		b.WriteString(k.PublicKey)
		b.WriteByte('\n')
	}
	return b.String()
}
