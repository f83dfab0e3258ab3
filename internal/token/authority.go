// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

// Package token implements the tiered token authority: the
// operator-provisioned core token, admin tokens with assignee labels,
// and agent tokens for the plain-text lookup endpoint. The database
// holds the authoritative set; every node mirrors it into in-memory
// maps for request-time checks.
package token

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/toeirei/keygate/internal/db"
	"github.com/toeirei/keygate/internal/logging"
	"github.com/toeirei/keygate/internal/model"
)

// Tier is the privilege level a bearer token resolves to.
type Tier int

const (
	// TierNone is an unknown token.
	TierNone Tier = iota
	// TierAgent may call the plain-text key-lookup endpoint only.
	TierAgent
	// TierAdmin may call all management endpoints and the JSON lookup.
	TierAdmin
	// TierCore may push a replacement token set to the node.
	TierCore
)

// ErrEmptyPush is returned when a push payload names no tokens at all.
var ErrEmptyPush = errors.New("token push requires at least one of admin, admins or clients")

// Authority validates bearer tokens against the three tiers and applies
// pushed token sets. Safe for concurrent use.
type Authority struct {
	mu     sync.RWMutex
	core   string
	admins map[string]string   // token -> assignee
	agents map[string]struct{} // token set
}

// NewAuthority creates an Authority with the operator-provisioned core
// token and an optional bootstrap admin token (useful before the first
// push has populated storage).
func NewAuthority(core, bootstrapAdmin string) *Authority {
	a := &Authority{
		core:   core,
		admins: make(map[string]string),
		agents: make(map[string]struct{}),
	}
	if bootstrapAdmin != "" {
		a.admins[bootstrapAdmin] = "bootstrap"
	}
	return a
}

// Tier resolves a bearer token. Checked core first, then admin, then
// agent; anything else is TierNone.
func (a *Authority) Tier(token string) Tier {
	if token == "" {
		return TierNone
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.core != "" && token == a.core {
		return TierCore
	}
	if _, ok := a.admins[token]; ok {
		return TierAdmin
	}
	if _, ok := a.agents[token]; ok {
		return TierAgent
	}
	return TierNone
}

// Assignee returns the label attached to an admin token, or "".
func (a *Authority) Assignee(token string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.admins[token]
}

// Reload replaces the in-memory maps from the stored token table. It is
// idempotent, so duplicate flush deliveries only redo a safe reload.
func (a *Authority) Reload(store db.Store) error {
	tokens, err := store.LoadTokens()
	if err != nil {
		return fmt.Errorf("failed to load token table: %w", err)
	}

	admins := make(map[string]string)
	agents := make(map[string]struct{})
	for _, t := range tokens {
		switch t.Type {
		case model.TokenTypeAdmin:
			admins[t.Token] = t.Assignee
		case model.TokenTypeAgent:
			agents[t.Token] = struct{}{}
		default:
			logging.Warnf("token: ignoring stored token with unknown type %q", t.Type)
		}
	}

	a.mu.Lock()
	a.admins = admins
	a.agents = agents
	a.mu.Unlock()

	logging.Infof("token: reloaded %d admin and %d agent tokens", len(admins), len(agents))
	return nil
}

// AdminEntry is one admin token in a push payload. The wire form is
// either an object {"token": ..., "assignee": ...} or, for backward
// compatibility, a bare string whose assignee is derived from the token.
type AdminEntry struct {
	Token    string `json:"token"`
	Assignee string `json:"assignee"`
}

// UnmarshalJSON accepts both the object and the legacy bare-string form.
func (e *AdminEntry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Token = s
		e.Assignee = ""
		return nil
	}
	type plain AdminEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = AdminEntry(p)
	return nil
}

// PushPayload is the body of a core-token-gated POST /tokens request.
type PushPayload struct {
	// Admin is the legacy single admin token form.
	Admin   string       `json:"admin,omitempty"`
	Admins  []AdminEntry `json:"admins,omitempty"`
	Clients []string     `json:"clients,omitempty"`
}

// BuildTokenSet validates a push payload and expands it into the full
// replacement token table. Legacy admin tokens without an assignee keep
// working: the primary admin token gets the assignee "admin", bare
// strings in the admins list get md5(token). Both emit a deprecation
// warning.
func BuildTokenSet(p *PushPayload) ([]model.AuthToken, error) {
	if p == nil || (p.Admin == "" && len(p.Admins) == 0 && len(p.Clients) == 0) {
		return nil, ErrEmptyPush
	}

	var out []model.AuthToken
	if p.Admin != "" {
		logging.Warnf("token: legacy single admin token pushed; please migrate to the admins list")
		out = append(out, model.AuthToken{Token: p.Admin, Assignee: "admin", Type: model.TokenTypeAdmin})
	}
	for _, e := range p.Admins {
		if e.Token == "" {
			continue
		}
		assignee := e.Assignee
		if assignee == "" {
			sum := md5.Sum([]byte(e.Token))
			assignee = hex.EncodeToString(sum[:])
			logging.Warnf("token: admin token without assignee pushed; derived assignee %s", assignee)
		}
		out = append(out, model.AuthToken{Token: e.Token, Assignee: assignee, Type: model.TokenTypeAdmin})
	}
	for _, t := range p.Clients {
		if t == "" {
			continue
		}
		out = append(out, model.AuthToken{Token: t, Type: model.TokenTypeAgent})
	}
	return out, nil
}
