// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model defines the core domain entities shared across Keygate:
// accounts, groups, public keys, permissions and auth tokens.
package model

import "fmt"

// Account is a person (or machine identity) that owns public keys and
// receives access through permissions. Every account also owns a
// same-named internal group that scopes its direct permissions.
type Account struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	ExpireAt  int64  `json:"expire_at"` // epoch millis, 0 = never
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// String returns the name <email> representation.
func (a Account) String() string {
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// Group collects accounts and carries permissions that apply to all of
// its active members. Internal groups are the per-account shadow groups
// created automatically at account creation.
type Group struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
	IsInternal bool   `json:"is_internal"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// GroupAccount is a membership edge between a group and an account.
type GroupAccount struct {
	GroupID   int64 `json:"group_id"`
	AccountID int64 `json:"account_id"`
}

// PublicKey is a single OpenSSH-format public key owned by an account.
// SSH2 (RFC 4716) keys are normalized to the single-line OpenSSH form
// before they are stored.
type PublicKey struct {
	ID           int64  `json:"id"`
	AccountID    int64  `json:"account_id"`
	PublicKey    string `json:"public_key"`
	PublicKeySig string `json:"public_key_sig,omitempty"`
	Fingerprint  string `json:"fingerprint"`
	SSHOptions   string `json:"ssh_options,omitempty"` // JSON-encoded SSHOptions
	CreatedAt    int64  `json:"created_at"`
}

// Permission grants login as users matching UserPattern on hosts
// matching HostPattern to the members of a group. Patterns use SQL LIKE
// semantics: % matches any run of characters, _ matches one character.
type Permission struct {
	ID          int64  `json:"id"`
	GroupID     int64  `json:"group_id"`
	UserPattern string `json:"user"`
	HostPattern string `json:"host"`
	SSHOptions  string `json:"ssh_options,omitempty"` // JSON-encoded SSHOptions
	CreatedAt   int64  `json:"created_at"`
}

// Token types stored in the auth_tokens table.
const (
	TokenTypeAdmin = "admin"
	TokenTypeAgent = "agent"
)

// AuthToken is a stored bearer token. The authoritative set lives in the
// database; each node mirrors it into in-memory maps for request checks.
type AuthToken struct {
	Token     string `json:"token"`
	Assignee  string `json:"assignee"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at"`
}

// AuthorizedKey is one row of a resolved authorized_keys answer: a public
// key plus the merged restriction options that apply to it for the
// requested (user, host) pair.
type AuthorizedKey struct {
	PublicKey   string `json:"public_key"`
	Email       string `json:"email"`
	AccountID   int64  `json:"account_id"`
	Fingerprint string `json:"fingerprint,omitempty"`
	SSHOptions  string `json:"ssh_options"`
}

// BackupData is the serialized shape of a full database export.
type BackupData struct {
	Accounts      []Account      `json:"accounts"`
	Groups        []Group        `json:"groups"`
	GroupAccounts []GroupAccount `json:"group_accounts"`
	PublicKeys    []PublicKey    `json:"public_keys"`
	Permissions   []Permission   `json:"permissions"`
	AuthTokens    []AuthToken    `json:"auth_tokens"`
}
