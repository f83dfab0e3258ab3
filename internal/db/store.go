// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import "github.com/toeirei/keygate/internal/model"

// MatchedRule is one row of the resolution join: an active, unexpired
// account reachable through an active group whose permission patterns
// match the requested (user, host) pair.
type MatchedRule struct {
	Account    model.Account
	Permission model.Permission
}

// Store defines the interface for all database operations in Keygate.
// This allows for multiple database backends to be implemented.
type Store interface {
	// Account methods. CreateAccount also creates the account's internal
	// group and membership edge in the same transaction.
	CreateAccount(email, name string, expireAt int64) (*model.Account, error)
	GetAccount(id int64) (*model.Account, error)
	GetAccountByEmail(email string) (*model.Account, error)
	GetAllAccounts() ([]model.Account, error)
	DeleteAccount(id int64) error
	SetAccountActive(id int64, active bool) error
	SetAccountExpiry(id int64, expireAt int64) error

	// Group methods
	CreateGroup(name string) (*model.Group, error)
	GetGroup(id int64) (*model.Group, error)
	GetGroupByName(name string) (*model.Group, error)
	GetAllGroups() ([]model.Group, error)
	DeleteGroup(id int64) error
	SetGroupActive(id int64, active bool) error
	AddGroupAccount(groupID, accountID int64) error
	RemoveGroupAccount(groupID, accountID int64) error
	GetGroupAccounts(groupID int64) ([]model.Account, error)

	// Public key methods
	AddPublicKey(accountID int64, publicKey, signature, fingerprint, sshOptions string) (*model.PublicKey, error)
	GetAccountKeys(accountID int64) ([]model.PublicKey, error)
	DeletePublicKey(accountID, keyID int64) error

	// Permission methods
	AddPermission(groupID int64, userPattern, hostPattern, sshOptions string) (*model.Permission, error)
	DeletePermission(groupID, permissionID int64) error
	GetGroupPermissions(groupID int64) ([]model.Permission, error)

	// GetMatchingRules runs the resolution join for the requested pair.
	// Pattern matching uses SQL LIKE semantics with the stored pattern on
	// the right-hand side. Rows are ordered by account id ascending.
	GetMatchingRules(user, host string) ([]MatchedRule, error)

	// Token methods. ReplaceTokens swaps the full table transactionally.
	ReplaceTokens(tokens []model.AuthToken) error
	LoadTokens() ([]model.AuthToken, error)

	// Backup methods
	ExportAll() (*model.BackupData, error)
	ImportAll(data *model.BackupData) error

	Close() error
}
