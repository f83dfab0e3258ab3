// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package authz

import (
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/toeirei/keygate/internal/db"
)

func newTestEngine(t *testing.T) (*Engine, db.Store) {
	t.Helper()
	dsn := "file:test_authz_" + t.Name() + "?mode=memory&cache=shared"
	store, err := db.New("sqlite", dsn)
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewEngine(store), store
}

func addAccountWithKey(t *testing.T, store db.Store, email string) int64 {
	t.Helper()
	account, err := store.CreateAccount(email, email, 0)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := store.AddPublicKey(account.ID, "ssh-ed25519 AAAAC3Nza "+email, "", "SHA256:"+email, ""); err != nil {
		t.Fatalf("AddPublicKey failed: %v", err)
	}
	return account.ID
}

func addGroupPermission(t *testing.T, store db.Store, name string, accountID int64, user, host, options string) {
	t.Helper()
	group, err := store.CreateGroup(name)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if err := store.AddGroupAccount(group.ID, accountID); err != nil {
		t.Fatalf("AddGroupAccount failed: %v", err)
	}
	if _, err := store.AddPermission(group.ID, user, host, options); err != nil {
		t.Fatalf("AddPermission failed: %v", err)
	}
}

func TestAuthorized_NoMatches(t *testing.T) {
	engine, _ := newTestEngine(t)

	keys, err := engine.Authorized("deploy", "web01")
	if err != nil {
		t.Fatalf("Authorized failed: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %d", len(keys))
	}
}

func TestAuthorized_SingleRule(t *testing.T) {
	engine, store := newTestEngine(t)

	id := addAccountWithKey(t, store, "alice@example.com")
	addGroupPermission(t, store, "web-admins", id, "deploy", "web%", `{"no-pty":true}`)

	keys, err := engine.Authorized("deploy", "web01")
	if err != nil {
		t.Fatalf("Authorized failed: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if keys[0].AccountID != id || keys[0].Email != "alice@example.com" {
		t.Fatalf("unexpected key attribution: %+v", keys[0])
	}
	if keys[0].SSHOptions != "no-pty" {
		t.Fatalf("expected rendered no-pty option, got %q", keys[0].SSHOptions)
	}
}

func TestAuthorized_MostSpecificCommandWins(t *testing.T) {
	engine, store := newTestEngine(t)

	id := addAccountWithKey(t, store, "bob@example.com")
	// Catch-all rule with a generic command; exact rule with a specific one.
	addGroupPermission(t, store, "everything", id, "%", "%", `{"command":"generic"}`)
	addGroupPermission(t, store, "exact", id, "deploy", "web01", `{"command":"specific","no-pty":true}`)

	keys, err := engine.Authorized("deploy", "web01")
	if err != nil {
		t.Fatalf("Authorized failed: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if !strings.Contains(keys[0].SSHOptions, `command="specific"`) {
		t.Fatalf("expected the most specific command to win, got %q", keys[0].SSHOptions)
	}
	if !strings.Contains(keys[0].SSHOptions, "no-pty") {
		t.Fatalf("expected flags to survive the merge, got %q", keys[0].SSHOptions)
	}
}

func TestAuthorized_PerKeyOptionsTakePrecedence(t *testing.T) {
	engine, store := newTestEngine(t)

	account, err := store.CreateAccount("carol@example.com", "Carol", 0)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := store.AddPublicKey(account.ID, "ssh-ed25519 AAAAC3Nza carol", "", "SHA256:carol", `{"command":"key-command"}`); err != nil {
		t.Fatalf("AddPublicKey failed: %v", err)
	}
	addGroupPermission(t, store, "carol-group", account.ID, "%", "%", `{"command":"rule-command","no-pty":true}`)

	keys, err := engine.Authorized("deploy", "web01")
	if err != nil {
		t.Fatalf("Authorized failed: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if !strings.Contains(keys[0].SSHOptions, `command="key-command"`) {
		t.Fatalf("expected the per-key command to win, got %q", keys[0].SSHOptions)
	}
	if !strings.Contains(keys[0].SSHOptions, "no-pty") {
		t.Fatalf("expected rule flags to survive, got %q", keys[0].SSHOptions)
	}
}

func TestAuthorized_MalformedRuleOptionsDegrade(t *testing.T) {
	engine, store := newTestEngine(t)

	id := addAccountWithKey(t, store, "dave@example.com")
	addGroupPermission(t, store, "broken", id, "%", "%", "{malformed")

	keys, err := engine.Authorized("deploy", "web01")
	if err != nil {
		t.Fatalf("Authorized failed: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected the key to still be served, got %d keys", len(keys))
	}
	if keys[0].SSHOptions != "" {
		t.Fatalf("expected no options for malformed payload, got %q", keys[0].SSHOptions)
	}
}

func TestAuthorized_OrderedByAccountID(t *testing.T) {
	engine, store := newTestEngine(t)

	first := addAccountWithKey(t, store, "a@example.com")
	second := addAccountWithKey(t, store, "b@example.com")
	addGroupPermission(t, store, "grp-b", second, "%", "%", "")
	addGroupPermission(t, store, "grp-a", first, "%", "%", "")

	keys, err := engine.Authorized("deploy", "web01")
	if err != nil {
		t.Fatalf("Authorized failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if keys[0].AccountID != first || keys[1].AccountID != second {
		t.Fatalf("expected account id ascending order, got %d then %d", keys[0].AccountID, keys[1].AccountID)
	}
}
