// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/toeirei/keygate/internal/model"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	dsn := "file:test_" + t.Name() + "?mode=memory&cache=shared"
	store, err := New("sqlite", dsn)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAccount_CreatesInternalGroup(t *testing.T) {
	store := newTestStore(t)

	account, err := store.CreateAccount("alice@example.com", "Alice", 0)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if account.ID == 0 {
		t.Fatalf("expected a non-zero account id")
	}
	if !account.Active {
		t.Fatalf("expected new account to be active")
	}

	group, err := store.GetGroupByName("alice@example.com")
	if err != nil {
		t.Fatalf("expected internal group to exist: %v", err)
	}
	if !group.IsInternal {
		t.Fatalf("expected group %q to be internal", group.Name)
	}

	members, err := store.GetGroupAccounts(group.ID)
	if err != nil {
		t.Fatalf("GetGroupAccounts failed: %v", err)
	}
	if len(members) != 1 || members[0].ID != account.ID {
		t.Fatalf("expected the account to be the sole member of its internal group, got %v", members)
	}
}

func TestCreateAccount_DuplicateEmail(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.CreateAccount("bob@example.com", "Bob", 0); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	_, err := store.CreateAccount("bob@example.com", "Robert", 0)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestDeleteAccount_RemovesInternalGroupAndKeys(t *testing.T) {
	store := newTestStore(t)

	account, err := store.CreateAccount("carol@example.com", "Carol", 0)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := store.AddPublicKey(account.ID, "ssh-ed25519 AAAAC3Nza carol", "", "SHA256:abc", ""); err != nil {
		t.Fatalf("AddPublicKey failed: %v", err)
	}

	if err := store.DeleteAccount(account.ID); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	if _, err := store.GetAccount(account.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected account to be gone, got %v", err)
	}
	if _, err := store.GetGroupByName("carol@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected internal group to be gone, got %v", err)
	}
}

func TestDeleteAccount_RemovesInternalGroupPermissions(t *testing.T) {
	store := newTestStore(t)

	account, err := store.CreateAccount("dave@example.com", "Dave", 0)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	internal, err := store.GetGroupByName("dave@example.com")
	if err != nil {
		t.Fatalf("GetGroupByName failed: %v", err)
	}
	if _, err := store.AddPermission(internal.ID, "deploy", "web%", ""); err != nil {
		t.Fatalf("AddPermission failed: %v", err)
	}

	if err := store.DeleteAccount(account.ID); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}

	// No permission row may survive without an account behind it.
	data, err := store.ExportAll()
	if err != nil {
		t.Fatalf("ExportAll failed: %v", err)
	}
	if len(data.Permissions) != 0 {
		t.Fatalf("expected no permissions to remain, got %+v", data.Permissions)
	}
}

func TestDeleteAccount_NotFound(t *testing.T) {
	store := newTestStore(t)

	if err := store.DeleteAccount(9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGroupMembershipRoundTrip(t *testing.T) {
	store := newTestStore(t)

	account, err := store.CreateAccount("dave@example.com", "Dave", 0)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	group, err := store.CreateGroup("ops")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if group.IsInternal {
		t.Fatalf("expected a named group, not an internal one")
	}

	if err := store.AddGroupAccount(group.ID, account.ID); err != nil {
		t.Fatalf("AddGroupAccount failed: %v", err)
	}
	if err := store.AddGroupAccount(group.ID, account.ID); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate membership to fail, got %v", err)
	}

	members, err := store.GetGroupAccounts(group.ID)
	if err != nil {
		t.Fatalf("GetGroupAccounts failed: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}

	if err := store.RemoveGroupAccount(group.ID, account.ID); err != nil {
		t.Fatalf("RemoveGroupAccount failed: %v", err)
	}
	if err := store.RemoveGroupAccount(group.ID, account.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected removing absent membership to fail, got %v", err)
	}
}

// seedMatchFixture creates one account with a key, a group membership and
// a permission so GetMatchingRules has something to find.
func seedMatchFixture(t *testing.T, store Store, email, userPattern, hostPattern string) int64 {
	t.Helper()
	account, err := store.CreateAccount(email, email, 0)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := store.AddPublicKey(account.ID, "ssh-ed25519 AAAAC3Nza "+email, "", "SHA256:"+email, ""); err != nil {
		t.Fatalf("AddPublicKey failed: %v", err)
	}
	group, err := store.CreateGroup("grp-" + email)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if err := store.AddGroupAccount(group.ID, account.ID); err != nil {
		t.Fatalf("AddGroupAccount failed: %v", err)
	}
	if _, err := store.AddPermission(group.ID, userPattern, hostPattern, ""); err != nil {
		t.Fatalf("AddPermission failed: %v", err)
	}
	return account.ID
}

func TestGetMatchingRules_PatternsAndOrdering(t *testing.T) {
	store := newTestStore(t)

	first := seedMatchFixture(t, store, "a@example.com", "%", "%")
	second := seedMatchFixture(t, store, "b@example.com", "deploy", "web%")
	seedMatchFixture(t, store, "c@example.com", "root", "db%")

	rules, err := store.GetMatchingRules("deploy", "web01")
	if err != nil {
		t.Fatalf("GetMatchingRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 matching rules, got %d", len(rules))
	}
	if rules[0].Account.ID != first || rules[1].Account.ID != second {
		t.Fatalf("expected account id ascending order, got %d then %d", rules[0].Account.ID, rules[1].Account.ID)
	}
}

func TestGetMatchingRules_SkipsInactiveAndExpired(t *testing.T) {
	store := newTestStore(t)

	inactive := seedMatchFixture(t, store, "inactive@example.com", "%", "%")
	if err := store.SetAccountActive(inactive, false); err != nil {
		t.Fatalf("SetAccountActive failed: %v", err)
	}

	expired := seedMatchFixture(t, store, "expired@example.com", "%", "%")
	if err := store.SetAccountExpiry(expired, 1); err != nil {
		t.Fatalf("SetAccountExpiry failed: %v", err)
	}

	live := seedMatchFixture(t, store, "live@example.com", "%", "%")

	rules, err := store.GetMatchingRules("deploy", "web01")
	if err != nil {
		t.Fatalf("GetMatchingRules failed: %v", err)
	}
	if len(rules) != 1 || rules[0].Account.ID != live {
		t.Fatalf("expected only the live account to match, got %v", rules)
	}
}

func TestGetMatchingRules_SkipsInactiveGroup(t *testing.T) {
	store := newTestStore(t)

	id := seedMatchFixture(t, store, "grouped@example.com", "%", "%")
	group, err := store.GetGroupByName("grp-grouped@example.com")
	if err != nil {
		t.Fatalf("GetGroupByName failed: %v", err)
	}
	if err := store.SetGroupActive(group.ID, false); err != nil {
		t.Fatalf("SetGroupActive failed: %v", err)
	}

	rules, err := store.GetMatchingRules("deploy", "web01")
	if err != nil {
		t.Fatalf("GetMatchingRules failed: %v", err)
	}
	for _, r := range rules {
		if r.Account.ID == id {
			t.Fatalf("expected no rules through the deactivated group")
		}
	}
}

func TestReplaceAndLoadTokens(t *testing.T) {
	store := newTestStore(t)

	tokens, err := store.LoadTokens()
	if err != nil {
		t.Fatalf("LoadTokens failed: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("expected empty token table, got %d rows", len(tokens))
	}

	if err := store.ReplaceTokens([]model.AuthToken{
		{Token: "tok-admin-1", Assignee: "alice", Type: model.TokenTypeAdmin},
		{Token: "tok-agent-1", Type: model.TokenTypeAgent},
	}); err != nil {
		t.Fatalf("ReplaceTokens failed: %v", err)
	}
	tokens, err = store.LoadTokens()
	if err != nil {
		t.Fatalf("LoadTokens failed: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}

	// A second replace swaps the whole set.
	if err := store.ReplaceTokens([]model.AuthToken{
		{Token: "tok-admin-2", Assignee: "bob", Type: model.TokenTypeAdmin},
		{Token: "tok-agent-2", Type: model.TokenTypeAgent},
	}); err != nil {
		t.Fatalf("ReplaceTokens failed: %v", err)
	}
	tokens, err = store.LoadTokens()
	if err != nil {
		t.Fatalf("LoadTokens failed: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens after replace, got %d", len(tokens))
	}
	for _, tok := range tokens {
		if tok.Token == "tok-admin-1" || tok.Token == "tok-agent-1" {
			t.Fatalf("expected old token %q to be gone", tok.Token)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	source := newTestStore(t)
	seedMatchFixture(t, source, "export@example.com", "deploy", "web%")

	data, err := source.ExportAll()
	if err != nil {
		t.Fatalf("ExportAll failed: %v", err)
	}
	if len(data.Accounts) != 1 || len(data.Permissions) != 1 || len(data.PublicKeys) != 1 {
		t.Fatalf("unexpected export shape: %+v", data)
	}

	target := newTestStore(t)
	if err := target.ImportAll(data); err != nil {
		t.Fatalf("ImportAll failed: %v", err)
	}

	rules, err := target.GetMatchingRules("deploy", "web01")
	if err != nil {
		t.Fatalf("GetMatchingRules on restored store failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected the restored permission to match, got %d rules", len(rules))
	}
}
