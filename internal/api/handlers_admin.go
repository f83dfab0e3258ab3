// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/toeirei/keygate/internal/authz"
	"github.com/toeirei/keygate/internal/db"
	"github.com/toeirei/keygate/internal/logging"
	"github.com/toeirei/keygate/internal/model"
	"github.com/toeirei/keygate/internal/sshkey"
)

func parseID(ps httprouter.Params, name string) (int64, error) {
	return strconv.ParseInt(ps.ByName(name), 10, 64)
}

// mapStoreError translates store errors into the API envelope.
func mapStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrDuplicate):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		logging.Errorf("api: store error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// validOptionsJSON reports whether raw is empty or a well-formed SSH
// options document. Stored permissions tolerate malformed options by
// degrading to nil at resolution time, but the write path rejects them
// outright.
func validOptionsJSON(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return true
	}
	var o authz.SSHOptions
	return json.Unmarshal([]byte(raw), &o) == nil
}

// --- accounts ---

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		ExpireAt int64  `json:"expire_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	account, err := s.store.CreateAccount(req.Email, strings.TrimSpace(req.Name), req.ExpireAt)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	s.invalidate()
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if email := strings.TrimSpace(r.URL.Query().Get("email")); email != "" {
		account, err := s.store.GetAccountByEmail(email)
		if err != nil {
			mapStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, []model.Account{*account})
		return
	}
	accounts, err := s.store.GetAllAccounts()
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := parseID(ps, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	account, err := s.store.GetAccount(id)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	keys, err := s.store.GetAccountKeys(id)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*model.Account
		Keys []model.PublicKey `json:"keys"`
	}{account, keys})
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var req struct {
		Active   *bool  `json:"active"`
		ExpireAt *int64 `json:"expire_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Active == nil && req.ExpireAt == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if req.Active != nil {
		if err := s.store.SetAccountActive(id, *req.Active); err != nil {
			mapStoreError(w, err)
			return
		}
	}
	if req.ExpireAt != nil {
		if err := s.store.SetAccountExpiry(id, *req.ExpireAt); err != nil {
			mapStoreError(w, err)
			return
		}
	}
	s.invalidate()
	account, err := s.store.GetAccount(id)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := parseID(ps, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if err := s.store.DeleteAccount(id); err != nil {
		mapStoreError(w, err)
		return
	}
	s.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddAccountKey(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var req struct {
		PublicKey  string `json:"public_key"`
		Signature  string `json:"signature"`
		SSHOptions string `json:"ssh_options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if s.requireSig && strings.TrimSpace(req.Signature) == "" {
		writeError(w, http.StatusBadRequest, "key signature is required")
		return
	}
	if !validOptionsJSON(req.SSHOptions) {
		writeError(w, http.StatusBadRequest, "malformed ssh options")
		return
	}
	line, fingerprint, err := sshkey.Normalize(req.PublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid public key")
		return
	}
	key, err := s.store.AddPublicKey(id, line, strings.TrimSpace(req.Signature), fingerprint, req.SSHOptions)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	s.invalidate()
	writeJSON(w, http.StatusCreated, key)
}

func (s *Server) handleDeleteAccountKey(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := parseID(ps, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	kid, err := parseID(ps, "kid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key id")
		return
	}
	if err := s.store.DeletePublicKey(id, kid); err != nil {
		mapStoreError(w, err)
		return
	}
	s.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// internalGroupFor resolves the account's shadow group, the carrier for
// permissions granted to the account directly.
func (s *Server) internalGroupFor(accountID int64) (*model.Group, error) {
	account, err := s.store.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	return s.store.GetGroupByName(account.Email)
}

func (s *Server) handleAddAccountPermission(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	group, err := s.internalGroupFor(id)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	s.addPermission(w, r, group.ID)
}

func (s *Server) handleDeleteAccountPermission(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := parseID(ps, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	pid, err := parseID(ps, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid permission id")
		return
	}
	group, err := s.internalGroupFor(id)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	if err := s.store.DeletePermission(group.ID, pid); err != nil {
		mapStoreError(w, err)
		return
	}
	s.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// --- groups ---

// namedGroup loads the group at :id and rejects internal shadow groups,
// which are managed exclusively through their account.
func (s *Server) namedGroup(w http.ResponseWriter, ps httprouter.Params) (*model.Group, bool) {
	id, err := parseID(ps, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return nil, false
	}
	group, err := s.store.GetGroup(id)
	if err != nil {
		mapStoreError(w, err)
		return nil, false
	}
	if group.IsInternal {
		writeError(w, http.StatusBadRequest, "internal groups are managed through their account")
		return nil, false
	}
	return group, true
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "a group name is required")
		return
	}
	group, err := s.store.CreateGroup(req.Name)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	s.invalidate()
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	groups, err := s.store.GetAllGroups()
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := parseID(ps, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	group, err := s.store.GetGroup(id)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	members, err := s.store.GetGroupAccounts(id)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	perms, err := s.store.GetGroupPermissions(id)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*model.Group
		Accounts    []model.Account    `json:"accounts"`
		Permissions []model.Permission `json:"permissions"`
	}{group, members, perms})
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	group, ok := s.namedGroup(w, ps)
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if err := s.store.SetGroupActive(group.ID, *req.Active); err != nil {
		mapStoreError(w, err)
		return
	}
	s.invalidate()
	updated, err := s.store.GetGroup(group.ID)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	group, ok := s.namedGroup(w, ps)
	if !ok {
		return
	}
	if err := s.store.DeleteGroup(group.ID); err != nil {
		mapStoreError(w, err)
		return
	}
	s.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddGroupAccount(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	group, ok := s.namedGroup(w, ps)
	if !ok {
		return
	}
	aid, err := parseID(ps, "aid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if _, err := s.store.GetAccount(aid); err != nil {
		mapStoreError(w, err)
		return
	}
	if err := s.store.AddGroupAccount(group.ID, aid); err != nil {
		mapStoreError(w, err)
		return
	}
	s.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveGroupAccount(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	group, ok := s.namedGroup(w, ps)
	if !ok {
		return
	}
	aid, err := parseID(ps, "aid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if err := s.store.RemoveGroupAccount(group.ID, aid); err != nil {
		mapStoreError(w, err)
		return
	}
	s.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddGroupPermission(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	group, ok := s.namedGroup(w, ps)
	if !ok {
		return
	}
	s.addPermission(w, r, group.ID)
}

func (s *Server) handleDeleteGroupPermission(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	group, ok := s.namedGroup(w, ps)
	if !ok {
		return
	}
	pid, err := parseID(ps, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid permission id")
		return
	}
	if err := s.store.DeletePermission(group.ID, pid); err != nil {
		mapStoreError(w, err)
		return
	}
	s.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addPermission(w http.ResponseWriter, r *http.Request, groupID int64) {
	var req struct {
		User       string `json:"user"`
		Host       string `json:"host"`
		SSHOptions string `json:"ssh_options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req.User = strings.TrimSpace(req.User)
	req.Host = strings.TrimSpace(req.Host)
	if req.User == "" || req.Host == "" {
		writeError(w, http.StatusBadRequest, "user and host patterns are required")
		return
	}
	if !validOptionsJSON(req.SSHOptions) {
		writeError(w, http.StatusBadRequest, "malformed ssh options")
		return
	}
	perm, err := s.store.AddPermission(groupID, req.User, req.Host, req.SSHOptions)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	s.invalidate()
	writeJSON(w, http.StatusCreated, perm)
}
