// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/toeirei/keygate/internal/model"
	"github.com/uptrace/bun"
)

// AccountModel maps the `accounts` table for Bun queries.
type AccountModel struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`
	ID            int64  `bun:"id,pk,autoincrement"`
	Email         string `bun:"email"`
	Name          string `bun:"name"`
	Active        int    `bun:"active"`
	ExpireAt      int64  `bun:"expire_at"`
	CreatedAt     int64  `bun:"created_at"`
	UpdatedAt     int64  `bun:"updated_at"`
}

// GroupModel maps the `groups` table.
type GroupModel struct {
	bun.BaseModel `bun:"table:groups,alias:g"`
	ID            int64  `bun:"id,pk,autoincrement"`
	Name          string `bun:"name"`
	Active        int    `bun:"active"`
	IsInternal    int    `bun:"is_internal"`
	CreatedAt     int64  `bun:"created_at"`
	UpdatedAt     int64  `bun:"updated_at"`
}

// GroupAccountModel maps the membership edge table.
type GroupAccountModel struct {
	bun.BaseModel `bun:"table:group_accounts,alias:ga"`
	ID            int64 `bun:"id,pk,autoincrement"`
	GroupID       int64 `bun:"group_id"`
	AccountID     int64 `bun:"account_id"`
	CreatedAt     int64 `bun:"created_at"`
}

// PublicKeyModel maps the `public_keys` table.
type PublicKeyModel struct {
	bun.BaseModel `bun:"table:public_keys,alias:pk"`
	ID            int64          `bun:"id,pk,autoincrement"`
	AccountID     int64          `bun:"account_id"`
	PublicKey     string         `bun:"public_key"`
	PublicKeySig  sql.NullString `bun:"public_key_sig"`
	Fingerprint   sql.NullString `bun:"fingerprint"`
	SSHOptions    sql.NullString `bun:"ssh_options"`
	CreatedAt     int64          `bun:"created_at"`
}

// PermissionModel maps the `permissions` table.
type PermissionModel struct {
	bun.BaseModel `bun:"table:permissions,alias:p"`
	ID            int64          `bun:"id,pk,autoincrement"`
	GroupID       int64          `bun:"group_id"`
	UserPattern   string         `bun:"user_pattern"`
	HostPattern   string         `bun:"host_pattern"`
	SSHOptions    sql.NullString `bun:"ssh_options"`
	CreatedAt     int64          `bun:"created_at"`
}

// AuthTokenModel maps the `auth_tokens` table.
type AuthTokenModel struct {
	bun.BaseModel `bun:"table:auth_tokens,alias:t"`
	Token         string `bun:"token,pk"`
	Assignee      string `bun:"assignee"`
	Type          string `bun:"type"`
	CreatedAt     int64  `bun:"created_at"`
}

// --- Mapping helpers (centralized conversions) ---

func accountModelToModel(a AccountModel) model.Account {
	return model.Account{
		ID:        a.ID,
		Email:     a.Email,
		Name:      a.Name,
		Active:    a.Active != 0,
		ExpireAt:  a.ExpireAt,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func groupModelToModel(g GroupModel) model.Group {
	return model.Group{
		ID:         g.ID,
		Name:       g.Name,
		Active:     g.Active != 0,
		IsInternal: g.IsInternal != 0,
		CreatedAt:  g.CreatedAt,
		UpdatedAt:  g.UpdatedAt,
	}
}

func publicKeyModelToModel(k PublicKeyModel) model.PublicKey {
	return model.PublicKey{
		ID:           k.ID,
		AccountID:    k.AccountID,
		PublicKey:    k.PublicKey,
		PublicKeySig: k.PublicKeySig.String,
		Fingerprint:  k.Fingerprint.String,
		SSHOptions:   k.SSHOptions.String,
		CreatedAt:    k.CreatedAt,
	}
}

func permissionModelToModel(p PermissionModel) model.Permission {
	return model.Permission{
		ID:          p.ID,
		GroupID:     p.GroupID,
		UserPattern: p.UserPattern,
		HostPattern: p.HostPattern,
		SSHOptions:  p.SSHOptions.String,
		CreatedAt:   p.CreatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nowMillis is the single clock used for audit timestamps and expiry
// checks; overridable in tests.
var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}

// bunStore is the bun-backed implementation of Store, shared by all
// three database engines (the dialect is fixed at construction).
type bunStore struct {
	bun *bun.DB
}

var _ Store = (*bunStore)(nil)

func (s *bunStore) Close() error {
	return s.bun.Close()
}

// --- Accounts ---

func (s *bunStore) CreateAccount(email, name string, expireAt int64) (*model.Account, error) {
	ctx := context.Background()
	now := nowMillis()

	acc := AccountModel{Email: email, Name: name, Active: 1, ExpireAt: expireAt, CreatedAt: now, UpdatedAt: now}
	err := s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&acc).Exec(ctx); err != nil {
			return MapDBError(err)
		}
		// Every account owns a same-named internal group that scopes its
		// direct permissions.
		grp := GroupModel{Name: email, Active: 1, IsInternal: 1, CreatedAt: now, UpdatedAt: now}
		if _, err := tx.NewInsert().Model(&grp).Exec(ctx); err != nil {
			return MapDBError(err)
		}
		edge := GroupAccountModel{GroupID: grp.ID, AccountID: acc.ID, CreatedAt: now}
		if _, err := tx.NewInsert().Model(&edge).Exec(ctx); err != nil {
			return MapDBError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m := accountModelToModel(acc)
	return &m, nil
}

func (s *bunStore) GetAccount(id int64) (*model.Account, error) {
	ctx := context.Background()
	var a AccountModel
	err := s.bun.NewSelect().Model(&a).Where("id = ?", id).Limit(1).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m := accountModelToModel(a)
	return &m, nil
}

func (s *bunStore) GetAccountByEmail(email string) (*model.Account, error) {
	ctx := context.Background()
	var a AccountModel
	err := s.bun.NewSelect().Model(&a).Where("email = ?", email).Limit(1).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m := accountModelToModel(a)
	return &m, nil
}

func (s *bunStore) GetAllAccounts() ([]model.Account, error) {
	ctx := context.Background()
	var rows []AccountModel
	if err := s.bun.NewSelect().Model(&rows).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, accountModelToModel(r))
	}
	return out, nil
}

func (s *bunStore) DeleteAccount(id int64) error {
	ctx := context.Background()

	var a AccountModel
	err := s.bun.NewSelect().Model(&a).Where("id = ?", id).Limit(1).Scan(ctx)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// The internal group carries the account's email as its name.
		// Its permission rows go with it, otherwise they would dangle
		// with no account to resolve to.
		var g GroupModel
		err := tx.NewSelect().Model(&g).
			Where("name = ?", a.Email).Where("is_internal = 1").Limit(1).Scan(ctx)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil {
			if _, err := tx.NewDelete().Model((*PermissionModel)(nil)).
				Where("group_id = ?", g.ID).Exec(ctx); err != nil {
				return err
			}
			if _, err := tx.NewDelete().Model((*GroupModel)(nil)).
				Where("id = ?", g.ID).Exec(ctx); err != nil {
				return err
			}
		}
		if _, err := tx.NewDelete().Model((*GroupAccountModel)(nil)).
			Where("account_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*PublicKeyModel)(nil)).
			Where("account_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		_, err = tx.NewDelete().Model((*AccountModel)(nil)).Where("id = ?", id).Exec(ctx)
		return err
	})
}

func (s *bunStore) SetAccountActive(id int64, active bool) error {
	ctx := context.Background()
	val := 0
	if active {
		val = 1
	}
	res, err := s.bun.NewUpdate().Model((*AccountModel)(nil)).
		Set("active = ?", val).Set("updated_at = ?", nowMillis()).
		Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *bunStore) SetAccountExpiry(id int64, expireAt int64) error {
	ctx := context.Background()
	res, err := s.bun.NewUpdate().Model((*AccountModel)(nil)).
		Set("expire_at = ?", expireAt).Set("updated_at = ?", nowMillis()).
		Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// --- Groups ---

func (s *bunStore) CreateGroup(name string) (*model.Group, error) {
	ctx := context.Background()
	now := nowMillis()
	g := GroupModel{Name: name, Active: 1, CreatedAt: now, UpdatedAt: now}
	if _, err := s.bun.NewInsert().Model(&g).Exec(ctx); err != nil {
		return nil, MapDBError(err)
	}
	m := groupModelToModel(g)
	return &m, nil
}

func (s *bunStore) GetGroup(id int64) (*model.Group, error) {
	ctx := context.Background()
	var g GroupModel
	err := s.bun.NewSelect().Model(&g).Where("id = ?", id).Limit(1).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m := groupModelToModel(g)
	return &m, nil
}

func (s *bunStore) GetGroupByName(name string) (*model.Group, error) {
	ctx := context.Background()
	var g GroupModel
	err := s.bun.NewSelect().Model(&g).Where("name = ?", name).Limit(1).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m := groupModelToModel(g)
	return &m, nil
}

func (s *bunStore) GetAllGroups() ([]model.Group, error) {
	ctx := context.Background()
	var rows []GroupModel
	if err := s.bun.NewSelect().Model(&rows).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Group, 0, len(rows))
	for _, r := range rows {
		out = append(out, groupModelToModel(r))
	}
	return out, nil
}

func (s *bunStore) DeleteGroup(id int64) error {
	ctx := context.Background()
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*PermissionModel)(nil)).
			Where("group_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*GroupAccountModel)(nil)).
			Where("group_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewDelete().Model((*GroupModel)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
}

func (s *bunStore) SetGroupActive(id int64, active bool) error {
	ctx := context.Background()
	val := 0
	if active {
		val = 1
	}
	res, err := s.bun.NewUpdate().Model((*GroupModel)(nil)).
		Set("active = ?", val).Set("updated_at = ?", nowMillis()).
		Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *bunStore) AddGroupAccount(groupID, accountID int64) error {
	ctx := context.Background()
	now := nowMillis()
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		edge := GroupAccountModel{GroupID: groupID, AccountID: accountID, CreatedAt: now}
		if _, err := tx.NewInsert().Model(&edge).Exec(ctx); err != nil {
			return MapDBError(err)
		}
		return touchGroup(ctx, tx, groupID, now)
	})
}

func (s *bunStore) RemoveGroupAccount(groupID, accountID int64) error {
	ctx := context.Background()
	now := nowMillis()
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*GroupAccountModel)(nil)).
			Where("group_id = ?", groupID).Where("account_id = ?", accountID).Exec(ctx)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		return touchGroup(ctx, tx, groupID, now)
	})
}

// touchGroup bumps the group's updated_at, a coarse version marker for
// future fine-grained invalidation.
func touchGroup(ctx context.Context, tx bun.Tx, groupID int64, now int64) error {
	_, err := tx.NewUpdate().Model((*GroupModel)(nil)).
		Set("updated_at = ?", now).Where("id = ?", groupID).Exec(ctx)
	return err
}

func (s *bunStore) GetGroupAccounts(groupID int64) ([]model.Account, error) {
	ctx := context.Background()
	var rows []AccountModel
	err := s.bun.NewSelect().Model(&rows).
		Join("JOIN group_accounts AS ga ON ga.account_id = a.id").
		Where("ga.group_id = ?", groupID).
		Order("a.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, accountModelToModel(r))
	}
	return out, nil
}

// --- Public keys ---

func (s *bunStore) AddPublicKey(accountID int64, publicKey, signature, fingerprint, sshOptions string) (*model.PublicKey, error) {
	ctx := context.Background()
	k := PublicKeyModel{
		AccountID:    accountID,
		PublicKey:    publicKey,
		PublicKeySig: nullString(signature),
		Fingerprint:  nullString(fingerprint),
		SSHOptions:   nullString(sshOptions),
		CreatedAt:    nowMillis(),
	}
	if _, err := s.bun.NewInsert().Model(&k).Exec(ctx); err != nil {
		return nil, MapDBError(err)
	}
	m := publicKeyModelToModel(k)
	return &m, nil
}

func (s *bunStore) GetAccountKeys(accountID int64) ([]model.PublicKey, error) {
	ctx := context.Background()
	var rows []PublicKeyModel
	err := s.bun.NewSelect().Model(&rows).
		Where("account_id = ?", accountID).Order("id ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.PublicKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, publicKeyModelToModel(r))
	}
	return out, nil
}

func (s *bunStore) DeletePublicKey(accountID, keyID int64) error {
	ctx := context.Background()
	res, err := s.bun.NewDelete().Model((*PublicKeyModel)(nil)).
		Where("id = ?", keyID).Where("account_id = ?", accountID).Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// --- Permissions ---

func (s *bunStore) AddPermission(groupID int64, userPattern, hostPattern, sshOptions string) (*model.Permission, error) {
	ctx := context.Background()
	p := PermissionModel{
		GroupID:     groupID,
		UserPattern: userPattern,
		HostPattern: hostPattern,
		SSHOptions:  nullString(sshOptions),
		CreatedAt:   nowMillis(),
	}
	if _, err := s.bun.NewInsert().Model(&p).Exec(ctx); err != nil {
		return nil, MapDBError(err)
	}
	m := permissionModelToModel(p)
	return &m, nil
}

func (s *bunStore) DeletePermission(groupID, permissionID int64) error {
	ctx := context.Background()
	res, err := s.bun.NewDelete().Model((*PermissionModel)(nil)).
		Where("id = ?", permissionID).Where("group_id = ?", groupID).Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *bunStore) GetGroupPermissions(groupID int64) ([]model.Permission, error) {
	ctx := context.Background()
	var rows []PermissionModel
	err := s.bun.NewSelect().Model(&rows).
		Where("group_id = ?", groupID).Order("id ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Permission, 0, len(rows))
	for _, r := range rows {
		out = append(out, permissionModelToModel(r))
	}
	return out, nil
}

// matchedRow is the scan target for the resolution join.
type matchedRow struct {
	AccountID    int64          `bun:"account_id"`
	Email        string         `bun:"email"`
	Name         string         `bun:"name"`
	ExpireAt     int64          `bun:"expire_at"`
	PermissionID int64          `bun:"permission_id"`
	GroupID      int64          `bun:"group_id"`
	UserPattern  string         `bun:"user_pattern"`
	HostPattern  string         `bun:"host_pattern"`
	SSHOptions   sql.NullString `bun:"ssh_options"`
}

func (s *bunStore) GetMatchingRules(user, host string) ([]MatchedRule, error) {
	ctx := context.Background()
	var rows []matchedRow

	// The stored pattern sits on the right-hand side of LIKE: the request
	// is the literal, the rule is the wildcard expression. `groups` is a
	// reserved word on MySQL, hence the bun.Ident.
	err := s.bun.NewSelect().
		ColumnExpr("a.id AS account_id, a.email, a.name, a.expire_at").
		ColumnExpr("p.id AS permission_id, p.group_id, p.user_pattern, p.host_pattern, p.ssh_options").
		TableExpr("permissions AS p").
		Join("JOIN ? AS g ON g.id = p.group_id AND g.active = 1", bun.Ident("groups")).
		Join("JOIN group_accounts AS ga ON ga.group_id = g.id").
		Join("JOIN accounts AS a ON a.id = ga.account_id AND a.active = 1").
		Where("? LIKE p.host_pattern", host).
		Where("? LIKE p.user_pattern", user).
		Where("a.expire_at = 0 OR a.expire_at > ?", nowMillis()).
		OrderExpr("a.id ASC, p.id ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	out := make([]MatchedRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, MatchedRule{
			Account: model.Account{
				ID:       r.AccountID,
				Email:    r.Email,
				Name:     r.Name,
				Active:   true,
				ExpireAt: r.ExpireAt,
			},
			Permission: model.Permission{
				ID:          r.PermissionID,
				GroupID:     r.GroupID,
				UserPattern: r.UserPattern,
				HostPattern: r.HostPattern,
				SSHOptions:  r.SSHOptions.String,
			},
		})
	}
	return out, nil
}

// --- Tokens ---

func (s *bunStore) ReplaceTokens(tokens []model.AuthToken) error {
	ctx := context.Background()
	now := nowMillis()
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*AuthTokenModel)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return err
		}
		for _, t := range tokens {
			row := AuthTokenModel{Token: t.Token, Assignee: t.Assignee, Type: t.Type, CreatedAt: now}
			if t.CreatedAt != 0 {
				row.CreatedAt = t.CreatedAt
			}
			if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
				return MapDBError(err)
			}
		}
		return nil
	})
}

func (s *bunStore) LoadTokens() ([]model.AuthToken, error) {
	ctx := context.Background()
	var rows []AuthTokenModel
	if err := s.bun.NewSelect().Model(&rows).Order("token ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuthToken, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AuthToken{Token: r.Token, Assignee: r.Assignee, Type: r.Type, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows; treat as success.
		return nil
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
