// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"

	"github.com/toeirei/keygate/internal/model"
	"github.com/uptrace/bun"
)

// ExportAll dumps every table into a BackupData snapshot. Used by the
// backup CLI command; the caller is responsible for serialization.
func (s *bunStore) ExportAll() (*model.BackupData, error) {
	ctx := context.Background()
	out := &model.BackupData{}

	var accounts []AccountModel
	if err := s.bun.NewSelect().Model(&accounts).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	for _, a := range accounts {
		out.Accounts = append(out.Accounts, accountModelToModel(a))
	}

	var groups []GroupModel
	if err := s.bun.NewSelect().Model(&groups).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	for _, g := range groups {
		out.Groups = append(out.Groups, groupModelToModel(g))
	}

	var edges []GroupAccountModel
	if err := s.bun.NewSelect().Model(&edges).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	for _, e := range edges {
		out.GroupAccounts = append(out.GroupAccounts, model.GroupAccount{GroupID: e.GroupID, AccountID: e.AccountID})
	}

	var keys []PublicKeyModel
	if err := s.bun.NewSelect().Model(&keys).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	for _, k := range keys {
		out.PublicKeys = append(out.PublicKeys, publicKeyModelToModel(k))
	}

	var perms []PermissionModel
	if err := s.bun.NewSelect().Model(&perms).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	for _, p := range perms {
		out.Permissions = append(out.Permissions, permissionModelToModel(p))
	}

	tokens, err := s.LoadTokens()
	if err != nil {
		return nil, err
	}
	out.AuthTokens = tokens

	return out, nil
}

// ImportAll replaces the entire database content with the snapshot, in a
// single transaction. Row ids are preserved so that membership edges and
// key ownership stay intact.
func (s *bunStore) ImportAll(data *model.BackupData) error {
	ctx := context.Background()
	now := nowMillis()

	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, m := range []any{
			(*PermissionModel)(nil), (*PublicKeyModel)(nil), (*GroupAccountModel)(nil),
			(*GroupModel)(nil), (*AccountModel)(nil), (*AuthTokenModel)(nil),
		} {
			if _, err := tx.NewDelete().Model(m).Where("1 = 1").Exec(ctx); err != nil {
				return err
			}
		}

		for _, a := range data.Accounts {
			row := AccountModel{ID: a.ID, Email: a.Email, Name: a.Name, Active: boolToInt(a.Active),
				ExpireAt: a.ExpireAt, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt}
			if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
				return MapDBError(err)
			}
		}
		for _, g := range data.Groups {
			row := GroupModel{ID: g.ID, Name: g.Name, Active: boolToInt(g.Active),
				IsInternal: boolToInt(g.IsInternal), CreatedAt: g.CreatedAt, UpdatedAt: g.UpdatedAt}
			if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
				return MapDBError(err)
			}
		}
		for _, e := range data.GroupAccounts {
			row := GroupAccountModel{GroupID: e.GroupID, AccountID: e.AccountID, CreatedAt: now}
			if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
				return MapDBError(err)
			}
		}
		for _, k := range data.PublicKeys {
			row := PublicKeyModel{ID: k.ID, AccountID: k.AccountID, PublicKey: k.PublicKey,
				PublicKeySig: nullString(k.PublicKeySig), Fingerprint: nullString(k.Fingerprint),
				SSHOptions: nullString(k.SSHOptions), CreatedAt: k.CreatedAt}
			if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
				return MapDBError(err)
			}
		}
		for _, p := range data.Permissions {
			row := PermissionModel{ID: p.ID, GroupID: p.GroupID, UserPattern: p.UserPattern,
				HostPattern: p.HostPattern, SSHOptions: nullString(p.SSHOptions), CreatedAt: p.CreatedAt}
			if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
				return MapDBError(err)
			}
		}
		for _, t := range data.AuthTokens {
			row := AuthTokenModel{Token: t.Token, Assignee: t.Assignee, Type: t.Type, CreatedAt: t.CreatedAt}
			if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
				return MapDBError(err)
			}
		}
		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
