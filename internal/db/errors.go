// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"errors"
	"strings"
)

// ErrDuplicate is returned when an insert collides with a unique
// constraint (account email, group name, membership edge, token).
var ErrDuplicate = errors.New("duplicate record")

// ErrNotFound is returned when a requested record does not exist, or a
// targeted update/delete affected no rows.
var ErrNotFound = errors.New("record not found")

// MapDBError folds driver-specific failures into the package sentinels
// so callers can branch on errors.Is without importing any driver. The
// unique-violation check is string-based on purpose: sqlite, mysql and
// postgres each report constraint collisions through a different error
// type, but all three mention the constraint in the message
// ("UNIQUE constraint failed", error 1062, SQLSTATE 23505).
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"duplicate", "unique", "23505", "1062"} {
		if strings.Contains(msg, marker) {
			return ErrDuplicate
		}
	}
	return err
}
