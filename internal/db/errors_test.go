// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestMapDBError(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{nil, nil},
		{sql.ErrNoRows, ErrNotFound},
		{errors.New("UNIQUE constraint failed: accounts.email"), ErrDuplicate},
		{errors.New("Error 1062: Duplicate entry 'x' for key 'email'"), ErrDuplicate},
		{errors.New(`duplicate key value violates unique constraint (SQLSTATE 23505)`), ErrDuplicate},
	}
	for _, c := range cases {
		if got := MapDBError(c.in); !errors.Is(got, c.want) && got != c.want {
			t.Fatalf("MapDBError(%v): got %v, want %v", c.in, got, c.want)
		}
	}

	// Unrelated errors pass through unchanged.
	plain := fmt.Errorf("disk I/O error")
	if got := MapDBError(plain); got != plain {
		t.Fatalf("expected pass-through, got %v", got)
	}
}
