// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

// Package api exposes the Keygate HTTP surface: the authorized_keys
// lookup endpoints consumed by sshd, the token distribution endpoint,
// and the admin CRUD surface.
package api

import (
	"encoding/json"
	"net/http"
)

// apiError is the uniform error envelope: a numeric status mirroring the
// HTTP status and a human-readable reason.
type apiError struct {
	Status int    `json:"status"`
	Reason string `json:"reason"`
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Status: status, Reason: reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
