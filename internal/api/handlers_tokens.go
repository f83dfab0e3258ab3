// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/toeirei/keygate/internal/logging"
	"github.com/toeirei/keygate/internal/token"
)

// handleTokenPush replaces the node's full token set. Only the core
// token may call it. The new set is persisted, loaded into the local
// authority immediately, and announced on the cluster bus so peers
// reload theirs.
func (s *Server) handleTokenPush(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var payload token.PushPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed token payload")
		return
	}

	set, err := token.BuildTokenSet(&payload)
	if err != nil {
		if errors.Is(err, token.ErrEmptyPush) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "malformed token payload")
		return
	}

	if err := s.store.ReplaceTokens(set); err != nil {
		logging.Errorf("api: token replace failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to store tokens")
		return
	}

	// The local node reloads unconditionally; the bus only reaches the
	// other nodes and may not even be configured.
	if err := s.tokens.Reload(s.store); err != nil {
		logging.Errorf("api: token reload failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to reload tokens")
		return
	}

	if s.bus != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.bus.Publish(ctx); err != nil {
			logging.Warnf("api: token flush publish failed: %v", err)
		}
	}

	logging.Infof("api: token set replaced (%d tokens)", len(set))
	w.WriteHeader(http.StatusNoContent)
}
