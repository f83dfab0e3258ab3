// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/toeirei/keygate/internal/token"
)

// extractBearerToken extracts the bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// requireTier gates a handler behind a token tier. The core token is
// not a super-admin credential: it authorizes the token-push endpoint
// and nothing else, so core-gated routes accept only the core token and
// every other route rejects it. The rejection never reveals which tier,
// if any, the presented token belonged to.
func (s *Server) requireTier(min token.Tier, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		t := extractBearerToken(r)
		if t == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}
		tier := s.tokens.Tier(t)
		if min == token.TierCore {
			if tier != token.TierCore {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
		} else if tier < min || tier == token.TierCore {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, ps)
	}
}
