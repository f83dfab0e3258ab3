// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/toeirei/keygate/internal/logging"
	"github.com/toeirei/keygate/internal/token"
)

// lookupHostnameFromAddr is swapped out in tests.
var lookupHostnameFromAddr = resolveCallerHostname

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleAuthorizedKeys serves the two-segment lookup: host and user are
// both taken from the path.
func (s *Server) handleAuthorizedKeys(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.serveAuthorizedKeys(w, r, ps.ByName("user"), ps.ByName("host"))
}

// handleAuthorizedKeysNoHost serves the one-segment lookup: the path
// carries only the user and the host is established by reverse DNS on
// the caller's address.
func (s *Server) handleAuthorizedKeysNoHost(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	host, err := lookupHostnameFromAddr(r.RemoteAddr)
	if err != nil {
		logging.Warnf("api: reverse lookup for %s failed: %v", r.RemoteAddr, err)
		writeError(w, http.StatusBadRequest, "unable to resolve caller hostname")
		return
	}
	// The shared path segment is named :host; here it holds the user.
	s.serveAuthorizedKeys(w, r, ps.ByName("host"), host)
}

func (s *Server) serveAuthorizedKeys(w http.ResponseWriter, r *http.Request, user, host string) {
	if user == "" || host == "" {
		writeError(w, http.StatusBadRequest, "user and host must not be empty")
		return
	}

	if wantsJSON(r) {
		// The structured rendering exposes account identities, so it
		// sits behind the admin tier even though the route itself is
		// reachable with an agent token.
		if s.tokens.Tier(extractBearerToken(r)) < token.TierAdmin {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		body, fromCache, err := s.cache.LookupJSON(user, host)
		if err != nil {
			logging.Errorf("api: lookup %s@%s failed: %v", user, host, err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-From-Cache", strconv.FormatBool(fromCache))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	text, fromCache, err := s.cache.LookupText(user, host)
	if err != nil {
		logging.Errorf("api: lookup %s@%s failed: %v", user, host, err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-From-Cache", strconv.FormatBool(fromCache))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// resolveCallerHostname maps the caller's remote address to a hostname
// via reverse DNS. PTR answers carry a trailing dot, which sshd host
// patterns never do, so it is stripped.
func resolveCallerHostname(remoteAddr string) (string, error) {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", &net.DNSError{Err: "no PTR record", Name: ip, IsNotFound: true}
	}
	return strings.TrimSuffix(names[0], "."), nil
}
