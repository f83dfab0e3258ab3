// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/toeirei/keygate/internal/cache"
	"github.com/toeirei/keygate/internal/cluster"
	"github.com/toeirei/keygate/internal/db"
	"github.com/toeirei/keygate/internal/logging"
	"github.com/toeirei/keygate/internal/token"
)

// ServerConfig carries everything the HTTP surface depends on. All
// collaborators are constructed once at boot and injected; the server
// holds no hidden global state.
type ServerConfig struct {
	Addr          string
	Store         db.Store
	Cache         *cache.ReadThrough
	Tokens        *token.Authority
	Bus           *cluster.Bus // nil outside cluster mode
	Version       string
	RequireKeySig bool
}

// Server is the Keygate API server.
type Server struct {
	httpServer *http.Server
	store      db.Store
	cache      *cache.ReadThrough
	tokens     *token.Authority
	bus        *cluster.Bus
	version    string
	requireSig bool
}

// NewServer wires the routes and returns a server ready to listen.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		store:      cfg.Store,
		cache:      cfg.Cache,
		tokens:     cfg.Tokens,
		bus:        cfg.Bus,
		version:    cfg.Version,
		requireSig: cfg.RequireKeySig,
	}

	r := httprouter.New()

	r.GET("/status", s.handleStatus)

	// The one-segment variant resolves the host via reverse DNS of the
	// caller; httprouter requires the shared segment to keep one name,
	// so :host carries the user there.
	r.GET("/authorized_keys/:host", s.requireTier(token.TierAgent, s.handleAuthorizedKeysNoHost))
	r.GET("/authorized_keys/:host/:user", s.requireTier(token.TierAgent, s.handleAuthorizedKeys))

	r.POST("/tokens", s.requireTier(token.TierCore, s.handleTokenPush))

	admin := func(h httprouter.Handle) httprouter.Handle { return s.requireTier(token.TierAdmin, h) }

	r.POST("/accounts", admin(s.handleCreateAccount))
	r.GET("/accounts", admin(s.handleListAccounts))
	r.GET("/accounts/:id", admin(s.handleGetAccount))
	r.PUT("/accounts/:id", admin(s.handleUpdateAccount))
	r.DELETE("/accounts/:id", admin(s.handleDeleteAccount))
	r.POST("/accounts/:id/keys", admin(s.handleAddAccountKey))
	r.DELETE("/accounts/:id/keys/:kid", admin(s.handleDeleteAccountKey))
	r.POST("/accounts/:id/permissions", admin(s.handleAddAccountPermission))
	r.DELETE("/accounts/:id/permissions/:pid", admin(s.handleDeleteAccountPermission))

	r.POST("/groups", admin(s.handleCreateGroup))
	r.GET("/groups", admin(s.handleListGroups))
	r.GET("/groups/:id", admin(s.handleGetGroup))
	r.PUT("/groups/:id", admin(s.handleUpdateGroup))
	r.DELETE("/groups/:id", admin(s.handleDeleteGroup))
	r.POST("/groups/:id/accounts/:aid", admin(s.handleAddGroupAccount))
	r.DELETE("/groups/:id/accounts/:aid", admin(s.handleRemoveGroupAccount))
	r.POST("/groups/:id/permissions", admin(s.handleAddGroupPermission))
	r.DELETE("/groups/:id/permissions/:pid", admin(s.handleDeleteGroupPermission))

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler; used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe runs the server until the context is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Infof("api: listening on %s", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// invalidate flushes the resolution cache after an accepted write. The
// flush is issued before the response is sent but its failure is never
// surfaced to the caller.
func (s *Server) invalidate() {
	s.cache.InvalidateAll()
}
