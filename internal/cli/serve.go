// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toeirei/keygate/buildvars"
	"github.com/toeirei/keygate/internal/api"
	"github.com/toeirei/keygate/internal/authz"
	"github.com/toeirei/keygate/internal/cache"
	"github.com/toeirei/keygate/internal/cluster"
	"github.com/toeirei/keygate/internal/logging"
	"github.com/toeirei/keygate/internal/token"
)

// serveCmd represents the 'serve' command. It wires everything together:
// database, resolution engine, cache, token authority, cluster bus and
// the HTTP server, then runs until interrupted.
var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the Keygate resolution server",
	PreRunE: setupConfig,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if appConfig.Tokens.Core == "" {
			return errors.New("a core token must be configured (tokens.core)")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		engine := authz.NewEngine(store)
		backend := cache.MustNew(appConfig.Cache.Type, appConfig.Cache.URI)
		rt := cache.NewReadThrough(backend, engine)

		authority := token.NewAuthority(appConfig.Tokens.Core, appConfig.Tokens.Admin)
		if err := authority.Reload(store); err != nil {
			logging.Warnf("serve: could not load tokens from database: %v", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if msg := clusterCacheWarning(appConfig.Cluster.Mode, appConfig.Cache.Type); msg != "" {
			logging.Warnf("serve: %s", msg)
		}

		var bus *cluster.Bus
		if appConfig.Cluster.Mode == "redis" {
			bus, err = cluster.NewBus(appConfig.Cluster.RedisURI, func() {
				if err := authority.Reload(store); err != nil {
					logging.Errorf("serve: token reload after cluster flush failed: %v", err)
				}
			})
			if err != nil {
				return fmt.Errorf("could not set up cluster bus: %w", err)
			}
			go bus.Run(ctx)
			logging.Infof("serve: cluster mode enabled on channel %q", cluster.Channel)
		}

		server := api.NewServer(api.ServerConfig{
			Addr:          appConfig.Listen,
			Store:         store,
			Cache:         rt,
			Tokens:        authority,
			Bus:           bus,
			Version:       buildvars.VersionOrDefault("dev"),
			RequireKeySig: appConfig.Keys.Sign,
		})

		if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logging.Infof("serve: shutdown complete")
		return nil
	},
}

// clusterCacheWarning flags cluster configurations whose cache flushes
// cannot reach the other nodes. Rendered keys are invalidated through
// the cache backend itself, so a process-local memory cache leaves
// peers serving stale keys until their own next flush. A disabled cache
// recomputes every request and a memcached or redis backend is shared,
// so neither needs a warning.
func clusterCacheWarning(clusterMode, cacheType string) string {
	if clusterMode != "redis" || cacheType != "memory" {
		return ""
	}
	return `cache.type "memory" is process-local; peer nodes keep serving stale keys in cluster mode (use a shared redis or memcached cache)`
}
