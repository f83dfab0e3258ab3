// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cli sets up the command-line interface for Keygate using the
// Cobra library. It defines the root command, the serve command that
// runs the resolution server, and the backup/restore maintenance
// commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toeirei/keygate/buildvars"
	"github.com/toeirei/keygate/internal/config"
	"github.com/toeirei/keygate/internal/db"
	"github.com/toeirei/keygate/internal/logging"
)

var cfgFile string
var appConfig config.Config

var rootCmd = &cobra.Command{
	Use:   "keygate",
	Short: "Keygate is an SSH authorized_keys resolution server",
	Long: `Keygate serves authorized_keys answers to sshd via AuthorizedKeysCommand.
It resolves group permissions with pattern matching, merges SSH
restriction options by specificity, caches answers in memory, memcached
or redis, and keeps a cluster of nodes consistent over a redis
invalidation bus.`,
	SilenceUsage: true,
}

// setupConfig loads the configuration before any command that needs it.
func setupConfig(cmd *cobra.Command, _ []string) error {
	defaults := map[string]any{
		"listen":        ":8080",
		"database.type": "sqlite",
		"database.dsn":  "./keygate.db",
	}

	var cfgPath *string
	if cfgFile != "" {
		cfgPath = &cfgFile
	}

	var err error
	appConfig, err = config.LoadConfig(cmd, defaults, cfgPath)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error loading config: %w", err)
		}
	}

	logging.SetDebug(appConfig.Debug)
	db.SetDebug(appConfig.Debug)
	return nil
}

// openStore connects to the configured database and applies pending
// migrations.
func openStore() (db.Store, error) {
	store, err := db.New(appConfig.Database.Type, appConfig.Database.Dsn)
	if err != nil {
		return nil, fmt.Errorf("could not initialize database: %w", err)
	}
	return store, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the Keygate version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Println(buildvars.VersionOrDefault("dev"))
	},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is keygate.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(
		serveCmd,
		backupCmd,
		restoreCmd,
		versionCmd,
	)
	return rootCmd.Execute()
}
