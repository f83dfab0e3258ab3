// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads and persists the Keygate configuration. Values are
// layered from defaults, the config file, environment variables (prefix
// KEYGATE) and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the full server configuration, unmarshalled by viper.
type Config struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	Debug  bool   `mapstructure:"debug" yaml:"debug"`

	Database struct {
		Type string `mapstructure:"type" yaml:"type"`
		Dsn  string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"database" yaml:"database"`

	Cache struct {
		// Type selects the cache backend: "", "memory", "memcached" or "redis".
		// Empty disables caching entirely.
		Type string `mapstructure:"type" yaml:"type"`
		URI  string `mapstructure:"uri" yaml:"uri"`
	} `mapstructure:"cache" yaml:"cache"`

	Cluster struct {
		// Mode enables the redis-backed invalidation bus when "redis".
		Mode     string `mapstructure:"mode" yaml:"mode"`
		RedisURI string `mapstructure:"redis_uri" yaml:"redis_uri"`
	} `mapstructure:"cluster" yaml:"cluster"`

	Tokens struct {
		// Core is the operator-provisioned secret that gates token pushes.
		Core string `mapstructure:"core" yaml:"core"`
		// Admin is an optional bootstrap admin token, useful before the
		// first token push has populated the database.
		Admin string `mapstructure:"admin" yaml:"admin"`
	} `mapstructure:"tokens" yaml:"tokens"`

	Keys struct {
		// Sign requires a signature on every uploaded public key.
		Sign bool `mapstructure:"sign" yaml:"sign"`
	} `mapstructure:"keys" yaml:"keys"`
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Keygate")
		default: // Linux, macOS, etc.
			configDir = "/etc/keygate"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "keygate")
	}

	return filepath.Join(configDir, "keygate.yaml"), nil
}

// LoadConfig builds a Config from defaults, the keygate.yaml config file,
// KEYGATE_* environment variables and the command's flags.
func LoadConfig(cmd *cobra.Command, defaults map[string]any, configFilePath *string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("keygate")
	v.SetConfigType("yaml")

	// An explicit --config path has the highest precedence for
	// file-based configuration.
	if configFilePath != nil {
		v.SetConfigFile(*configFilePath)
	}

	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// It's okay if the file is not found, but other errors are fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("keygate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return c, err
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}

// WriteConfigFile persists the configuration as YAML to the standard
// location. Mode 0600 because the file carries token secrets.
func WriteConfigFile(c *Config, system bool) error {
	path, err := getConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	return os.WriteFile(path, data, 0600)
}
