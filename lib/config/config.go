// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the deaddrop CLI.
//
// Configuration is loaded from a single file specified by:
//   - DEADDROP_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides. The
// only expansion performed is ${HOME} and similar path variables for
// portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the deaddrop workspace configuration: where the drop's
// object store and bundle files live, which key signs on the user's
// behalf, and how the serve and sync commands reach the network.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Identity configures the user's signing identity.
	Identity IdentityConfig `yaml:"identity"`

	// Serve configures the drop HTTP server.
	Serve ServeConfig `yaml:"serve"`

	// Sync configures replica reconciliation.
	Sync SyncConfig `yaml:"sync"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for deaddrop data.
	Root string `yaml:"root"`

	// Store is the object store directory holding the drop log.
	// Defaults to ${DEADDROP_ROOT}/store.
	Store string `yaml:"store"`

	// Bundles is the directory of bundle files, named by bundle id.
	// Defaults to ${DEADDROP_ROOT}/bundles.
	Bundles string `yaml:"bundles"`
}

// IdentityConfig configures the user's signing identity.
type IdentityConfig struct {
	// Chain is the path to the identity chain file (canonical CBOR,
	// head revision first). Written by "deaddrop id init" and
	// advanced by "deaddrop id rotate".
	Chain string `yaml:"chain"`

	// Key is the path to the OpenSSH private key that signs records.
	// Passphrase-protected keys prompt on use; the ssh-agent is tried
	// first when SSH_AUTH_SOCK is set and UseAgent is true.
	Key string `yaml:"key"`

	// UseAgent enables signing through the ssh-agent when
	// SSH_AUTH_SOCK is set. Default: true.
	UseAgent bool `yaml:"use_agent"`
}

// ServeConfig configures the drop HTTP server.
type ServeConfig struct {
	// Listen is the TCP listen address. Default: 127.0.0.1:7667.
	Listen string `yaml:"listen"`

	// MaxInFlight bounds concurrent submission handling. Default: 8.
	MaxInFlight int `yaml:"max_in_flight"`

	// ShutdownTimeout bounds the graceful shutdown wait. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SyncConfig configures replica reconciliation.
type SyncConfig struct {
	// Remotes are the drop locations sync pulls from when no --from
	// is given: HTTP base URLs or local bundle directories.
	Remotes []string `yaml:"remotes"`

	// Attempts is how many times a failing bundle fetch is retried
	// before sync gives up on it. Default: 3.
	Attempts int `yaml:"attempts"`

	// Backoff is the delay after a failed fetch, doubled per retry.
	// Default: 2s.
	Backoff time.Duration `yaml:"backoff"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file; commands that need no file
// (init, local inspection) run on them directly.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "deaddrop")

	return &Config{
		Paths: PathsConfig{
			Root:    defaultRoot,
			Store:   filepath.Join(defaultRoot, "store"),
			Bundles: filepath.Join(defaultRoot, "bundles"),
		},
		Identity: IdentityConfig{
			Chain:    filepath.Join(defaultRoot, "identity.cbor"),
			Key:      filepath.Join(homeDir, ".ssh", "id_ed25519"),
			UseAgent: true,
		},
		Serve: ServeConfig{
			Listen:          "127.0.0.1:7667",
			MaxInFlight:     8,
			ShutdownTimeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			Attempts: 3,
			Backoff:  2 * time.Second,
		},
	}
}

// Load loads configuration from the DEADDROP_CONFIG environment
// variable, falling back to the defaults when it is not set. An
// explicit --config path goes through LoadFile instead.
func Load() (*Config, error) {
	configPath := os.Getenv("DEADDROP_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth: environment variables do not
// override config values, only ${VAR} references inside path values
// are expanded.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"DEADDROP_ROOT": c.Paths.Root,
		"HOME":          os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["DEADDROP_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Store = expandVars(c.Paths.Store, vars)
	c.Paths.Bundles = expandVars(c.Paths.Bundles, vars)
	c.Identity.Chain = expandVars(c.Identity.Chain, vars)
	c.Identity.Key = expandVars(c.Identity.Key, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Store == "" {
		errs = append(errs, fmt.Errorf("paths.store is required"))
	}
	if c.Paths.Bundles == "" {
		errs = append(errs, fmt.Errorf("paths.bundles is required"))
	}
	if c.Identity.Chain == "" {
		errs = append(errs, fmt.Errorf("identity.chain is required"))
	}
	if c.Serve.Listen == "" {
		errs = append(errs, fmt.Errorf("serve.listen is required"))
	}
	if c.Serve.MaxInFlight < 1 {
		errs = append(errs, fmt.Errorf("serve.max_in_flight must be at least 1"))
	}
	if c.Sync.Attempts < 1 {
		errs = append(errs, fmt.Errorf("sync.attempts must be at least 1"))
	}
	if c.Sync.Backoff < 0 {
		errs = append(errs, fmt.Errorf("sync.backoff must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Store,
		c.Paths.Bundles,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
