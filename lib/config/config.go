// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the Repofleet
// agent.
//
// Configuration is loaded from a single YAML file specified by:
//   - the REPOFLEET_CONFIG environment variable, or
//   - the --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This keeps the agent
// deterministic and auditable: the file is the single source of truth
// and environment variables do not override its values.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the agent configuration.
type Config struct {
	// ControlPlane is the host:port of the control plane's agent
	// listener.
	ControlPlane string `yaml:"control_plane"`

	// MachineName identifies this agent to the control plane.
	MachineName string `yaml:"machine_name"`

	// WorkspaceRoot is the directory under which workspaces are laid
	// out: <root>/<workspace>/<repository>.
	WorkspaceRoot string `yaml:"workspace_root"`

	// Workers is the size of the job worker pool. Minimum 1.
	Workers int `yaml:"workers"`

	// HookListen is the loopback address for the git hook bridge.
	HookListen string `yaml:"hook_listen"`

	// RemoteName is the git remote the engine syncs against.
	RemoteName string `yaml:"remote_name"`

	// AuthToken, when set, is injected as a bearer Authorization
	// header on fetch/pull/push.
	AuthToken string `yaml:"auth_token"`

	// ReconnectInterval is the fixed wait between reconnect attempts
	// after the immediate first retry.
	ReconnectInterval Duration `yaml:"reconnect_interval"`

	// ResolverBinary is the external semantic version resolver
	// executable.
	ResolverBinary string `yaml:"resolver_binary"`
}

// Default returns the default configuration. The config file overrides
// these; they exist so every field has a sensible zero-value, not as a
// substitute for the file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		ControlPlane:      "localhost:7420",
		WorkspaceRoot:     filepath.Join(homeDir, "repofleet"),
		Workers:           4,
		HookListen:        "127.0.0.1:7421",
		RemoteName:        "origin",
		ReconnectInterval: Duration(5 * time.Second),
		ResolverBinary:    "gitversion",
	}
}

// Load loads configuration from the REPOFLEET_CONFIG environment
// variable. Fails when the variable is unset — there is no fallback.
func Load() (*Config, error) {
	path := os.Getenv("REPOFLEET_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("REPOFLEET_CONFIG environment variable not set; " +
			"set it to the path of your repofleet.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// Default().
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.ControlPlane == "" {
		errs = append(errs, fmt.Errorf("control_plane is required"))
	}
	if c.MachineName == "" {
		errs = append(errs, fmt.Errorf("machine_name is required"))
	}
	if c.WorkspaceRoot == "" {
		errs = append(errs, fmt.Errorf("workspace_root is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.ReconnectInterval <= 0 {
		errs = append(errs, fmt.Errorf("reconnect_interval must be positive"))
	}
	if err := validateLoopback(c.HookListen); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateLoopback rejects hook listener addresses that would expose
// the notify endpoint beyond the local machine.
func validateLoopback(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("hook_listen %q: %w", address, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("hook_listen %q must bind a loopback address", address)
	}
	return nil
}
