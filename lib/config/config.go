// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Warden components.
//
// Configuration is loaded from a single file specified by:
//   - WARDEN_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections
// (development, production) that override base values when the
// environment matches.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for Warden.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Backend configures the hypervisor backend.
	Backend BackendConfig `yaml:"backend"`

	// PolicyFile is the path to the policy document (JSONC).
	// Required: Warden refuses to start without a policy.
	PolicyFile string `yaml:"policy_file"`

	// EnvironmentOverrides contains per-environment overrides,
	// applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Backend *BackendConfig `yaml:"backend,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the per-user base directory for Warden data. The logs
	// tree (system log, per-instance lifecycle logs, the audit
	// ledger, session recordings) lives under <Root>/logs.
	Root string `yaml:"root"`

	// Disks is where per-instance copy-on-write disk images are
	// created. Default: <Root>/disks.
	Disks string `yaml:"disks"`

	// State is where runtime state is stored, including the instance
	// registry database. Default: <Root>/state.
	State string `yaml:"state"`
}

// BackendConfig selects and configures the hypervisor backend.
type BackendConfig struct {
	// Type selects the backend implementation:
	//   "virsh" — drive a libvirt hypervisor through the virsh CLI
	//   "null"  — disabled backend; every structural call fails
	//             with BackendUnavailable
	// Default: null. Selection happens once at process startup.
	Type string `yaml:"type"`

	// URI is the hypervisor connection URI for the virsh backend
	// (e.g. "qemu:///system"). Ignored by the null backend.
	URI string `yaml:"uri"`

	// CallTimeout bounds each structural backend call ("30s", "2m").
	// A call that exceeds it leaves the instance in state Unknown
	// pending re-inspection. Default: 30s.
	CallTimeout string `yaml:"call_timeout"`
}

// Default returns the default configuration. These defaults ensure
// all fields have sensible zero-values; the config file is still
// required for PolicyFile.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "warden")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:  defaultRoot,
			Disks: filepath.Join(defaultRoot, "disks"),
			State: filepath.Join(defaultRoot, "state"),
		},
		Backend: BackendConfig{
			Type:        "null",
			URI:         "qemu:///system",
			CallTimeout: "30s",
		},
	}
}

// Load loads configuration from the WARDEN_CONFIG environment
// variable. There are no fallbacks — if WARDEN_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("WARDEN_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("WARDEN_CONFIG environment variable not set; " +
			"set it to the path of your warden.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment
// variables do not override config values. The only expansion
// performed is ${HOME} in paths for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific section.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}
	if overrides.Paths != nil {
		mergePaths(&c.Paths, overrides.Paths)
	}
	if overrides.Backend != nil {
		mergeBackend(&c.Backend, overrides.Backend)
	}
}

func mergePaths(base, override *PathsConfig) {
	if override.Root != "" {
		base.Root = override.Root
	}
	if override.Disks != "" {
		base.Disks = override.Disks
	}
	if override.State != "" {
		base.State = override.State
	}
}

func mergeBackend(base, override *BackendConfig) {
	if override.Type != "" {
		base.Type = override.Type
	}
	if override.URI != "" {
		base.URI = override.URI
	}
	if override.CallTimeout != "" {
		base.CallTimeout = override.CallTimeout
	}
}

// expandVariables expands ${HOME} in path fields.
func (c *Config) expandVariables() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	expand := func(p string) string {
		return strings.ReplaceAll(p, "${HOME}", home)
	}
	c.Paths.Root = expand(c.Paths.Root)
	c.Paths.Disks = expand(c.Paths.Disks)
	c.Paths.State = expand(c.Paths.State)
	c.PolicyFile = expand(c.PolicyFile)
}

// validate rejects configurations Warden cannot start with.
func (c *Config) validate() error {
	switch c.Backend.Type {
	case "virsh", "null":
	default:
		return fmt.Errorf("unknown backend type %q (want \"virsh\" or \"null\")", c.Backend.Type)
	}
	if c.Environment != Development && c.Environment != Production {
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	return nil
}
