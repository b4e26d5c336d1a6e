// Package config loads and validates the toolgate configuration file.
// Files are YAML (or JSON5 by extension), support $include composition
// and ${ENV} expansion, and decode with unknown fields rejected so a
// typo fails at startup instead of silently defaulting.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration for the toolgate process.
type Config struct {
	Version int `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Providers ProvidersConfig `yaml:"providers"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Inventory InventoryConfig `yaml:"inventory"`
	Builtin   BuiltinConfig   `yaml:"builtin"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// Load reads the configuration at path, resolving includes and
// environment expansion, applies defaults, and validates.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config usable without any file: sqlite in the
// working directory, loopback server, no providers, no token broker.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields section by section.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = CurrentVersion
	}
	c.Server.applyDefaults()
	c.Storage.applyDefaults()
	c.Redis.applyDefaults()
	c.Auth.applyDefaults()
	c.Providers.applyDefaults()
	c.Executor.applyDefaults()
	c.Inventory.applyDefaults()
	c.Builtin.applyDefaults()
	c.Workspace.applyDefaults()
	c.Secrets.applyDefaults()
	c.Logging.applyDefaults()
	c.Tracing.applyDefaults()
}

// ValidationError aggregates every problem found in one pass so the
// operator fixes the file once, not issue by issue.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration:\n  - %s", strings.Join(e.Issues, "\n  - "))
}

// Validate checks cross-field constraints. Defaults must already be
// applied.
func (c *Config) Validate() error {
	var issues []string
	if err := ValidateVersion(c.Version); err != nil {
		issues = append(issues, err.Error())
	}
	issues = append(issues, c.Server.validate()...)
	issues = append(issues, c.Storage.validate()...)
	issues = append(issues, c.Auth.validate()...)
	issues = append(issues, c.Providers.validate()...)
	issues = append(issues, c.Inventory.validate()...)
	issues = append(issues, c.Logging.validate()...)
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
