package config

import (
	"fmt"
	"time"
)

// ExecutorConfig tunes tool invocation.
type ExecutorConfig struct {
	// DefaultTimeout bounds an upstream call when the tool's execution
	// profile does not set one.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// ValidateArguments toggles JSON Schema validation process-wide.
	// Individual calls may still override.
	ValidateArguments *bool `yaml:"validate_arguments"`
}

func (c *ExecutorConfig) applyDefaults() {
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.ValidateArguments == nil {
		enabled := true
		c.ValidateArguments = &enabled
	}
}

// InventoryConfig tunes source discovery and reconciliation.
type InventoryConfig struct {
	// RefreshInterval is the period between full refresh sweeps.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// Concurrency bounds how many sources refresh at once.
	Concurrency int `yaml:"concurrency"`

	// RefreshOnStart runs a sweep immediately after startup.
	RefreshOnStart bool `yaml:"refresh_on_start"`

	// WatchPlugins re-reads MCP plugin manifests on file changes.
	WatchPlugins bool `yaml:"watch_plugins"`
}

func (c *InventoryConfig) applyDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
}

func (c *InventoryConfig) validate() []string {
	var issues []string
	if c.RefreshInterval < time.Second {
		issues = append(issues, fmt.Sprintf("inventory.refresh_interval %s is below 1s", c.RefreshInterval))
	}
	if c.Concurrency < 1 {
		issues = append(issues, "inventory.concurrency must be at least 1")
	}
	return issues
}

// BuiltinConfig tunes the in-process tool catalogue.
type BuiltinConfig struct {
	// FetchMaxBytes caps web_fetch response bodies.
	FetchMaxBytes int64 `yaml:"fetch_max_bytes"`

	// FetchTimeout bounds a single web_fetch call.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// CodeTimeout bounds one code_execute run.
	CodeTimeout time.Duration `yaml:"code_timeout"`
}

func (c *BuiltinConfig) applyDefaults() {
	if c.FetchMaxBytes == 0 {
		c.FetchMaxBytes = 2 << 20
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.CodeTimeout == 0 {
		c.CodeTimeout = 10 * time.Second
	}
}

// WorkspaceConfig tunes the per-user scratch directories used by the
// builtin file tools.
type WorkspaceConfig struct {
	Root string `yaml:"root"`

	// MaxFileBytes caps a single workspace file.
	MaxFileBytes int64 `yaml:"max_file_bytes"`

	// TTL evicts files untouched for this long.
	TTL time.Duration `yaml:"ttl"`
}

func (c *WorkspaceConfig) applyDefaults() {
	if c.Root == "" {
		c.Root = "workspace"
	}
	if c.MaxFileBytes == 0 {
		c.MaxFileBytes = 5 << 20
	}
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
}

// SecretsConfig selects where per-source credential material resolves
// from. Both stores may be active; the file wins when it has an entry.
type SecretsConfig struct {
	// File is a YAML map of source id to auth config. Empty disables
	// the file store.
	File string `yaml:"file"`

	// EnvPrefix is the variable prefix for per-source JSON material.
	EnvPrefix string `yaml:"env_prefix"`
}

func (c *SecretsConfig) applyDefaults() {
	if c.EnvPrefix == "" {
		c.EnvPrefix = "TOOLGATE_AUTH_"
	}
}
