package config

import (
	"fmt"
	"time"
)

// ServerConfig binds the HTTP surface: the WebSocket conversation
// channel, /healthz, and /metrics all share one listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c *ServerConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8721
	}
}

func (c *ServerConfig) validate() []string {
	var issues []string
	if c.Port < 0 || c.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port %d out of range", c.Port))
	}
	return issues
}

// StorageConfig selects the aggregate store backend.
type StorageConfig struct {
	// Backend is "sqlite" or "memory". Memory loses everything on
	// restart and exists for tests and scratch runs.
	Backend string `yaml:"backend"`

	// Path is the sqlite database file. Ignored for memory.
	Path string `yaml:"path"`

	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

func (c *StorageConfig) applyDefaults() {
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
	if c.Path == "" {
		c.Path = "toolgate.db"
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 8
	}
}

func (c *StorageConfig) validate() []string {
	switch c.Backend {
	case "sqlite", "memory":
		return nil
	default:
		return []string{fmt.Sprintf("storage.backend %q is not sqlite or memory", c.Backend)}
	}
}

// RedisConfig enables the shared tiers: the token caches and the
// builtin memory tools use the same client. Disabled when Addr is
// empty; everything degrades to in-process state.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix namespaces every key this process writes.
	KeyPrefix string `yaml:"key_prefix"`
}

func (c *RedisConfig) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "toolgate"
	}
}

// Enabled reports whether a shared Redis tier is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}
