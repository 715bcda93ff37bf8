// Package config loads the server configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by FromEnv. Each overrides the
// corresponding field after the file (if any) is read.
const (
	EnvListen      = "CSENTRY_LISTEN"
	EnvModule      = "CSENTRY_ENGINE_MODULE"
	EnvMemoryPages = "CSENTRY_MEMORY_LIMIT_PAGES"
	EnvStackSize   = "CSENTRY_ASYNC_STACK_SIZE"
	EnvSessionsDir = "CSENTRY_SESSIONS_DIR"
	EnvSecret      = "CSENTRY_ACTION_SECRET"
	EnvLogLevel    = "CSENTRY_LOG_LEVEL"
	EnvLogMode     = "CSENTRY_LOG_MODE"
)

// Engine configures the entry engine runtime.
type Engine struct {
	// Module is the entry engine wasm binary on disk.
	Module string `yaml:"module"`

	// MemoryLimitPages caps each instance's linear memory in 64KB pages.
	// 0 leaves the runtime default in place.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`

	// AsyncStackSize sizes the suspension stack for asyncify builds.
	// 0 leaves the runtime default in place.
	AsyncStackSize uint32 `yaml:"async_stack_size"`
}

// Sessions configures the per-session namespace tree.
type Sessions struct {
	// Dir is the base directory holding session namespaces. Empty means a
	// directory under the system temp dir.
	Dir string `yaml:"dir"`
}

// Auth configures action access tokens.
type Auth struct {
	// Secret derives the Ed25519 signing key for action tokens. Empty
	// disables token checks on /action.
	Secret string `yaml:"secret"`
}

// Log configures the process logger.
type Log struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Mode  string `yaml:"mode"`  // development, production
}

// Config holds the full server configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	Engine   Engine   `yaml:"engine"`
	Sessions Sessions `yaml:"sessions"`
	Auth     Auth     `yaml:"auth"`
	Log      Log      `yaml:"log"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log: Log{
			Level: "info",
			Mode:  "production",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.FromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv overrides fields from the process environment.
func (c *Config) FromEnv() error {
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvModule); v != "" {
		c.Engine.Module = v
	}
	if v := os.Getenv(EnvMemoryPages); v != "" {
		pages, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvMemoryPages, err)
		}
		c.Engine.MemoryLimitPages = uint32(pages)
	}
	if v := os.Getenv(EnvStackSize); v != "" {
		size, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvStackSize, err)
		}
		c.Engine.AsyncStackSize = uint32(size)
	}
	if v := os.Getenv(EnvSessionsDir); v != "" {
		c.Sessions.Dir = v
	}
	if v := os.Getenv(EnvSecret); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLogMode); v != "" {
		c.Log.Mode = v
	}
	return nil
}

// Validate checks fields every command depends on. Commands with extra
// requirements (the engine module path for serve) check those themselves.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("config: listen address is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Mode {
	case "development", "production":
	default:
		return fmt.Errorf("config: log mode must be development or production, got %q", c.Log.Mode)
	}
	return nil
}
