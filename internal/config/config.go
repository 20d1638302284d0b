// Package config loads vibemcp configuration from environment variables
// with optional command-line overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vibemcp/vibemcp/internal/errors"
)

// Default values for unset environment variables.
const (
	DefaultPort         = 8080
	DefaultSyncInterval = 30
	DefaultLogLevel     = "info"

	// MinAuthTokenLen is the minimum length of VIBE_AUTH_TOKEN when set.
	MinAuthTokenLen = 32
)

// Config is the complete vibemcp configuration.
type Config struct {
	// Root is the workspace root containing one directory per project.
	Root string
	// Port is the TCP port the MCP server listens on.
	Port int
	// DBPath is the path to the SQLite index database.
	DBPath string
	// AuthToken is the bearer token required on inbound requests.
	// Empty means authentication is disabled.
	AuthToken string
	// ReadOnly rejects all write operations when true.
	ReadOnly bool
	// WebhooksEnabled controls event fan-out.
	WebhooksEnabled bool
	// SyncInterval is the background sync period in seconds. 0 disables
	// the background syncer.
	SyncInterval int
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(errors.KindFatalInit, "cannot resolve home directory", err)
	}

	root := expandTilde(getenvDefault("VIBE_ROOT", filepath.Join(home, ".vibe")), home)

	port := DefaultPort
	if v := os.Getenv("VIBE_PORT"); v != "" {
		port, err = strconv.Atoi(v)
		if err != nil {
			return nil, errors.Newf(errors.KindFatalInit, "invalid VIBE_PORT value %q: %v", v, err)
		}
	}
	if port < 1 || port > 65535 {
		return nil, errors.Newf(errors.KindFatalInit, "port must be between 1 and 65535, got %d", port)
	}

	dbPath := expandTilde(getenvDefault("VIBE_DB", filepath.Join(root, "index.db")), home)

	token := os.Getenv("VIBE_AUTH_TOKEN")
	if token != "" && len(token) < MinAuthTokenLen {
		return nil, errors.Newf(errors.KindFatalInit,
			"VIBE_AUTH_TOKEN must be at least %d characters, got %d", MinAuthTokenLen, len(token))
	}

	interval := DefaultSyncInterval
	if v := os.Getenv("VIBE_SYNC_INTERVAL"); v != "" {
		interval, err = strconv.Atoi(v)
		if err != nil || interval < 0 {
			return nil, errors.Newf(errors.KindFatalInit, "invalid VIBE_SYNC_INTERVAL value %q", v)
		}
	}

	cfg := &Config{
		Root:            root,
		Port:            port,
		DBPath:          dbPath,
		AuthToken:       token,
		ReadOnly:        isTruthy(os.Getenv("VIBE_READ_ONLY")),
		WebhooksEnabled: !isFalsy(os.Getenv("VIBE_WEBHOOKS_ENABLED")),
		SyncInterval:    interval,
		LogLevel:        getenvDefault("VIBE_LOG_LEVEL", DefaultLogLevel),
	}

	return cfg, nil
}

// String renders the configuration for startup logging, omitting the
// auth token.
func (c *Config) String() string {
	return fmt.Sprintf("root=%s port=%d db=%s read_only=%t webhooks=%t sync_interval=%ds",
		c.Root, c.Port, c.DBPath, c.ReadOnly, c.WebhooksEnabled, c.SyncInterval)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func expandTilde(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func isFalsy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no":
		return true
	}
	return false
}
