// Package config loads the querydesk configuration by layering
// defaults, an optional YAML file, environment variables, and CLI
// flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"time"
)

// Backend names for the workspace store.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config is the resolved querydesk configuration.
type Config struct {
	Server      ServerConfig    `koanf:"server"`
	Workspace   WorkspaceConfig `koanf:"workspace"`
	Datasources []string        `koanf:"datasources"`
	Verbose     bool            `koanf:"verbose"`
}

// ServerConfig locates the remote query service.
type ServerConfig struct {
	URL string `koanf:"url"`
	// Token is the session bearer token, when the deployment needs one.
	Token string `koanf:"token"`
	// CSRFToken is attached to mutating requests.
	CSRFToken string        `koanf:"csrf_token"`
	Timeout   time.Duration `koanf:"timeout"`
}

// WorkspaceConfig locates the persisted tab state.
type WorkspaceConfig struct {
	// Path of the workspace file or database. Defaults depend on the
	// backend.
	Path string `koanf:"path"`
	// Backend selects the persistence implementation: json or sqlite.
	Backend string `koanf:"backend"`
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("no server URL configured (set server.url or --server)")
	}
	switch c.Workspace.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("unknown workspace backend %q (want %s or %s)",
			c.Workspace.Backend, BackendJSON, BackendSQLite)
	}
	return nil
}

// DefaultWorkspacePath returns the backend-appropriate default path.
func DefaultWorkspacePath(backend string) string {
	if backend == BackendSQLite {
		return ".querydesk/workspace.db"
	}
	return ".querydesk/workspace.json"
}
