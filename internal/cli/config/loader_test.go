package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "querydesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, BackendJSON, cfg.Workspace.Backend)
	assert.Equal(t, ".querydesk/workspace.json", cfg.Workspace.Path)
	assert.False(t, cfg.Verbose)
	assert.Empty(t, cfg.Server.URL)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  url: https://query.example.com/api
  token: tok-abc
  timeout: 10s
workspace:
  backend: sqlite
datasources:
  - ds-1
  - ds-2
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://query.example.com/api", cfg.Server.URL)
	assert.Equal(t, "tok-abc", cfg.Server.Token)
	assert.Equal(t, 10*time.Second, cfg.Server.Timeout)
	assert.Equal(t, BackendSQLite, cfg.Workspace.Backend)
	assert.Equal(t, ".querydesk/workspace.db", cfg.Workspace.Path)
	assert.Equal(t, []string{"ds-1", "ds-2"}, cfg.Datasources)
	assert.Equal(t, path, GetConfigFileUsed())
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  url: https://from-file.example.com
`)
	t.Setenv("QUERYDESK_SERVER__URL", "https://from-env.example.com")
	t.Setenv("QUERYDESK_SERVER__CSRF_TOKEN", "csrf-env")
	t.Setenv("QUERYDESK_VERBOSE", "true")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://from-env.example.com", cfg.Server.URL)
	assert.Equal(t, "csrf-env", cfg.Server.CSRFToken)
	assert.True(t, cfg.Verbose)
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	t.Setenv("QUERYDESK_SERVER__URL", "https://from-env.example.com")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringP("server", "s", "", "")
	flags.String("backend", "", "")
	flags.StringSliceP("datasource", "d", nil, "")
	flags.BoolP("verbose", "v", false, "")
	require.NoError(t, flags.Parse([]string{
		"--server", "https://from-flag.example.com",
		"--backend", "sqlite",
		"-d", "ds-1",
		"-d", "ds-2",
		"-v",
	}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, "https://from-flag.example.com", cfg.Server.URL)
	assert.Equal(t, BackendSQLite, cfg.Workspace.Backend)
	assert.Equal(t, []string{"ds-1", "ds-2"}, cfg.Datasources)
	assert.True(t, cfg.Verbose)
}

func TestLoad_UnchangedFlagsDoNotClobber(t *testing.T) {
	path := writeConfigFile(t, `
workspace:
  backend: sqlite
`)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("backend", "json", "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Workspace.Backend)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid",
			cfg: Config{
				Server:    ServerConfig{URL: "https://x"},
				Workspace: WorkspaceConfig{Backend: BackendJSON},
			},
		},
		{
			name: "missing server",
			cfg: Config{
				Workspace: WorkspaceConfig{Backend: BackendJSON},
			},
			wantErr: "no server URL",
		},
		{
			name: "bad backend",
			cfg: Config{
				Server:    ServerConfig{URL: "https://x"},
				Workspace: WorkspaceConfig{Backend: "postgres"},
			},
			wantErr: "unknown workspace backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSplitFlagList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"[a,b]", []string{"a", "b"}},
		{"[a]", []string{"a"}},
		{"[]", []string{}},
		{"[a, b]", []string{"a", "b"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, splitFlagList(tt.in))
	}
}
