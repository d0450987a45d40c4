package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// envPrefix namespaces environment overrides, e.g.
// QUERYDESK_SERVER__URL sets server.url.
const envPrefix = "QUERYDESK_"

var configFileUsed string

// findConfigFile finds the config file to use.
// Priority: explicit path > querydesk.yaml > querydesk.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat("querydesk.yaml"); err == nil {
		return "querydesk.yaml"
	}
	if _, err := os.Stat("querydesk.yml"); err == nil {
		return "querydesk.yml"
	}
	return ""
}

// GetConfigFileUsed returns the config file the last Load resolved,
// or empty when none was found.
func GetConfigFileUsed() string { return configFileUsed }

// Load resolves the configuration. flags may be nil; when present,
// changed flags take precedence over everything else.
func Load(explicitFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults.
	defaults := map[string]any{
		"server.timeout":    30 * time.Second,
		"workspace.backend": BackendJSON,
		"verbose":           false,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file, when one exists.
	configFileUsed = findConfigFile(explicitFile)
	if explicitFile != "" {
		if _, err := os.Stat(explicitFile); err != nil {
			return nil, fmt.Errorf("config file %s not found", explicitFile)
		}
	}
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configFileUsed, err)
		}
	}

	// Layer 3: environment. Double underscores separate nesting levels
	// so single underscores survive inside key names.
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Layer 4: CLI flags.
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagToKey), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if cfg.Workspace.Path == "" {
		cfg.Workspace.Path = DefaultWorkspacePath(cfg.Workspace.Backend)
	}
	return &cfg, nil
}

// flagToKey maps changed CLI flags onto config keys.
func flagToKey(f *pflag.Flag) (string, any) {
	if !f.Changed {
		return "", nil
	}
	switch f.Name {
	case "server":
		return "server.url", f.Value.String()
	case "token":
		return "server.token", f.Value.String()
	case "csrf-token":
		return "server.csrf_token", f.Value.String()
	case "workspace":
		return "workspace.path", f.Value.String()
	case "backend":
		return "workspace.backend", f.Value.String()
	case "datasource":
		return "datasources", splitFlagList(f.Value.String())
	case "verbose":
		return "verbose", f.Value.String() == "true"
	}
	return "", nil
}

// splitFlagList parses pflag's stringSlice rendering, e.g. "[a,b]".
func splitFlagList(v string) []string {
	v = strings.Trim(v, "[]")
	if v == "" {
		return []string{}
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
