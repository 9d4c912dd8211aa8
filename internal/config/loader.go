package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pipelab/internal/migration"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvConfigPath names the environment variable that points at a settings file.
const EnvConfigPath = "PIPELAB_CONFIG"

// Load reads, migrates and validates the settings file at configPath.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.path = absPath
	return cfg, nil
}

// LoadOrDefault loads configPath, or the discovered settings file when
// configPath is empty. With nothing to load it returns Defaults.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = Discover()
	}
	if configPath == "" {
		return Defaults(), nil
	}
	return Load(configPath)
}

// Discover finds a settings file. Priority order: $PIPELAB_CONFIG,
// ./pipelab.yaml, ~/.config/pipelab/config.yaml. It returns "" when none
// exists.
func Discover() string {
	candidates := []string{os.Getenv(EnvConfigPath), "pipelab.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "pipelab", "config.yaml"))
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// Parse interpolates, migrates, decodes and validates settings YAML.
func Parse(data []byte) (*Config, error) {
	raw, err := decodeRaw(data)
	if err != nil {
		return nil, err
	}
	migrated, err := settingsChain.Migrate(raw, migration.Options{})
	if err != nil {
		return nil, fmt.Errorf("migrate settings: %w", err)
	}

	// Round trip through YAML so durations like "30s" decode natively.
	out, err := yaml.Marshal(migrated)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(out, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// decodeRaw parses settings into the generic form the migration chain works
// on. A file without a version is treated as the oldest layout.
func decodeRaw(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	switch v := raw[migration.VersionKey].(type) {
	case nil:
		raw[migration.VersionKey] = settingsChain.Versions()[0]
	case string:
	default:
		raw[migration.VersionKey] = fmt.Sprint(v)
	}
	return raw, nil
}

// applyConfigDefaults fills in values not explicitly set.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.CacheFolder == "" {
		cfg.CacheFolder = defaults.CacheFolder
	}
	if cfg.PluginsDir == "" {
		cfg.PluginsDir = defaults.PluginsDir
	}
	if cfg.Plugins == nil {
		cfg.Plugins = make(map[string]PluginConf)
	}
	if cfg.PipelinesDir == "" {
		cfg.PipelinesDir = defaults.PipelinesDir
	}
	if cfg.Execution.Policy == "" {
		cfg.Execution.Policy = defaults.Execution.Policy
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and caught by validate where they
// matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := cfg.Service.LogFormat; f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", f)
	}
	if p := cfg.Execution.Policy; p != "fail-fast" && p != "best-effort" {
		return fmt.Errorf("execution.policy must be fail-fast or best-effort (got %q)", p)
	}
	if cfg.Execution.StepTimeout < 0 {
		return fmt.Errorf("execution.step_timeout must not be negative")
	}

	if cfg.API.Enabled {
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
	}

	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		if cfg.Webhooks.Listen == "" {
			return fmt.Errorf("webhooks.listen is required when endpoints are configured")
		}
		seen := make(map[string]bool)
		for i, ep := range cfg.Webhooks.Endpoints {
			field := fmt.Sprintf("webhooks.endpoints[%d]", i)
			if !strings.HasPrefix(ep.Path, "/") {
				return fmt.Errorf("%s: path must start with / (got %q)", field, ep.Path)
			}
			if seen[ep.Path] {
				return fmt.Errorf("%s: duplicate path %q", field, ep.Path)
			}
			seen[ep.Path] = true
			if ep.Pipeline == "" {
				return fmt.Errorf("%s (%s): pipeline is required", field, ep.Path)
			}
			if ep.Secret == "" {
				return fmt.Errorf("%s (%s): secret is required", field, ep.Path)
			}
			if err := checkUnresolved(field+".secret", ep.Secret); err != nil {
				return err
			}
		}
	}

	for name, plugin := range cfg.Plugins {
		if plugin.Timeout < 0 {
			return fmt.Errorf("plugin %q: timeout must not be negative", name)
		}
		if !plugin.IsEnabled() || plugin.Config == nil {
			continue
		}
		if err := checkUnresolvedEnvVars(plugin.Config, name); err != nil {
			return err
		}
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); m != nil {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in
// plugin config values so secrets never reach a plugin half-resolved.
func checkUnresolvedEnvVars(data map[string]any, pluginName string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if err := checkUnresolved(fmt.Sprintf("plugin %q: config.%s", pluginName, key), v); err != nil {
				return err
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, pluginName); err != nil {
				return err
			}
		}
	}
	return nil
}
