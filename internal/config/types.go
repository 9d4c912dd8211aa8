package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config represents the complete pipelab settings file.
type Config struct {
	Version     string        `yaml:"version"`
	Service     ServiceConfig `yaml:"service"`
	State       StateConfig   `yaml:"state"`
	CacheFolder string        `yaml:"cache_folder"`
	// ClearTemporaryFolders removes a run's workspace once the run ends.
	ClearTemporaryFolders bool                  `yaml:"clear_temporary_folders_on_pipeline_end"`
	PluginsDir            string                `yaml:"plugins_dir"`
	Plugins               map[string]PluginConf `yaml:"plugins,omitempty"`
	PipelinesDir          string                `yaml:"pipelines_dir"`
	Execution             ExecutionConfig       `yaml:"execution"`
	API                   APIConfig             `yaml:"api"`
	Webhooks              *WebhooksConfig       `yaml:"webhooks,omitempty"`

	path string
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where run history and the run queue live.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ExecutionConfig defines how the engine walks a pipeline.
type ExecutionConfig struct {
	Policy      string        `yaml:"policy"`
	StepTimeout time.Duration `yaml:"step_timeout,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the bearer token every request must carry. Empty disables auth.
	APIKey string `yaml:"api_key"`
}

// PluginConf configures one plugin, built-in or external.
type PluginConf struct {
	Enabled *bool          `yaml:"enabled,omitempty"`
	Timeout time.Duration  `yaml:"timeout,omitempty"`
	Config  map[string]any `yaml:"config,omitempty"`
}

// IsEnabled reports whether the plugin should be registered. Plugins are
// enabled unless switched off explicitly.
func (p PluginConf) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// WebhooksConfig defines webhook listener settings.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint maps one signed HTTP path to a named pipeline.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Pipeline        string `yaml:"pipeline"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size"`
}

// DefaultCacheFolder is the workspace root used when none is configured.
func DefaultCacheFolder() string {
	return filepath.Join(os.TempDir(), "pipelab")
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Version: CurrentVersion,
		Service: ServiceConfig{
			Name:      "pipelab",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		CacheFolder:  DefaultCacheFolder(),
		PluginsDir:   "./plugins",
		Plugins:      make(map[string]PluginConf),
		PipelinesDir: "./pipelines",
		Execution: ExecutionConfig{
			Policy: "fail-fast",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}

// Path returns the file the configuration was loaded from, or "" for
// built-in defaults.
func (c *Config) Path() string { return c.path }

// PluginConfig returns the config block of a plugin, or nil.
func (c *Config) PluginConfig(id string) map[string]any {
	return c.Plugins[id].Config
}
