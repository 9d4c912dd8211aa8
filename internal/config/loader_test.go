package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/pipelab/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "current version",
			yaml: `
version: "3.0.0"
state:
  path: ./test.db
cache_folder: /var/cache/pipelab
clear_temporary_folders_on_pipeline_end: true
execution:
  policy: best-effort
  step_timeout: 30s
plugins:
  filesystem:
    timeout: 2m
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.State.Path != "./test.db" {
					t.Error("state.path not parsed")
				}
				if cfg.CacheFolder != "/var/cache/pipelab" || !cfg.ClearTemporaryFolders {
					t.Errorf("cache settings = %q, %v", cfg.CacheFolder, cfg.ClearTemporaryFolders)
				}
				if cfg.Execution.Policy != "best-effort" || cfg.Execution.StepTimeout != 30*time.Second {
					t.Errorf("execution = %+v", cfg.Execution)
				}
				if cfg.Plugins["filesystem"].Timeout != 2*time.Minute {
					t.Error("plugin timeout not parsed")
				}
				if !cfg.Plugins["filesystem"].IsEnabled() {
					t.Error("plugins are enabled unless switched off")
				}
				if cfg.Service.Name != "pipelab" || cfg.Service.LogLevel != "info" {
					t.Errorf("service defaults not applied: %+v", cfg.Service)
				}
			},
		},
		{
			name: "version 1 is migrated",
			yaml: `
version: 1
service:
  log_level: debug
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Version != CurrentVersion {
					t.Errorf("version = %q, want %q", cfg.Version, CurrentVersion)
				}
				if cfg.CacheFolder != DefaultCacheFolder() {
					t.Errorf("cache_folder = %q", cfg.CacheFolder)
				}
				if cfg.ClearTemporaryFolders {
					t.Error("clear flag should default to false")
				}
			},
		},
		{
			name: "missing version is the oldest layout",
			yaml: "plugins_dir: ./ext\n",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Version != CurrentVersion || cfg.PluginsDir != "./ext" {
					t.Errorf("cfg = %+v", cfg)
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
version: "3.0.0"
state:
  path: ${PIPELAB_TEST_DB}
plugins:
  remote:
    config:
      token: ${PIPELAB_TEST_TOKEN}
`,
			env: map[string]string{
				"PIPELAB_TEST_DB":    "/tmp/test.db",
				"PIPELAB_TEST_TOKEN": "secret123",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.State.Path != "/tmp/test.db" {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
				if cfg.PluginConfig("remote")["token"] != "secret123" {
					t.Error("plugin config not interpolated")
				}
			},
		},
		{
			name: "unset env var in enabled plugin config",
			yaml: `
plugins:
  remote:
    config:
      token: ${PIPELAB_TEST_UNSET}
`,
			wantErr: "${PIPELAB_TEST_UNSET} is not set",
		},
		{
			name: "unset env var in disabled plugin is ignored",
			yaml: `
plugins:
  remote:
    enabled: false
    config:
      token: ${PIPELAB_TEST_UNSET}
`,
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "bad policy",
			yaml:    "execution:\n  policy: yolo\n",
			wantErr: "execution.policy",
		},
		{
			name: "webhook without pipeline",
			yaml: `
webhooks:
  listen: 127.0.0.1:8081
  endpoints:
    - path: /hook
      secret: s
`,
			wantErr: "pipeline is required",
		},
		{
			name: "webhook without listen",
			yaml: `
webhooks:
  endpoints:
    - path: /hook
      pipeline: deploy
      secret: s
`,
			wantErr: "webhooks.listen is required",
		},
		{
			name:    "downgrade",
			yaml:    "version: \"9.0.0\"\n",
			wantErr: "migrate settings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Path() == "" {
				t.Error("Path() should record the source file")
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Path() != "" || cfg.Execution.Policy != "fail-fast" {
		t.Fatalf("expected built-in defaults, got %+v", cfg)
	}

	path := writeConfig(t, "execution:\n  policy: best-effort\n")
	t.Setenv(EnvConfigPath, path)
	cfg, err = LoadOrDefault("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Execution.Policy != "best-effort" {
		t.Fatalf("discovered config not used: %+v", cfg.Execution)
	}
}
