package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/spf13/viper"
)

// Loader loads configuration from CLI flags, environment variables, an
// optional YAML file, and defaults, in that precedence order — the
// same layering the teacher's loader uses, trimmed to this server's
// much smaller knob set.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
	mu         sync.Mutex
}

// NewLoader creates a loader with the default "TASKFORGE" env prefix.
func NewLoader() *Loader {
	return &Loader{v: viper.New(), envPrefix: "TASKFORGE"}
}

// WithConfigFile sets an explicit YAML config path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper exposes the underlying viper instance for CLI flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads configuration from all sources and returns the resolved
// Config. The spec's literal §6.4 environment variable names
// (PORT, AUTH_TOKEN, REPOS_BASE_DIR, WORKTREES_DIR, SECRETS_DIR,
// GITHUB_TOKEN, GITLAB_TOKEN) are bound directly, unprefixed, so the
// server honors them exactly as documented even though the rest of the
// knob set lives under the TASKFORGE_ prefix.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		if err := writeDefaultConfigIfMissing(l.configFile); err != nil {
			return nil, err
		}
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	l.applySpecEnvVars(&cfg)

	return &cfg, nil
}

// applySpecEnvVars overlays the spec's literal (unprefixed) environment
// variable names on top of whatever the TASKFORGE_-prefixed/file/default
// layers produced, giving them the highest precedence as §6.4 names them
// directly rather than as TASKFORGE_* aliases.
func (l *Loader) applySpecEnvVars(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := parsePort(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v, ok := os.LookupEnv("AUTH_TOKEN"); ok {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("REPOS_BASE_DIR"); v != "" {
		cfg.Paths.ReposBaseDir = v
	}
	if v := os.Getenv("WORKTREES_DIR"); v != "" {
		cfg.Paths.WorktreesDir = v
	}
	if v := os.Getenv("SECRETS_DIR"); v != "" {
		cfg.Paths.SecretsDir = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.Forge.GitHubToken = v
	}
	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		cfg.Forge.GitLabToken = v
	}
}

// writeDefaultConfigIfMissing ships DefaultConfigYAML to path the first
// time an operator points --config at a file that doesn't exist yet,
// using renameio so a crash mid-write never leaves a truncated config
// file behind for the next boot to read.
func writeDefaultConfigIfMissing(path string) error {
	if _, err := os.Stat(path); err == nil || !os.IsNotExist(err) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := renameio.WriteFile(path, []byte(DefaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}

func parsePort(s string) (int, error) {
	var port int
	_, err := fmt.Sscanf(s, "%d", &port)
	return port, err
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("server.port", 8787)
	l.v.SetDefault("paths.repos_base_dir", ".taskforge/repos")
	l.v.SetDefault("paths.worktrees_dir", ".taskforge/worktrees")
	l.v.SetDefault("paths.secrets_dir", ".taskforge/secrets")
	l.v.SetDefault("paths.task_store_path", ".taskforge/state/tasks.db")
	l.v.SetDefault("agents.default_cli", "claude")
	l.v.SetDefault("agents.hosted.provider", "anthropic")
	l.v.SetDefault("runtime.heartbeat_interval", "15s")
	l.v.SetDefault("runtime.timeout_increment", "5m")
	l.v.SetDefault("runtime.initial_timeout", "5m")
	l.v.SetDefault("runtime.log_buffer_capacity", 500)
	l.v.SetDefault("runtime.shutdown_grace_period", "10s")
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")
}

// ConfigFile returns the config file path actually used, if any.
func (l *Loader) ConfigFile() string {
	if l.configFile != "" {
		return l.configFile
	}
	return l.v.ConfigFileUsed()
}
