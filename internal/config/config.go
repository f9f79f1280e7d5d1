// Package config loads the server's runtime configuration from flags,
// environment variables, an optional YAML file, and defaults, in that
// precedence order.
package config

import "time"

// Config is the full set of knobs the server reads at startup. Field
// names map to TASKFORGE_* / the spec's literal env vars via mapstructure
// tags handled by the Loader.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Paths   PathsConfig   `mapstructure:"paths" yaml:"paths"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Forge   ForgeConfig   `mapstructure:"forge" yaml:"forge"`
	Agents  AgentsConfig  `mapstructure:"agents" yaml:"agents"`
	Runtime RuntimeConfig `mapstructure:"runtime" yaml:"runtime"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// PathsConfig controls the on-disk layout (§6.3).
type PathsConfig struct {
	ReposBaseDir  string `mapstructure:"repos_base_dir" yaml:"repos_base_dir"`
	WorktreesDir  string `mapstructure:"worktrees_dir" yaml:"worktrees_dir"`
	SecretsDir    string `mapstructure:"secrets_dir" yaml:"secrets_dir"`
	TaskStorePath string `mapstructure:"task_store_path" yaml:"task_store_path"`
}

// AuthConfig controls the single-operator bearer token (§1 Non-goals:
// single trusted operator, no multi-tenant access control).
type AuthConfig struct {
	Token string `mapstructure:"token" yaml:"token"`
}

// ForgeConfig carries the fallback forge tokens consulted when the
// SecretStore holds nothing for that provider (§6.4).
type ForgeConfig struct {
	GitHubToken string `mapstructure:"github_token" yaml:"github_token"`
	GitLabToken string `mapstructure:"gitlab_token" yaml:"gitlab_token"`
}

// AgentConfig is one entry under agents.*.
type AgentConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	Model   string `mapstructure:"model" yaml:"model"`
}

// AgentsConfig selects and configures the CLI/hosted-API backends.
type AgentsConfig struct {
	DefaultCLI string                 `mapstructure:"default_cli" yaml:"default_cli"`
	CLI        map[string]AgentConfig `mapstructure:"cli" yaml:"cli"`
	Hosted     HostedAgentConfig      `mapstructure:"hosted" yaml:"hosted"`
}

// HostedAgentConfig configures the chat-completions fallback backend.
type HostedAgentConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // anthropic | openai | openrouter
	Model    string `mapstructure:"model" yaml:"model"`
}

// RuntimeConfig exposes the two knobs §9's Open Questions flag as
// hard-coded in the source and recommends be made configurable, plus
// the log-buffer bound §9 says a port MUST pick and document.
type RuntimeConfig struct {
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	TimeoutIncrement    time.Duration `mapstructure:"timeout_increment" yaml:"timeout_increment"`
	InitialTimeout      time.Duration `mapstructure:"initial_timeout" yaml:"initial_timeout"`
	LogBufferCapacity   int           `mapstructure:"log_buffer_capacity" yaml:"log_buffer_capacity"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period" yaml:"shutdown_grace_period"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // auto | json | pretty
}
