package config

// DefaultConfigYAML is written to a fresh config file the first time
// the server starts without one, mirroring the teacher's
// ship-a-documented-default-file approach.
const DefaultConfigYAML = `# taskforge server configuration
server:
  port: 8787

paths:
  repos_base_dir: ".taskforge/repos"
  worktrees_dir: ".taskforge/worktrees"
  secrets_dir: ".taskforge/secrets"
  task_store_path: ".taskforge/state/tasks.db"

auth:
  token: ""

forge:
  github_token: ""
  gitlab_token: ""

agents:
  default_cli: "claude"
  cli:
    claude:
      enabled: true
      path: "claude"
    codex:
      enabled: false
      path: "codex"
    gemini:
      enabled: false
      path: "gemini"
    copilot:
      enabled: false
      path: "copilot"
  hosted:
    provider: "anthropic"
    model: ""

runtime:
  heartbeat_interval: "15s"
  timeout_increment: "5m"
  initial_timeout: "5m"
  log_buffer_capacity: 500
  shutdown_grace_period: "10s"

log:
  level: "info"
  format: "auto"
`
