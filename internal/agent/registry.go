// Package agent implements the AgentRunner: backend selection across
// installed CLI tools and hosted chat APIs, prompt construction for
// spec and execute mode, and timeout/resume/feedback handling.
package agent

import (
	"context"
	"sync"

	"github.com/taskforge/taskforge/internal/adapters/cli"
	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/core"
)

// Registry holds every configured backend, keyed by name ("claude",
// "codex", "gemini", "copilot", "anthropic", "openai").
type Registry struct {
	mu          sync.RWMutex
	backends    map[string]core.AgentBackend
	defaultCLI  string
}

// NewRegistry builds a Registry from the resolved configuration,
// constructing one cli.Backend per enabled CLI tool and one hosted
// backend per configured provider. hostedKey is the decrypted
// credential for that provider, resolved by the caller from SecretStore.
func NewRegistry(cfg config.AgentsConfig, hostedKey string) *Registry {
	r := &Registry{backends: make(map[string]core.AgentBackend), defaultCLI: cfg.DefaultCLI}

	for name, ac := range cfg.CLI {
		if !ac.Enabled {
			continue
		}
		cliCfg := cli.AgentConfig{Name: name, Path: ac.Path, Model: ac.Model}
		switch name {
		case "claude":
			r.backends[name] = cli.NewClaudeBackend(cliCfg)
		case "codex":
			r.backends[name] = cli.NewCodexBackend(cliCfg)
		case "gemini":
			r.backends[name] = cli.NewGeminiBackend(cliCfg)
		case "copilot":
			r.backends[name] = cli.NewCopilotBackend(cliCfg)
		}
	}

	switch cfg.Hosted.Provider {
	case "openai", "openrouter":
		baseURL := ""
		if cfg.Hosted.Provider == "openrouter" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		r.backends["openai"] = NewOpenAIBackend(hostedKey, baseURL, cfg.Hosted.Model)
	default:
		r.backends["anthropic"] = NewAnthropicBackend(hostedKey, cfg.Hosted.Model)
	}

	return r
}

// Get returns a registered backend by name.
func (r *Registry) Get(name string) (core.AgentBackend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Register adds or replaces a backend under name. Used at startup for
// backends NewRegistry does not construct on its own, and by tests to
// inject a fake backend.
func (r *Registry) Register(name string, b core.AgentBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
}

// SetDefaultCLI overrides the registry's default CLI backend name,
// used after a secret save invalidates previously-cached CLI detection
// (§4.6) and the operator reconfigures which tool to prefer.
func (r *Registry) SetDefaultCLI(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultCLI = name
}

// Select implements §4.2's backend selection order for the given task
// backend preference. mode distinguishes spec generation from
// execution, since the Claude CLI is skipped in spec mode in favor of
// the Anthropic hosted API when both are available.
func (r *Registry) Select(ctx context.Context, preferredCLI string, mode Mode) (core.AgentBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skipClaudeCLI := mode == ModeSpec
	if !(skipClaudeCLI && preferredCLI == "claude") {
		if preferredCLI != "" {
			if b, ok := r.backends[preferredCLI]; ok && b.Available(ctx) {
				return b, nil
			}
		}
	}

	if !(skipClaudeCLI && r.defaultCLI == "claude") {
		if b, ok := r.backends[r.defaultCLI]; ok && b.Available(ctx) {
			return b, nil
		}
	}

	for _, name := range []string{"anthropic", "openai"} {
		if b, ok := r.backends[name]; ok && b.Available(ctx) {
			return b, nil
		}
	}

	return nil, core.ErrNoBackendAvailable("no CLI installed/authenticated and no hosted-API credential configured")
}

// Mode distinguishes AgentRunner invocation modes.
type Mode string

const (
	ModeSpec    Mode = "spec"
	ModeExecute Mode = "execute"
)
