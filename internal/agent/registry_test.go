package agent_test

import (
	"context"
	"testing"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/testutil"
)

type stubBackend struct {
	name      string
	available bool
}

func (b *stubBackend) Name() string                      { return b.name }
func (b *stubBackend) Kind() core.BackendKind             { return core.BackendCLI }
func (b *stubBackend) Available(context.Context) bool     { return b.available }
func (b *stubBackend) Run(context.Context, core.AgentRequest, func(core.AgentEvent)) (*core.AgentResult, error) {
	return &core.AgentResult{Text: b.name}, nil
}

func newTestRegistry() *agent.Registry {
	r := agent.NewRegistry(config.AgentsConfig{DefaultCLI: "claude"}, "")
	return r
}

func TestRegistry_SelectPrefersPreferredCLIWhenAvailable(t *testing.T) {
	r := newTestRegistry()
	r.Register("claude", &stubBackend{name: "claude", available: true})
	r.Register("codex", &stubBackend{name: "codex", available: true})

	b, err := r.Select(context.Background(), "codex", agent.ModeExecute)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, b.Name(), "codex")
}

func TestRegistry_SelectFallsBackToDefaultCLI(t *testing.T) {
	r := newTestRegistry()
	r.Register("claude", &stubBackend{name: "claude", available: true})

	b, err := r.Select(context.Background(), "unregistered", agent.ModeExecute)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, b.Name(), "claude")
}

func TestRegistry_SelectFallsBackToHostedWhenNoCLIAvailable(t *testing.T) {
	r := newTestRegistry()
	r.Register("claude", &stubBackend{name: "claude", available: false})
	r.Register("anthropic", &stubBackend{name: "anthropic", available: true})

	b, err := r.Select(context.Background(), "claude", agent.ModeExecute)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, b.Name(), "anthropic")
}

func TestRegistry_SelectSkipsClaudeCLIInSpecMode(t *testing.T) {
	r := newTestRegistry()
	r.Register("claude", &stubBackend{name: "claude", available: true})
	r.Register("anthropic", &stubBackend{name: "anthropic", available: true})

	b, err := r.Select(context.Background(), "claude", agent.ModeSpec)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, b.Name(), "anthropic")
}

func TestRegistry_SelectReturnsErrNoBackendAvailable(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Select(context.Background(), "claude", agent.ModeExecute)
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, core.IsCategory(err, core.ErrCatNoBackend), "expected ErrCatNoBackend")
}

func TestRegistry_SetDefaultCLIOverridesFallback(t *testing.T) {
	r := newTestRegistry()
	r.Register("claude", &stubBackend{name: "claude", available: true})
	r.Register("codex", &stubBackend{name: "codex", available: true})
	r.SetDefaultCLI("codex")

	b, err := r.Select(context.Background(), "unregistered", agent.ModeExecute)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, b.Name(), "codex")
}
