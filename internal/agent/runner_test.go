package agent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/testutil"
)

type scriptedBackend struct {
	name string
	run  func(ctx context.Context, req core.AgentRequest, onEvent func(core.AgentEvent)) (*core.AgentResult, error)
}

func (b *scriptedBackend) Name() string              { return b.name }
func (b *scriptedBackend) Kind() core.BackendKind     { return core.BackendCLI }
func (b *scriptedBackend) Available(context.Context) bool { return true }
func (b *scriptedBackend) Run(ctx context.Context, req core.AgentRequest, onEvent func(core.AgentEvent)) (*core.AgentResult, error) {
	return b.run(ctx, req, onEvent)
}

func newRunnerWith(name string, b core.AgentBackend) *agent.Runner {
	r := agent.NewRegistry(config.AgentsConfig{DefaultCLI: name}, "")
	r.Register(name, b)
	return agent.NewRunner(r)
}

func TestRunner_RunReturnsBackendResult(t *testing.T) {
	backend := &scriptedBackend{
		name: "claude",
		run: func(ctx context.Context, req core.AgentRequest, onEvent func(core.AgentEvent)) (*core.AgentResult, error) {
			testutil.AssertEqual(t, req.Prompt, "do the thing")
			return &core.AgentResult{Text: "done"}, nil
		},
	}
	runner := newRunnerWith("claude", backend)

	result, name, err := runner.Run(context.Background(), agent.Invocation{
		PreferredCLI: "claude",
		Mode:         agent.ModeExecute,
		Prompt:       "do the thing",
		Timeout:      time.Second,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, name, "claude")
	testutil.AssertEqual(t, result.Text, "done")
}

func TestRunner_RunReportsTimeoutAsErrCatTimeout(t *testing.T) {
	backend := &scriptedBackend{
		name: "claude",
		run: func(ctx context.Context, req core.AgentRequest, onEvent func(core.AgentEvent)) (*core.AgentResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	runner := newRunnerWith("claude", backend)

	_, _, err := runner.Run(context.Background(), agent.Invocation{
		PreferredCLI: "claude",
		Mode:         agent.ModeExecute,
		Timeout:      20 * time.Millisecond,
	})
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, core.IsCategory(err, core.ErrCatTimeout), "expected ErrCatTimeout")
}

func TestRunner_RunReportsBackendFailure(t *testing.T) {
	boom := errors.New("boom")
	backend := &scriptedBackend{
		name: "claude",
		run: func(ctx context.Context, req core.AgentRequest, onEvent func(core.AgentEvent)) (*core.AgentResult, error) {
			return nil, boom
		},
	}
	runner := newRunnerWith("claude", backend)

	_, _, err := runner.Run(context.Background(), agent.Invocation{
		PreferredCLI: "claude",
		Mode:         agent.ModeExecute,
		Timeout:      time.Second,
	})
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, core.IsCategory(err, core.ErrCatBackendFailure), "expected ErrCatBackendFailure")
}

func TestRunner_RunFiresHeartbeats(t *testing.T) {
	backend := &scriptedBackend{
		name: "claude",
		run: func(ctx context.Context, req core.AgentRequest, onEvent func(core.AgentEvent)) (*core.AgentResult, error) {
			time.Sleep(40 * time.Millisecond)
			return &core.AgentResult{Text: "done"}, nil
		},
	}
	runner := newRunnerWith("claude", backend)

	beats := make(chan struct{}, 8)
	_, _, err := runner.Run(context.Background(), agent.Invocation{
		PreferredCLI: "claude",
		Mode:         agent.ModeExecute,
		Timeout:      time.Second,
		OnHeartbeat:  func() { beats <- struct{}{} },
	})
	testutil.AssertNoError(t, err)
	// HeartbeatInterval is 15s, far longer than this run; no heartbeat
	// should have fired, but OnHeartbeat must not be called after Run
	// returns (the goroutine is drained via the heartbeatDone channel).
	select {
	case <-beats:
		t.Fatal("unexpected heartbeat during a short run")
	default:
	}
}
