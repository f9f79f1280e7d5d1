package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/taskforge/taskforge/internal/core"
)

// HeartbeatInterval is how often the runner emits a synthetic log line
// while a backend that buffers its whole response is running, so
// subscribers keep seeing liveness (§4.2).
const HeartbeatInterval = 15 * time.Second

// Runner drives a single agent invocation: backend selection, prompt
// construction, heartbeats, and timeout/cancellation reporting. One
// Runner is created per invocation; the orchestrator holds the
// single-task concurrency lock across the call.
type Runner struct {
	registry *Registry
}

// NewRunner builds a Runner against the given backend registry.
func NewRunner(registry *Registry) *Runner {
	return &Runner{registry: registry}
}

// Invocation is everything the orchestrator supplies for one run.
type Invocation struct {
	TaskID        core.TaskID
	Mode          Mode
	PreferredCLI  string
	Model         string
	Prompt        string
	WorktreePath  string
	Resume        bool
	PriorHistory  []core.ChatEvent
	Feedback      <-chan string
	Timeout       time.Duration
	OnEvent       func(core.AgentEvent)
	OnHeartbeat   func()
}

// Run selects a backend per §4.2's order, invokes it under a deadline,
// and returns its result or a timeout/backend-failure/no-backend error.
func (r *Runner) Run(ctx context.Context, inv Invocation) (*core.AgentResult, string, error) {
	backend, err := r.registry.Select(ctx, inv.PreferredCLI, inv.Mode)
	if err != nil {
		return nil, "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, inv.Timeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go r.runHeartbeat(runCtx, inv.OnHeartbeat, heartbeatDone)
	defer func() { <-heartbeatDone }()

	req := core.AgentRequest{
		TaskID:       inv.TaskID,
		Prompt:       inv.Prompt,
		WorktreePath: inv.WorktreePath,
		Model:        inv.Model,
		Resume:       inv.Resume,
		PriorHistory: inv.PriorHistory,
		Feedback:     inv.Feedback,
	}

	result, err := backend.Run(runCtx, req, inv.OnEvent)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, backend.Name(), core.ErrTimeout(fmt.Sprintf("%s: run exceeded %v", backend.Name(), inv.Timeout))
		}
		if runCtx.Err() == context.Canceled {
			return nil, backend.Name(), core.ErrState("CANCELLED", "run canceled by user")
		}
		return nil, backend.Name(), core.ErrBackendFailure(err.Error(), err)
	}

	return result, backend.Name(), nil
}

func (r *Runner) runHeartbeat(ctx context.Context, onHeartbeat func(), done chan<- struct{}) {
	defer close(done)
	if onHeartbeat == nil {
		return
	}
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			onHeartbeat()
		}
	}
}
