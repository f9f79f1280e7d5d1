package orchestrator

import (
	"context"
	"time"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/core"
)

// GenerateSpec drafts a specification for a freshly created task: draft
// -> refining while the agent runs, landing in pending_approval on
// success or failed on error.
func (o *Orchestrator) GenerateSpec(ctx context.Context, id core.TaskID) (*core.Task, error) {
	task, err := o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		if !core.Allowed(core.ActionGenerateSpec, t.Status) {
			return false, core.ErrInvalidTransition(string(core.ActionGenerateSpec), string(t.Status))
		}
		o.transition(t, core.StatusRefining)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	o.runSpecGeneration(task)
	return task, nil
}

// RegenerateSpec re-drafts the specification from pending_approval,
// discarding any edits and running the same spec-mode agent call again.
func (o *Orchestrator) RegenerateSpec(ctx context.Context, id core.TaskID) (*core.Task, error) {
	task, err := o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		if !core.Allowed(core.ActionRegenerateSpec, t.Status) {
			return false, core.ErrInvalidTransition(string(core.ActionRegenerateSpec), string(t.Status))
		}
		t.WasEdited = false
		o.transition(t, core.StatusRefining)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	o.runSpecGeneration(task)
	return task, nil
}

// runSpecGeneration is shared by GenerateSpec and RegenerateSpec: start
// the spec-mode agent run and land the task in pending_approval or
// failed once it completes.
func (o *Orchestrator) runSpecGeneration(task *core.Task) {
	prompt := agent.BuildSpecPrompt(task)
	o.startAgentRun(task, agent.ModeSpec, prompt, false, nil, func(out runOutcome) {
		bg := context.Background()
		_, _ = o.withTask(bg, task.ID, func(t *core.Task) (bool, error) {
			if out.canceled {
				o.transition(t, core.StatusCanceled)
				return true, nil
			}
			if out.err != nil {
				t.Error = out.err.Error()
				if out.timedOut {
					t.Error = "timed out: " + t.Error
				}
				o.transition(t, core.StatusFailed)
				o.hubs.Get(t.ID).PublishError(out.err.Error())
				return true, nil
			}
			t.GeneratedSpec = out.result.Text
			if t.Agent.Name == "" {
				t.Agent.Name = out.backend
			}
			o.transition(t, core.StatusPendingApproval)
			return true, nil
		})
	})
}

// EditSpecInput carries the user's hand-edited specification text.
type EditSpecInput struct {
	Text string
}

// EditSpec overwrites the generated specification with user-edited
// text while the task awaits approval; no agent call is involved.
func (o *Orchestrator) EditSpec(ctx context.Context, id core.TaskID, in EditSpecInput) (*core.Task, error) {
	return o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		if !core.Allowed(core.ActionEditSpec, t.Status) {
			return false, core.ErrInvalidTransition(string(core.ActionEditSpec), string(t.Status))
		}
		t.GeneratedSpec = in.Text
		t.WasEdited = true
		t.UpdatedAt = time.Now()
		return true, nil
	})
}

// ApproveSpec freezes the (possibly edited) generated specification as
// the task's final specification and moves it to approved, from where
// the user separately triggers start/execute.
func (o *Orchestrator) ApproveSpec(ctx context.Context, id core.TaskID) (*core.Task, error) {
	return o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		if !core.Allowed(core.ActionApproveSpec, t.Status) {
			return false, core.ErrInvalidTransition(string(core.ActionApproveSpec), string(t.Status))
		}
		t.FinalSpec = t.GeneratedSpec
		to, _ := core.NextStatus(core.ActionApproveSpec)
		o.transition(t, to)
		return true, nil
	})
}
