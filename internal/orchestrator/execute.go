package orchestrator

import (
	"context"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/core"
)

// Start begins the planning/coding pipeline for a task that has not
// yet had a specification formally approved (draft, backlog, or a
// previously failed/changes-requested task being retried): it falls
// back to the task's raw user input as the specification and proceeds
// straight to planning.
func (o *Orchestrator) Start(ctx context.Context, id core.TaskID) (*core.Task, error) {
	return o.beginPlanning(ctx, id, core.ActionStart)
}

// Execute begins the planning/coding pipeline for a task whose
// specification has already been approved (or is being re-run as-is).
// It shares beginPlanning's allow-list and behavior with Start; the two
// actions differ only in the HTTP-surface name a client uses to invoke
// the same transition (§4.1 lists identical starting statuses for
// both, with no separate NextStatus entry for either).
func (o *Orchestrator) Execute(ctx context.Context, id core.TaskID) (*core.Task, error) {
	return o.beginPlanning(ctx, id, core.ActionExecute)
}

func (o *Orchestrator) beginPlanning(ctx context.Context, id core.TaskID, action core.Action) (*core.Task, error) {
	task, err := o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		if !core.Allowed(action, t.Status) {
			return false, core.ErrInvalidTransition(string(action), string(t.Status))
		}
		if t.FinalSpec == "" {
			t.FinalSpec = t.UserInput
		}
		if t.BranchName == "" {
			t.BranchName = branchNameFor(t)
		}
		o.transition(t, core.StatusPlanning)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := o.worktrees.Setup(ctx, task.ID, task.RepoURL, task.BranchName); err != nil {
		_, _ = o.withTask(context.Background(), task.ID, func(t *core.Task) (bool, error) {
			t.Error = err.Error()
			o.transition(t, core.StatusFailed)
			o.hubs.Get(t.ID).PublishError(err.Error())
			return true, nil
		})
		return task, nil
	}

	o.runPlanning(task)
	return task, nil
}

// runPlanning drives the planning-only agent invocation: the agent
// inspects the worktree and proposes an implementation plan without
// writing code, landing the task in plan_review for human approval.
func (o *Orchestrator) runPlanning(task *core.Task) {
	prompt := agent.BuildPlanPrompt(task)
	o.startAgentRun(task, agent.ModeExecute, prompt, false, nil, func(out runOutcome) {
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
			t.ImplementationPlan = out.result.Text
			if t.Agent.Name == "" {
				t.Agent.Name = out.backend
			}
			o.transition(t, core.StatusPlanReview)
			return true, nil
		})
	})
}

// ApprovePlan accepts the proposed implementation plan and starts the
// coding agent run, per the state table's plan_review -> coding entry.
func (o *Orchestrator) ApprovePlan(ctx context.Context, id core.TaskID) (*core.Task, error) {
	task, err := o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		if !core.Allowed(core.ActionApprovePlan, t.Status) {
			return false, core.ErrInvalidTransition(string(core.ActionApprovePlan), string(t.Status))
		}
		to, _ := core.NextStatus(core.ActionApprovePlan)
		o.transition(t, to)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	o.runCoding(task, false, nil, "")
	return task, nil
}

// runCoding drives the code-writing agent invocation. On success the
// diff is snapshotted immediately (§8's "diff captured at
// awaiting_review" property) and the task lands in awaiting_review;
// on failure it lands in failed. feedbackMsg is only used when resume
// is true, carrying the new instructions that triggered the resume.
func (o *Orchestrator) runCoding(task *core.Task, resume bool, priorHistory []core.ChatEvent, feedbackMsg string) {
	prompt := agent.BuildExecutePrompt(task)
	if resume {
		prompt = agent.BuildResumePrompt(task, priorHistory, feedbackMsg)
	}
	o.startAgentRun(task, agent.ModeExecute, prompt, resume, priorHistory, func(out runOutcome) {
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
			if t.Agent.Name == "" {
				t.Agent.Name = out.backend
			}
			if snap, diffErr := o.worktrees.Diff(bg, t.ID, t.TargetBranch); diffErr == nil {
				t.DiffSnapshot = snap
			} else {
				o.logger.Warn("diff snapshot failed at awaiting_review", "task_id", t.ID, "error", diffErr)
			}
			o.transition(t, core.StatusAwaitingReview)
			o.hubs.Get(t.ID).PublishAwaitingReview(t.Status)
			return true, nil
		})
	})
}

// Feedback implements §4.2's three-way feedback rule: append to a
// running agent's stdin, approve a pending plan, or resume an idle,
// non-terminal task with new instructions.
func (o *Orchestrator) Feedback(ctx context.Context, id core.TaskID, message string) (*core.Task, error) {
	if ra, ok := o.getRunning(id); ok {
		task, err := o.withTask(ctx, id, func(t *core.Task) (bool, error) {
			if !core.IsFeedbackAllowed(t.Status, true) {
				return false, core.ErrInvalidTransition(string(core.ActionFeedback), string(t.Status))
			}
			return false, nil
		})
		if err != nil {
			return nil, err
		}
		ce := core.NewChatMessage(core.ChatRoleUser, message)
		_ = o.store.AppendChatEvent(ctx, id, ce)
		o.hubs.Get(id).PublishChat(ce)
		if !ra.sendFeedback(message) {
			o.logger.Warn("feedback channel full, message dropped", "task_id", id)
		}
		return task, nil
	}

	task, err := o.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == core.StatusPlanReview {
		return o.ApprovePlan(ctx, id)
	}

	task, err = o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		if !core.IsFeedbackAllowed(t.Status, false) {
			return false, core.ErrInvalidTransition(string(core.ActionFeedback), string(t.Status))
		}
		o.transition(t, core.StatusCoding)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	history, err := o.store.ListChatEvents(ctx, id)
	if err != nil {
		history = nil
	}
	ce := core.NewChatMessage(core.ChatRoleUser, message)
	_ = o.store.AppendChatEvent(ctx, id, ce)
	o.hubs.Get(id).PublishChat(ce)

	o.runCoding(task, true, history, message)
	return task, nil
}

// ExtendTimeout pushes a running agent's deadline forward by the
// orchestrator's configured increment. It is a no-op against the
// status machine: §4.1 permits it from any status as long as an agent
// is running.
func (o *Orchestrator) ExtendTimeout(ctx context.Context, id core.TaskID) (*core.Task, error) {
	ra, running := o.getRunning(id)
	if !core.IsExtendTimeoutAllowed(running) {
		return nil, core.ErrInvalidTransition(string(core.ActionExtendTimeout), "no agent running")
	}
	newDeadline := ra.extend(o.timeoutIncrement)
	task, err := o.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	o.hubs.Get(id).PublishTimeoutWarning(newDeadline.Add(-o.timeoutIncrement), newDeadline)
	return task, nil
}

// Cancel stops a task's progress. If an agent is currently running,
// its context is canceled and the run's own completion handler
// performs the authoritative canceled transition once Runner.Run
// returns; otherwise Cancel transitions the task synchronously, since
// no other goroutine will.
func (o *Orchestrator) Cancel(ctx context.Context, id core.TaskID) (*core.Task, error) {
	if ra, ok := o.getRunning(id); ok {
		task, err := o.withTask(ctx, id, func(t *core.Task) (bool, error) {
			if !core.Allowed(core.ActionCancel, t.Status) {
				return false, core.ErrInvalidTransition(string(core.ActionCancel), string(t.Status))
			}
			return false, nil
		})
		if err != nil {
			return nil, err
		}
		ra.cancelForUser()
		return task, nil
	}

	return o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		if !core.Allowed(core.ActionCancel, t.Status) {
			return false, core.ErrInvalidTransition(string(core.ActionCancel), string(t.Status))
		}
		o.transition(t, core.StatusCanceled)
		return true, nil
	})
}
