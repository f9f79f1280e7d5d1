package orchestrator

import (
	"context"
	"time"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/core"
)

// runOutcome summarizes a finished agent invocation for the
// mode-specific completion handlers in spec.go/execute.go/review.go.
type runOutcome struct {
	result   *core.AgentResult
	backend  string
	err      error
	timedOut bool
	canceled bool
}

// startAgentRun launches one agent invocation for task under the
// orchestrator's watchdog-enforced timeout, streaming events to both
// the task's persistent log/chat history and its live EventHub, and
// invokes onDone with the outcome once the run ends. onDone runs on
// its own goroutine, outside any lock — callers must take the task
// lock themselves via withTask.
func (o *Orchestrator) startAgentRun(task *core.Task, mode agent.Mode, prompt string, resume bool, priorHistory []core.ChatEvent, onDone func(runOutcome)) {
	ctx, cancel := context.WithCancel(context.Background())
	deadline := time.Now().Add(o.initialTimeout)
	ra := newRunningAgent(task.ID, cancel, deadline)
	o.setRunning(task.ID, ra)

	hub := o.hubs.Get(task.ID)
	logger := o.logger.WithTask(string(task.ID))

	go watchdog(ctx, ra)

	go func() {
		defer func() {
			o.clearRunning(task.ID)
			cancel()
		}()

		onEvent := func(ev core.AgentEvent) {
			o.handleAgentEvent(task.ID, ev)
		}
		onHeartbeat := func() {
			ra.mu.Lock()
			dl := ra.deadline
			ra.mu.Unlock()
			hub.PublishTimeoutWarning(time.Now(), dl)
			logger.Info("agent run heartbeat", "elapsed_since_start", time.Since(deadline.Add(-o.initialTimeout)))
		}

		inv := agent.Invocation{
			TaskID:       task.ID,
			Mode:         mode,
			PreferredCLI: task.Agent.Name,
			Model:        task.Agent.Model,
			Prompt:       prompt,
			WorktreePath: worktreePathOf(o, task.ID),
			Resume:       resume,
			PriorHistory: priorHistory,
			Feedback:     ra.feedback,
			Timeout:      unboundedRunnerTimeout,
			OnEvent:      onEvent,
			OnHeartbeat:  onHeartbeat,
		}

		result, backend, err := o.runner.Run(ctx, inv)

		outcome := runOutcome{result: result, backend: backend, err: err}
		if err != nil {
			if ra.timedOut.Load() {
				outcome.timedOut = true
			} else if core.IsCategory(err, core.ErrCatState) {
				outcome.canceled = true
			}
		}
		onDone(outcome)
	}()
}

// worktreePathOf looks up the task's worktree path, returning "" if
// none is tracked (spec generation runs before any worktree exists).
func worktreePathOf(o *Orchestrator, id core.TaskID) string {
	if wt, ok := o.worktrees.Get(id); ok {
		return wt.Path
	}
	return ""
}

// handleAgentEvent persists and broadcasts one streaming AgentEvent,
// translating the uniform backend event shape into the task's
// chat/log history per §4.5's "mapped to chat_message, tool_activity,
// or log events."
func (o *Orchestrator) handleAgentEvent(taskID core.TaskID, ev core.AgentEvent) {
	hub := o.hubs.Get(taskID)
	ctx := context.Background()

	switch ev.Type {
	case core.AgentEventAssistantText:
		ce := core.NewChatMessage(core.ChatRoleAssistant, ev.Message)
		_ = o.store.AppendChatEvent(ctx, taskID, ce)
		hub.PublishChat(ce)
	case core.AgentEventToolCall, core.AgentEventToolResult, core.AgentEventToolUse:
		tool, _ := ev.Data["tool"].(string)
		if tool == "" {
			tool = ev.Agent
		}
		ce := core.NewToolActivity(tool, ev.Message)
		_ = o.store.AppendChatEvent(ctx, taskID, ce)
		hub.PublishChat(ce)
	case core.AgentEventError:
		le := core.NewLogEntry(core.LogLevelError, ev.Message)
		_ = o.store.AppendLogEntry(ctx, taskID, le)
		hub.PublishLog(le)
	default:
		le := core.NewLogEntry(core.LogLevelAgent, ev.Message)
		_ = o.store.AppendLogEntry(ctx, taskID, le)
		hub.PublishLog(le)
	}
}
