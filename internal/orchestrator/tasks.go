package orchestrator

import (
	"context"
	"time"

	"github.com/taskforge/taskforge/internal/core"
)

// CreateInput is the user-supplied shape of a new task, before an ID,
// status, or any agent-derived fields exist.
type CreateInput struct {
	Title        string
	Description  string
	UserInput    string
	RepositoryID string
	RepoURL      string
	TargetBranch string
	ContextFiles []string
	BuildCommand string
	PreferredCLI string
	Model        string
}

// CreateTask mints a task ID, validates the input, and persists the
// task in StatusDraft.
func (o *Orchestrator) CreateTask(ctx context.Context, in CreateInput) (*core.Task, error) {
	now := time.Now()
	task := &core.Task{
		ID:           NewTaskID(),
		Title:        in.Title,
		Description:  in.Description,
		UserInput:    in.UserInput,
		RepositoryID: in.RepositoryID,
		RepoURL:      in.RepoURL,
		TargetBranch: in.TargetBranch,
		ContextFiles: in.ContextFiles,
		BuildCommand: in.BuildCommand,
		Agent: core.AgentSelection{
			Name:  in.PreferredCLI,
			Model: in.Model,
		},
		Status:    core.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateFields carries the optional, individually-settable fields of a
// partial task update (§6.1 PATCH /tasks/:id); a nil pointer/slice means
// "leave this field alone."
type UpdateFields struct {
	Title        *string
	Description  *string
	RepositoryID *string
	TargetBranch *string
	ContextFiles []string
	BuildCommand *string
}

// UpdateTask applies a partial update to task metadata. It does not
// touch Status or any agent-derived field; those move only through the
// dedicated action methods.
func (o *Orchestrator) UpdateTask(ctx context.Context, id core.TaskID, in UpdateFields) (*core.Task, error) {
	return o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		mutated := false
		if in.Title != nil {
			t.Title = *in.Title
			mutated = true
		}
		if in.Description != nil {
			t.Description = *in.Description
			mutated = true
		}
		if in.RepositoryID != nil {
			t.RepositoryID = *in.RepositoryID
			mutated = true
		}
		if in.TargetBranch != nil {
			t.TargetBranch = *in.TargetBranch
			mutated = true
		}
		if in.ContextFiles != nil {
			t.ContextFiles = in.ContextFiles
			mutated = true
		}
		if in.BuildCommand != nil {
			t.BuildCommand = *in.BuildCommand
			mutated = true
		}
		if !mutated {
			return false, nil
		}
		t.UpdatedAt = time.Now()
		if err := t.Validate(); err != nil {
			return false, err
		}
		return true, nil
	})
}

// GetTask returns a single task by ID.
func (o *Orchestrator) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	if !core.ValidTaskID(string(id)) {
		return nil, core.ErrValidation("INVALID_ID", "task id does not match the opaque-id pattern")
	}
	return o.store.GetTask(ctx, id)
}

// ListTasks returns every task, optionally filtered to one repository.
func (o *Orchestrator) ListTasks(ctx context.Context, repositoryID string) ([]*core.Task, error) {
	return o.store.ListTasks(ctx, repositoryID)
}

// ChatHistory returns a task's full chat transcript.
func (o *Orchestrator) ChatHistory(ctx context.Context, id core.TaskID) ([]core.ChatEvent, error) {
	return o.store.ListChatEvents(ctx, id)
}

// LogHistory returns a task's buffered log lines as persisted (the
// live in-memory EventHub may hold additional lines dropped from here
// only if the process has not yet flushed them; see review.go/Changes).
func (o *Orchestrator) LogHistory(ctx context.Context, id core.TaskID) ([]core.LogEntry, error) {
	return o.store.ListLogEntries(ctx, id)
}

// DeleteTask removes a task and its worktree. Delete is allowed from
// any status (§4.1); a running agent is canceled first so its goroutine
// does not race the deletion.
func (o *Orchestrator) DeleteTask(ctx context.Context, id core.TaskID) error {
	if ra, ok := o.getRunning(id); ok {
		ra.cancelForUser()
	}
	if err := o.worktrees.Cleanup(ctx, id, true); err != nil {
		o.logger.Warn("worktree cleanup failed during task delete", "task_id", id, "error", err)
	}
	o.hubs.Remove(id)
	return o.store.DeleteTask(ctx, id)
}
