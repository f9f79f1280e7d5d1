package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskforge/taskforge/internal/core"
)

// Approve rebases the task's branch onto its target, detects merge
// conflicts before ever opening a pull request, pushes, and opens the
// PR/MR. A conflicting rebase routes the task to merge_conflicts
// instead of failing outright, per §4.1.
func (o *Orchestrator) Approve(ctx context.Context, id core.TaskID) (*core.Task, error) {
	task, err := o.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !core.Allowed(core.ActionApprove, task.Status) {
		return nil, core.ErrInvalidTransition(string(core.ActionApprove), string(task.Status))
	}

	token, _ := o.forgeToken(ctx, task.RepoURL)

	conflictFiles, rebaseErr := o.worktrees.RebaseOntoTarget(ctx, id, task.TargetBranch)
	if rebaseErr != nil {
		if core.IsCategory(rebaseErr, core.ErrCatMergeConflict) {
			return o.withTask(ctx, id, func(t *core.Task) (bool, error) {
				t.ConflictFiles = conflictFiles
				o.transition(t, core.StatusMergeConflicts)
				return true, nil
			})
		}
		return nil, rebaseErr
	}

	if err := o.worktrees.Push(ctx, id, token); err != nil {
		return nil, err
	}

	prURL, err := o.forge.CreatePR(ctx, task.RepoURL, task.BranchName, task.TargetBranch, task.Title, prBody(task))
	if err != nil {
		return nil, err
	}

	return o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		t.PRURL = prURL
		o.transition(t, core.StatusPRCreated)
		return true, nil
	})
}

// forgeToken resolves the forge credential for repoURL's host: the
// user-saved secret first, falling back to the operator-configured
// token the forge.Client itself was built with (an empty string here
// simply means "let the Client use its own fallback").
func (o *Orchestrator) forgeToken(ctx context.Context, repoURL string) (string, error) {
	provider := "github"
	if strings.Contains(strings.ToLower(repoURL), "gitlab") {
		provider = "gitlab"
	}
	token, err := o.secrets.GetPlaintext(ctx, core.SecretKindForgeToken, provider)
	if err != nil {
		return "", nil
	}
	return token, nil
}

func prBody(task *core.Task) string {
	var b strings.Builder
	b.WriteString(task.FinalSpec)
	if task.ImplementationPlan != "" {
		fmt.Fprintf(&b, "\n\n## Implementation plan\n%s", task.ImplementationPlan)
	}
	return b.String()
}

// RequestChanges sends an opened PR back to changes_requested so the
// user can push follow-up feedback.
func (o *Orchestrator) RequestChanges(ctx context.Context, id core.TaskID) (*core.Task, error) {
	return o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		if !core.Allowed(core.ActionRequestChanges, t.Status) {
			return false, core.ErrInvalidTransition(string(core.ActionRequestChanges), string(t.Status))
		}
		o.transition(t, core.StatusChangesRequested)
		return true, nil
	})
}

// PRMerged marks the task done once its pull/merge request has landed.
func (o *Orchestrator) PRMerged(ctx context.Context, id core.TaskID) (*core.Task, error) {
	task, err := o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		if !core.Allowed(core.ActionPRMerged, t.Status) {
			return false, core.ErrInvalidTransition(string(core.ActionPRMerged), string(t.Status))
		}
		to, _ := core.NextStatus(core.ActionPRMerged)
		o.transition(t, to)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	o.captureTerminalDiff(task)
	o.hubs.Get(id).PublishComplete(task.PRURL)
	return task, nil
}

// PRClosed marks the task canceled when its pull/merge request is
// closed without merging.
func (o *Orchestrator) PRClosed(ctx context.Context, id core.TaskID) (*core.Task, error) {
	task, err := o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		if !core.Allowed(core.ActionPRClosed, t.Status) {
			return false, core.ErrInvalidTransition(string(core.ActionPRClosed), string(t.Status))
		}
		to, _ := core.NextStatus(core.ActionPRClosed)
		o.transition(t, to)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	o.captureTerminalDiff(task)
	return task, nil
}

// captureTerminalDiff snapshots the diff one last time at a terminal
// transition, before the worktree might be cleaned up (§3's "non-null
// for terminal statuses" invariant).
func (o *Orchestrator) captureTerminalDiff(task *core.Task) {
	if task.DiffSnapshot != nil {
		return
	}
	snap, err := o.worktrees.Diff(context.Background(), task.ID, task.TargetBranch)
	if err != nil {
		o.logger.Warn("terminal diff snapshot failed", "task_id", task.ID, "error", err)
		return
	}
	_, _ = o.withTask(context.Background(), task.ID, func(t *core.Task) (bool, error) {
		t.DiffSnapshot = snap
		return true, nil
	})
}

// ResolveConflicts re-attempts the rebase after the user has resolved
// conflicts locally and pushed the result via their own tooling
// out-of-band; this re-checks for remaining conflicts and, finding
// none, proceeds exactly like Approve.
func (o *Orchestrator) ResolveConflicts(ctx context.Context, id core.TaskID) (*core.Task, error) {
	_, err := o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		if !core.Allowed(core.ActionResolveConflicts, t.Status) {
			return false, core.ErrInvalidTransition(string(core.ActionResolveConflicts), string(t.Status))
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	files, err := o.worktrees.ConflictFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(files) > 0 {
		return nil, core.ErrMergeConflict(files)
	}

	_, err = o.withTask(ctx, id, func(t *core.Task) (bool, error) {
		t.ConflictFiles = nil
		o.transition(t, core.StatusAwaitingReview)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return o.Approve(ctx, id)
}

// CleanupWorktree removes a task's worktree on demand, as permitted
// from any status while no agent is running (§4.1).
func (o *Orchestrator) CleanupWorktree(ctx context.Context, id core.TaskID) error {
	if !core.IsCleanupWorktreeAllowed(o.isRunning(id)) {
		return core.ErrInvalidTransition(string(core.ActionCleanupWorktree), "agent running")
	}
	return o.worktrees.Cleanup(ctx, id, false)
}

// Changes returns the live diff for a task whose worktree still
// exists, falling back to the persisted DiffSnapshot once it has been
// cleaned up (§8's "equal before and after cleanup" property).
func (o *Orchestrator) Changes(ctx context.Context, id core.TaskID) (*core.DiffSnapshot, error) {
	task, err := o.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := o.worktrees.Get(id); ok {
		return o.worktrees.Diff(ctx, id, task.TargetBranch)
	}
	if task.DiffSnapshot != nil {
		return task.DiffSnapshot, nil
	}
	return nil, core.ErrNotFound("diff_snapshot", string(id))
}

// PRComments proxies to the ForgeClient for a task's open pull/merge
// request discussion (§12: a thin passthrough, cached by the caller).
func (o *Orchestrator) PRComments(ctx context.Context, id core.TaskID) ([]core.PRComment, error) {
	task, err := o.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.PRURL == "" {
		return nil, core.ErrValidation("NO_PR", "task has no open pull/merge request")
	}
	return o.forge.ListPRComments(ctx, task.PRURL)
}

// WorktreePath returns the on-disk path of a task's worktree, for an
// operator's editor-open command; it is empty if no worktree exists.
func (o *Orchestrator) WorktreePath(id core.TaskID) string {
	if wt, ok := o.worktrees.Get(id); ok {
		return wt.Path
	}
	return ""
}
