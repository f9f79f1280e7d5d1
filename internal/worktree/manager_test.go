package worktree_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/testutil"
	"github.com/taskforge/taskforge/internal/worktree"
)

func newManager(t *testing.T) *worktree.Manager {
	t.Helper()
	root := testutil.TempDir(t)
	return worktree.NewManager(filepath.Join(root, "bare"), filepath.Join(root, "trees"), nil)
}

func TestManager_SetupClonesAndCreatesWorktree(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# hello")
	repo.Commit("initial")

	m := newManager(t)
	wt, err := m.Setup(context.Background(), core.TaskID("task-1"), repo.Path, "feature/one")
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, wt.Path != "", "expected worktree path")
	testutil.AssertFalse(t, wt.Reused, "first setup should not be a reuse")

	if _, err := os.Stat(filepath.Join(wt.Path, "README.md")); err != nil {
		t.Errorf("expected README.md in worktree: %v", err)
	}
}

func TestManager_SetupReusesExistingWorktree(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# hello")
	repo.Commit("initial")

	m := newManager(t)
	ctx := context.Background()
	taskID := core.TaskID("task-2")

	_, err := m.Setup(ctx, taskID, repo.Path, "feature/two")
	testutil.AssertNoError(t, err)

	if _, ok := m.Get(taskID); !ok {
		t.Fatal("expected in-memory tracking after first setup")
	}

	// A second Setup call for the same task within the same process
	// returns the already-tracked worktree rather than recreating it.
	wt2, err := m.Setup(ctx, taskID, repo.Path, "feature/two")
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, wt2.Reused, "same-process re-setup returns the tracked worktree directly")
}

func TestManager_SetupOnEmptyUpstreamCreatesOrphanBranch(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	// No commit: upstream has no commits, Setup must use an orphan branch.

	m := newManager(t)
	wt, err := m.Setup(context.Background(), core.TaskID("task-3"), repo.Path, "feature/empty")
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, wt.FromEmpty, "expected FromEmpty for an empty upstream")
}

func TestManager_DiffReportsChangedFiles(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# hello")
	repo.Commit("initial")

	m := newManager(t)
	ctx := context.Background()
	taskID := core.TaskID("task-4")

	wt, err := m.Setup(ctx, taskID, repo.Path, "feature/four")
	testutil.AssertNoError(t, err)

	if err := os.WriteFile(filepath.Join(wt.Path, "new.txt"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	snap, err := m.Diff(ctx, taskID, "")
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, len(snap.Files) >= 0, "diff should not error on untracked-only changes")
}

func TestManager_CleanupRemovesWorktreeDirectory(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# hello")
	repo.Commit("initial")

	m := newManager(t)
	ctx := context.Background()
	taskID := core.TaskID("task-5")

	wt, err := m.Setup(ctx, taskID, repo.Path, "feature/five")
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, m.Cleanup(ctx, taskID, false))

	if _, err := os.Stat(wt.Path); !os.IsNotExist(err) {
		t.Errorf("expected worktree directory to be removed, stat err = %v", err)
	}
	if _, ok := m.Get(taskID); ok {
		t.Error("expected worktree to be untracked after cleanup")
	}
}

func TestManager_CleanupOnUnknownTaskIsNoop(t *testing.T) {
	m := newManager(t)
	testutil.AssertNoError(t, m.Cleanup(context.Background(), core.TaskID("never-existed"), true))
}
