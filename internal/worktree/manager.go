// Package worktree implements the GitWorktreeManager: a per-URL cache of
// bare clones plus one exclusive worktree per task, with reuse, diff,
// conflict-file, push, and retrying cleanup semantics.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/taskforge/taskforge/internal/adapters/git"
	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/logging"
	"github.com/taskforge/taskforge/internal/process"
)

// cleanupRetries and cleanupBackoff implement §4.3's cleanup contract:
// retry removal up to five times with increasing back-off, invoking the
// process-killing helper before the last attempt.
const cleanupRetries = 5

var cleanupBackoff = []time.Duration{
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
}

// Manager is the sole core.WorktreeManager implementation.
type Manager struct {
	bareDir  string
	treesDir string
	logger   *logging.Logger

	mu    sync.Mutex
	bares map[string]*core.BareRepo    // keyed by repo URL
	trees map[core.TaskID]*core.Worktree
}

// NewManager builds a Manager rooted at bareDir (bare clone cache) and
// treesDir (per-task worktrees).
func NewManager(bareDir, treesDir string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		bareDir:  bareDir,
		treesDir: treesDir,
		logger:   logger,
		bares:    make(map[string]*core.BareRepo),
		trees:    make(map[core.TaskID]*core.Worktree),
	}
}

var _ core.WorktreeManager = (*Manager)(nil)

func (m *Manager) barePath(repoURL string) string {
	return filepath.Join(m.bareDir, "local-"+slugify(repoURL)+".git")
}

func (m *Manager) worktreePath(taskID core.TaskID) string {
	return filepath.Join(m.treesDir, "task-"+string(taskID))
}

// Setup ensures a bare clone exists for repoURL and a worktree exists
// for taskID, reusing an on-disk worktree left over from a prior
// process if one is already present and valid.
func (m *Manager) Setup(ctx context.Context, taskID core.TaskID, repoURL, branch string) (*core.Worktree, error) {
	m.mu.Lock()
	if wt, ok := m.trees[taskID]; ok {
		m.mu.Unlock()
		return wt, nil
	}
	m.mu.Unlock()

	bare, err := m.ensureBare(ctx, repoURL)
	if err != nil {
		return nil, err
	}

	path := m.worktreePath(taskID)

	if isValidWorktreeDir(path) {
		wt := &core.Worktree{
			TaskID:       taskID,
			Path:         path,
			BareRepoPath: bare.Path,
			Branch:       branch,
			Reused:       true,
			CreatedAt:    time.Now(),
		}
		m.mu.Lock()
		m.trees[taskID] = wt
		m.mu.Unlock()
		return wt, nil
	}

	bareClient, err := git.NewClient(bare.Path)
	if err != nil {
		return nil, fmt.Errorf("opening bare clone: %w", err)
	}

	hasCommits, err := bareClient.HasCommits(ctx)
	if err != nil {
		return nil, err
	}

	fromEmpty := !hasCommits
	if fromEmpty {
		if err := bareClient.CreateOrphanWorktree(ctx, path, branch); err != nil {
			return nil, fmt.Errorf("creating orphan worktree: %w", err)
		}
	} else {
		if err := bareClient.CreateWorktree(ctx, path, branch); err != nil {
			return nil, fmt.Errorf("creating worktree: %w", err)
		}
	}

	wt := &core.Worktree{
		TaskID:       taskID,
		Path:         path,
		BareRepoPath: bare.Path,
		Branch:       branch,
		FromEmpty:    fromEmpty,
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	m.trees[taskID] = wt
	m.mu.Unlock()

	return wt, nil
}

// ensureBare clones repoURL bare if it isn't already cached, under a
// lock scoped to this manager — the bare directory is shared across
// tasks, so a concurrent Setup for a second task on the same URL waits
// for the first clone rather than racing it.
func (m *Manager) ensureBare(ctx context.Context, repoURL string) (*core.BareRepo, error) {
	m.mu.Lock()
	if b, ok := m.bares[repoURL]; ok {
		m.mu.Unlock()
		return b, nil
	}
	m.mu.Unlock()

	path := m.barePath(repoURL)
	if _, err := git.CloneBare(ctx, repoURL, path); err != nil {
		return nil, fmt.Errorf("cloning %s: %w", repoURL, err)
	}

	bare := &core.BareRepo{URL: repoURL, Path: path, CreatedAt: time.Now()}
	m.mu.Lock()
	m.bares[repoURL] = bare
	m.mu.Unlock()
	return bare, nil
}

// Get returns the in-memory worktree record for taskID, if tracked.
func (m *Manager) Get(taskID core.TaskID) (*core.Worktree, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt, ok := m.trees[taskID]
	return wt, ok
}

// Diff returns the changed-file list and unified diff for the task's
// worktree, compared against the given ref (the task's target branch)
// or the index when against is empty.
func (m *Manager) Diff(ctx context.Context, taskID core.TaskID, against string) (*core.DiffSnapshot, error) {
	wt, ok := m.Get(taskID)
	if !ok {
		return nil, core.ErrNotFound("worktree", string(taskID))
	}

	client, err := git.NewClient(wt.Path)
	if err != nil {
		return nil, err
	}

	var statusOut, diffOut string
	if against != "" {
		statusOut, err = client.DiffFilesWithStatus(ctx, against, "")
		if err != nil {
			return nil, err
		}
		diffOut, err = client.Diff(ctx, against, "")
		if err != nil {
			return nil, err
		}
	} else {
		statusOut, err = client.DiffFilesWithStatus(ctx, "", "")
		if err != nil {
			return nil, err
		}
		diffOut, err = client.DiffUnstaged(ctx)
		if err != nil {
			return nil, err
		}
	}

	return &core.DiffSnapshot{
		Files: parseFileChanges(statusOut),
		Diff:  diffOut,
	}, nil
}

// ConflictFiles returns the paths currently marked unmerged in the
// task's worktree.
func (m *Manager) ConflictFiles(ctx context.Context, taskID core.TaskID) ([]string, error) {
	wt, ok := m.Get(taskID)
	if !ok {
		return nil, core.ErrNotFound("worktree", string(taskID))
	}
	client, err := git.NewClient(wt.Path)
	if err != nil {
		return nil, err
	}
	return client.GetConflictFiles(ctx)
}

// RebaseOntoTarget fetches origin and rebases the task's branch onto
// origin/targetBranch. A conflicting rebase is left in place (so the
// conflict markers GetConflictFiles and resolve-conflicts rely on are
// still on disk) and reported via ErrMergeConflict; any other rebase
// failure aborts the rebase before returning so the worktree is never
// left in a broken intermediate state.
func (m *Manager) RebaseOntoTarget(ctx context.Context, taskID core.TaskID, targetBranch string) ([]string, error) {
	if targetBranch == "" {
		return nil, nil
	}
	wt, ok := m.Get(taskID)
	if !ok {
		return nil, core.ErrNotFound("worktree", string(taskID))
	}
	client, err := git.NewClient(wt.Path)
	if err != nil {
		return nil, err
	}

	if err := client.Fetch(ctx, "origin"); err != nil {
		m.logger.Warn("fetch before rebase failed, proceeding against local state",
			"task_id", taskID, "error", err)
	}

	onto := "origin/" + targetBranch
	if exists, _ := client.BranchExists(ctx, onto); !exists {
		return nil, nil
	}

	if err := client.Rebase(ctx, onto); err != nil {
		if errors.Is(err, git.ErrRebaseConflict) {
			files, cErr := client.GetConflictFiles(ctx)
			if cErr != nil {
				return nil, cErr
			}
			return files, core.ErrMergeConflict(files)
		}
		_ = client.AbortRebase(ctx)
		return nil, fmt.Errorf("rebasing onto %s: %w", onto, err)
	}
	return nil, nil
}

// Push pushes the task's branch to its origin remote, rewriting the
// remote URL with forgeToken as a basic-auth credential when given.
func (m *Manager) Push(ctx context.Context, taskID core.TaskID, forgeToken string) error {
	wt, ok := m.Get(taskID)
	if !ok {
		return core.ErrNotFound("worktree", string(taskID))
	}
	client, err := git.NewClient(wt.Path)
	if err != nil {
		return err
	}

	if forgeToken == "" {
		return client.Push(ctx, "origin", wt.Branch)
	}

	remote, err := client.RemoteURL(ctx)
	if err != nil {
		return err
	}
	authed := injectToken(remote, forgeToken)
	if _, err := client.RunRemoteSetURL(ctx, "origin", authed); err != nil {
		return err
	}
	return client.Push(ctx, "origin", wt.Branch)
}

// Cleanup removes the task's worktree directory, retrying with
// increasing back-off when removal fails because of still-open file
// handles, and never returns a hard failure — it logs and continues so
// task deletion is never blocked by a stuck worktree.
func (m *Manager) Cleanup(ctx context.Context, taskID core.TaskID, removeBranch bool) error {
	wt, ok := m.Get(taskID)
	if !ok {
		return nil
	}

	bareClient, err := git.NewClient(wt.BareRepoPath)
	if err == nil {
		var lastErr error
		for attempt := 0; attempt < cleanupRetries; attempt++ {
			lastErr = bareClient.RemoveWorktree(ctx, wt.Path)
			if lastErr == nil {
				break
			}
			if attempt == cleanupRetries-2 {
				_ = process.KillProcessesUsingDirectory(wt.Path, os.Getpid())
			}
			time.Sleep(cleanupBackoff[attempt])
		}
		if lastErr != nil {
			_ = os.RemoveAll(wt.Path)
			m.logger.Error("worktree cleanup failed after retries, force-removed directory",
				"task_id", taskID, "path", wt.Path, "error", lastErr)
		}
		if removeBranch {
			_ = bareClient.DeleteBranchForce(ctx, wt.Branch)
		}
	} else {
		_ = os.RemoveAll(wt.Path)
	}

	m.mu.Lock()
	delete(m.trees, taskID)
	m.mu.Unlock()

	return nil
}

func isValidWorktreeDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	gitMarker := filepath.Join(path, ".git")
	_, err = os.Stat(gitMarker)
	return err == nil
}

func injectToken(remoteURL, token string) string {
	if !strings.HasPrefix(remoteURL, "https://") {
		return remoteURL
	}
	rest := strings.TrimPrefix(remoteURL, "https://")
	if i := strings.Index(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	return "https://x-access-token:" + token + "@" + rest
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func parseFileChanges(nameStatus string) []core.FileChange {
	var changes []core.FileChange
	for _, line := range strings.Split(strings.TrimSpace(nameStatus), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		status := "modified"
		switch parts[0][0] {
		case 'A':
			status = "added"
		case 'D':
			status = "deleted"
		case 'M':
			status = "modified"
		}
		changes = append(changes, core.FileChange{Path: parts[len(parts)-1], Status: status})
	}
	return changes
}
