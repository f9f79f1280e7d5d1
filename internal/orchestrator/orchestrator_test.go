package orchestrator_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/events"
	"github.com/taskforge/taskforge/internal/logging"
	"github.com/taskforge/taskforge/internal/orchestrator"
	"github.com/taskforge/taskforge/internal/taskstore"
	"github.com/taskforge/taskforge/internal/testutil"
	"github.com/taskforge/taskforge/internal/worktree"
)

// fakeBackend is a scripted core.AgentBackend: each call to Run pops
// the next canned result/error off its queue, so a test can script a
// multi-run scenario (plan, then code, then resume) deterministically.
type fakeBackend struct {
	name    string
	results []fakeRun
	calls   int
}

type fakeRun struct {
	text  string
	err   error
	sleep time.Duration
}

func (f *fakeBackend) Name() string                      { return f.name }
func (f *fakeBackend) Kind() core.BackendKind             { return core.BackendCLI }
func (f *fakeBackend) Available(ctx context.Context) bool { return true }
func (f *fakeBackend) Run(ctx context.Context, req core.AgentRequest, onEvent func(core.AgentEvent)) (*core.AgentResult, error) {
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	run := f.results[idx]

	if onEvent != nil {
		onEvent(core.NewAgentEvent(core.AgentEventAssistantText, f.name, "working on "+string(req.TaskID)))
	}

	if run.sleep > 0 {
		select {
		case <-time.After(run.sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if run.err != nil {
		return nil, run.err
	}
	return &core.AgentResult{Text: run.text}, nil
}

type fakeSecrets struct{}

func (fakeSecrets) Save(ctx context.Context, kind core.SecretKind, provider, plaintext string, meta core.SecretMetadata) error {
	return nil
}
func (fakeSecrets) Delete(ctx context.Context, kind core.SecretKind, provider string) error {
	return nil
}
func (fakeSecrets) GetPlaintext(ctx context.Context, kind core.SecretKind, provider string) (string, error) {
	return "", core.ErrNotFound("secret", provider)
}
func (fakeSecrets) GetStatus(ctx context.Context, kind core.SecretKind, provider string) (core.SecretStatus, error) {
	return core.SecretStatus{Kind: kind, Provider: provider}, nil
}

type fakeForge struct {
	prURL string
}

func (f *fakeForge) CreatePR(ctx context.Context, repoURL, branch, targetBranch, title, body string) (string, error) {
	return f.prURL, nil
}
func (f *fakeForge) ListPRComments(ctx context.Context, prURL string) ([]core.PRComment, error) {
	return nil, nil
}
func (f *fakeForge) RewriteRemoteWithToken(repoURL, token string) string { return repoURL }

// testHarness wires a real taskstore, a real git-backed worktree
// manager, and a scripted agent backend behind an Orchestrator.
type testHarness struct {
	o        *orchestrator.Orchestrator
	backend  *fakeBackend
	remote   string
	upstream *testutil.GitRepo
}

func newHarness(t *testing.T, results ...fakeRun) *testHarness {
	t.Helper()
	dir := testutil.TempDir(t)

	store, err := taskstore.New(filepath.Join(dir, "tasks.db"))
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := logging.NewNop()
	wm := worktree.NewManager(filepath.Join(dir, "bare"), filepath.Join(dir, "trees"), logger)

	registry := agent.NewRegistry(config.AgentsConfig{DefaultCLI: "claude"}, "")
	backend := &fakeBackend{name: "claude", results: results}
	registry.Register("claude", backend)

	hubs := events.NewManager()

	upstream := testutil.NewGitRepo(t)
	upstream.WriteFile("README.md", "hello\n")
	upstream.Commit("initial commit")

	o := orchestrator.New(store, wm, registry, hubs, fakeSecrets{}, &fakeForge{prURL: "https://github.com/acme/widget/pull/1"},
		orchestrator.WithInitialTimeout(2*time.Second),
		orchestrator.WithTimeoutIncrement(2*time.Second),
		orchestrator.WithLogger(logger),
	)

	return &testHarness{o: o, backend: backend, remote: upstream.Path, upstream: upstream}
}

func (h *testHarness) createTask(t *testing.T, title string) *core.Task {
	t.Helper()
	task, err := h.o.CreateTask(context.Background(), orchestrator.CreateInput{
		Title:        title,
		UserInput:    "add a feature",
		RepoURL:      h.remote,
		TargetBranch: "main",
		PreferredCLI: "claude",
	})
	testutil.AssertNoError(t, err)
	return task
}

func waitForStatus(t *testing.T, o *orchestrator.Orchestrator, id core.TaskID, want core.Status, timeout time.Duration) *core.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, err := o.GetTask(context.Background(), id)
		testutil.AssertNoError(t, err)
		if task.Status == want {
			return task
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task never reached status %q", want)
	return nil
}

func TestHappyPath_DraftToAwaitingReview(t *testing.T) {
	h := newHarness(t,
		fakeRun{text: "1. do the thing"},
		fakeRun{text: "implemented the thing"},
	)
	task := h.createTask(t, "Add widgets")

	_, err := h.o.GenerateSpec(context.Background(), task.ID)
	testutil.AssertNoError(t, err)
	task = waitForStatus(t, h.o, task.ID, core.StatusPendingApproval, 2*time.Second)
	testutil.AssertTrue(t, task.GeneratedSpec != "", "generated spec should be set")

	_, err = h.o.ApproveSpec(context.Background(), task.ID)
	testutil.AssertNoError(t, err)

	_, err = h.o.Start(context.Background(), task.ID)
	testutil.AssertNoError(t, err)
	task = waitForStatus(t, h.o, task.ID, core.StatusPlanReview, 2*time.Second)
	testutil.AssertTrue(t, task.ImplementationPlan != "", "implementation plan should be set")

	_, err = h.o.ApprovePlan(context.Background(), task.ID)
	testutil.AssertNoError(t, err)
	task = waitForStatus(t, h.o, task.ID, core.StatusAwaitingReview, 2*time.Second)
	testutil.AssertTrue(t, task.DiffSnapshot != nil, "diff snapshot should be captured at awaiting_review")
}

func TestTimeout_RunningAgentFailsTaskAfterDeadline(t *testing.T) {
	h := newHarness(t,
		fakeRun{text: "1. do the thing"},
		fakeRun{sleep: 5 * time.Second, text: "too slow"},
	)
	task := h.createTask(t, "Slow task")

	_, err := h.o.GenerateSpec(context.Background(), task.ID)
	testutil.AssertNoError(t, err)
	waitForStatus(t, h.o, task.ID, core.StatusPendingApproval, 2*time.Second)

	_, err = h.o.ApproveSpec(context.Background(), task.ID)
	testutil.AssertNoError(t, err)

	_, err = h.o.Start(context.Background(), task.ID)
	testutil.AssertNoError(t, err)

	task = waitForStatus(t, h.o, task.ID, core.StatusFailed, 5*time.Second)
	testutil.AssertContains(t, task.Error, "timed out")
}

func TestCancel_RunningAgentIsCanceledWithinTwoSeconds(t *testing.T) {
	h := newHarness(t,
		fakeRun{sleep: 10 * time.Second, text: "never gets here"},
	)
	task := h.createTask(t, "Cancel me")

	_, err := h.o.GenerateSpec(context.Background(), task.ID)
	testutil.AssertNoError(t, err)

	time.Sleep(50 * time.Millisecond)
	_, err = h.o.Cancel(context.Background(), task.ID)
	testutil.AssertNoError(t, err)

	task = waitForStatus(t, h.o, task.ID, core.StatusCanceled, 2*time.Second)
	testutil.AssertEqual(t, task.Status, core.StatusCanceled)
}

func TestInvalidTaskID_IsRejectedWithoutLookup(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.GetTask(context.Background(), core.TaskID("not-a-uuid"))
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, core.IsCategory(err, core.ErrCatValidation), "expected a validation error")
}
