package taskstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/taskstore"
	"github.com/taskforge/taskforge/internal/testutil"
)

func newStore(t *testing.T) *taskstore.Store {
	t.Helper()
	dir := testutil.TempDir(t)
	s, err := taskstore.New(filepath.Join(dir, "tasks.db"))
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTask(id string) *core.Task {
	now := time.Now().UTC().Truncate(time.Second)
	return &core.Task{
		ID:        core.TaskID(id),
		Title:     "fix flaky test",
		RepoURL:   "https://github.com/acme/widgets.git",
		Status:    core.StatusDraft,
		Agent:     core.AgentSelection{Kind: core.BackendCLI, Name: "claude"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_CreateAndGetTask(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	task := sampleTask("11111111-1111-1111-1111-111111111111")
	testutil.AssertNoError(t, s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Title, task.Title)
	testutil.AssertEqual(t, got.RepoURL, task.RepoURL)
	testutil.AssertEqual(t, got.Status, task.Status)
	testutil.AssertEqual(t, got.Agent.Name, task.Agent.Name)
}

func TestStore_GetTaskMissingReturnsNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetTask(context.Background(), core.TaskID("22222222-2222-2222-2222-222222222222"))
	testutil.AssertError(t, err)
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("expected not-found category, got %v", err)
	}
}

func TestStore_UpdateTaskRoundTripsAllFields(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	task := sampleTask("33333333-3333-3333-3333-333333333333")
	testutil.AssertNoError(t, s.CreateTask(ctx, task))

	task.Status = core.StatusMergeConflicts
	task.ConflictFiles = []string{"main.go", "README.md"}
	task.ContextFiles = []string{"internal/core/task.go"}
	task.DiffSnapshot = &core.DiffSnapshot{
		Files: []core.FileChange{{Path: "main.go", Status: "modified"}},
		Diff:  "--- a/main.go\n+++ b/main.go\n",
	}
	testutil.AssertNoError(t, s.UpdateTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Status, core.StatusMergeConflicts)
	testutil.AssertLen(t, got.ConflictFiles, 2)
	testutil.AssertLen(t, got.ContextFiles, 1)
	if got.DiffSnapshot == nil || got.DiffSnapshot.Diff != task.DiffSnapshot.Diff {
		t.Fatalf("expected diff snapshot to round-trip, got %+v", got.DiffSnapshot)
	}
}

func TestStore_UpdateTaskUnknownReturnsNotFound(t *testing.T) {
	s := newStore(t)
	err := s.UpdateTask(context.Background(), sampleTask("44444444-4444-4444-4444-444444444444"))
	testutil.AssertError(t, err)
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("expected not-found category, got %v", err)
	}
}

func TestStore_ListTasksFiltersByRepository(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := sampleTask("55555555-5555-5555-5555-555555555555")
	a.RepositoryID = "repo-a"
	b := sampleTask("66666666-6666-6666-6666-666666666666")
	b.RepositoryID = "repo-b"

	testutil.AssertNoError(t, s.CreateTask(ctx, a))
	testutil.AssertNoError(t, s.CreateTask(ctx, b))

	all, err := s.ListTasks(ctx, "")
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, all, 2)

	onlyA, err := s.ListTasks(ctx, "repo-a")
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, onlyA, 1)
	testutil.AssertEqual(t, onlyA[0].ID, a.ID)
}

func TestStore_DeleteTaskCascadesChatAndLogs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	task := sampleTask("77777777-7777-7777-7777-777777777777")
	testutil.AssertNoError(t, s.CreateTask(ctx, task))
	testutil.AssertNoError(t, s.AppendChatEvent(ctx, task.ID, core.NewChatMessage(core.ChatRoleUser, "hi")))
	testutil.AssertNoError(t, s.AppendLogEntry(ctx, task.ID, core.NewLogEntry(core.LogLevelInfo, "started")))

	testutil.AssertNoError(t, s.DeleteTask(ctx, task.ID))

	_, err := s.GetTask(ctx, task.ID)
	testutil.AssertError(t, err)

	chats, err := s.ListChatEvents(ctx, task.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, chats, 0)
}

func TestStore_ChatEventsPreserveOrderAndFields(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	task := sampleTask("88888888-8888-8888-8888-888888888888")
	testutil.AssertNoError(t, s.CreateTask(ctx, task))

	testutil.AssertNoError(t, s.AppendChatEvent(ctx, task.ID, core.NewChatMessage(core.ChatRoleUser, "first")))
	testutil.AssertNoError(t, s.AppendChatEvent(ctx, task.ID, core.NewToolActivity("run_tests", "ran go test")))

	events, err := s.ListChatEvents(ctx, task.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, events, 2)
	testutil.AssertEqual(t, events[0].Text, "first")
	testutil.AssertEqual(t, events[1].ToolName, "run_tests")
}

func TestStore_LogEntriesPreserveOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	task := sampleTask("99999999-9999-9999-9999-999999999999")
	testutil.AssertNoError(t, s.CreateTask(ctx, task))

	testutil.AssertNoError(t, s.AppendLogEntry(ctx, task.ID, core.NewLogEntry(core.LogLevelInfo, "one")))
	testutil.AssertNoError(t, s.AppendLogEntry(ctx, task.ID, core.NewLogEntry(core.LogLevelWarn, "two")))

	entries, err := s.ListLogEntries(ctx, task.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, entries, 2)
	testutil.AssertEqual(t, entries[0].Message, "one")
	testutil.AssertEqual(t, entries[1].Level, core.LogLevelWarn)
}

func TestStore_ReopenAppliesMigrationsIdempotently(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "tasks.db")

	s1, err := taskstore.New(path)
	testutil.AssertNoError(t, err)
	task := sampleTask("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	testutil.AssertNoError(t, s1.CreateTask(context.Background(), task))
	testutil.AssertNoError(t, s1.Close())

	s2, err := taskstore.New(path)
	testutil.AssertNoError(t, err)
	defer s2.Close()

	got, err := s2.GetTask(context.Background(), task.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Title, task.Title)
}
