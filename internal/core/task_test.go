package core_test

import (
	"testing"

	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/testutil"
)

func validTask() *core.Task {
	return &core.Task{
		ID:      core.TaskID("550e8400-e29b-41d4-a716-446655440000"),
		Title:   "Add widgets",
		RepoURL: "https://example.com/acme/widgets.git",
		Status:  core.StatusDraft,
	}
}

func TestValidTaskID(t *testing.T) {
	testutil.AssertTrue(t, core.ValidTaskID("550e8400-e29b-41d4-a716-446655440000"), "expected a canonical UUID to validate")
	testutil.AssertFalse(t, core.ValidTaskID("not-a-uuid"), "expected a malformed id to fail")
	testutil.AssertFalse(t, core.ValidTaskID(""), "expected an empty id to fail")
}

func TestTask_ValidateRequiresIDTitleAndRepoURL(t *testing.T) {
	task := validTask()
	testutil.AssertNoError(t, task.Validate())

	missingID := validTask()
	missingID.ID = ""
	testutil.AssertError(t, missingID.Validate())

	missingTitle := validTask()
	missingTitle.Title = ""
	testutil.AssertError(t, missingTitle.Validate())

	missingRepo := validTask()
	missingRepo.RepoURL = ""
	testutil.AssertError(t, missingRepo.Validate())
}

func TestTask_ValidateRejectsFinalSpecBeforeApproval(t *testing.T) {
	task := validTask()
	task.Status = core.StatusDraft
	task.FinalSpec = "some spec"
	err := task.Validate()
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, core.IsCategory(err, core.ErrCatValidation), "expected a validation error")
}

func TestTask_ValidateRejectsPRURLBeforePRCreated(t *testing.T) {
	task := validTask()
	task.Status = core.StatusCoding
	task.PRURL = "https://example.com/pr/1"
	testutil.AssertError(t, task.Validate())
}

func TestTask_ValidateRejectsConflictFilesOutsideMergeConflicts(t *testing.T) {
	task := validTask()
	task.Status = core.StatusCoding
	task.ConflictFiles = []string{"main.go"}
	testutil.AssertError(t, task.Validate())
}

func TestTask_MarkTransitionUpdatesStatusAndTimestamp(t *testing.T) {
	task := validTask()
	before := task.UpdatedAt
	task.MarkTransition(core.StatusApproved)
	testutil.AssertEqual(t, task.Status, core.StatusApproved)
	testutil.AssertTrue(t, task.UpdatedAt.After(before) || task.UpdatedAt.Equal(before), "expected UpdatedAt to be set")
}

func TestTask_IsTerminal(t *testing.T) {
	task := validTask()
	task.Status = core.StatusDone
	testutil.AssertTrue(t, task.IsTerminal(), "done should be terminal")

	task.Status = core.StatusCoding
	testutil.AssertFalse(t, task.IsTerminal(), "coding should not be terminal")
}
