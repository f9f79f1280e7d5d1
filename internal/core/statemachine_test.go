package core_test

import (
	"testing"

	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/testutil"
)

func TestAllowed_GenerateSpecOnlyFromDraft(t *testing.T) {
	testutil.AssertTrue(t, core.Allowed(core.ActionGenerateSpec, core.StatusDraft), "generate-spec should be allowed from draft")
	testutil.AssertFalse(t, core.Allowed(core.ActionGenerateSpec, core.StatusCoding), "generate-spec should not be allowed from coding")
}

func TestAllowed_StartAcceptsLegacyAliases(t *testing.T) {
	testutil.AssertTrue(t, core.Allowed(core.ActionStart, core.StatusBacklog), "start should accept the legacy backlog alias")
	testutil.AssertTrue(t, core.Allowed(core.ActionStart, core.StatusFailed), "start should be allowed after a failed run")
	testutil.AssertFalse(t, core.Allowed(core.ActionStart, core.StatusDone), "start should not be allowed from a terminal status")
}

func TestAllowed_CleanupAndDeleteAreAlwaysAllowed(t *testing.T) {
	testutil.AssertTrue(t, core.Allowed(core.ActionCleanupWorktree, core.StatusDone), "cleanup should be allowed from any status")
	testutil.AssertTrue(t, core.Allowed(core.ActionDelete, core.StatusDraft), "delete should be allowed from any status")
}

func TestIsFeedbackAllowed_WhileAgentRunning(t *testing.T) {
	testutil.AssertTrue(t, core.IsFeedbackAllowed(core.StatusDraft, true), "feedback should be allowed while the agent runs, regardless of status")
}

func TestIsFeedbackAllowed_PlanReviewRegardlessOfAgentState(t *testing.T) {
	testutil.AssertTrue(t, core.IsFeedbackAllowed(core.StatusPlanReview, false), "feedback from plan_review should be allowed even when idle")
}

func TestIsFeedbackAllowed_RejectsDraftAndTerminalWhenIdle(t *testing.T) {
	testutil.AssertFalse(t, core.IsFeedbackAllowed(core.StatusDraft, false), "feedback from draft while idle should be rejected")
	testutil.AssertFalse(t, core.IsFeedbackAllowed(core.StatusDone, false), "feedback from a terminal status while idle should be rejected")
}

func TestIsFeedbackAllowed_ResumeFromNonTerminalNonDraftWhenIdle(t *testing.T) {
	testutil.AssertTrue(t, core.IsFeedbackAllowed(core.StatusAwaitingReview, false), "feedback should resume from a non-terminal, non-draft status while idle")
}

func TestIsExtendTimeoutAllowed_OnlyWhileRunning(t *testing.T) {
	testutil.AssertTrue(t, core.IsExtendTimeoutAllowed(true), "extend-timeout should be allowed while running")
	testutil.AssertFalse(t, core.IsExtendTimeoutAllowed(false), "extend-timeout should not be allowed while idle")
}

func TestIsCleanupWorktreeAllowed_OnlyWhileIdle(t *testing.T) {
	testutil.AssertTrue(t, core.IsCleanupWorktreeAllowed(false), "cleanup should be allowed while idle")
	testutil.AssertFalse(t, core.IsCleanupWorktreeAllowed(true), "cleanup should not be allowed while running")
}

func TestNextStatus_OutcomeIndependentActions(t *testing.T) {
	status, ok := core.NextStatus(core.ActionApproveSpec)
	testutil.AssertTrue(t, ok, "approve-spec should have a fixed next status")
	testutil.AssertEqual(t, status, core.StatusApproved)

	status, ok = core.NextStatus(core.ActionApprovePlan)
	testutil.AssertTrue(t, ok, "approve-plan should have a fixed next status")
	testutil.AssertEqual(t, status, core.StatusCoding)

	status, ok = core.NextStatus(core.ActionPRMerged)
	testutil.AssertTrue(t, ok, "pr-merged should have a fixed next status")
	testutil.AssertEqual(t, status, core.StatusDone)

	status, ok = core.NextStatus(core.ActionPRClosed)
	testutil.AssertTrue(t, ok, "pr-closed should have a fixed next status")
	testutil.AssertEqual(t, status, core.StatusCanceled)
}

func TestNextStatus_OutcomeDependentActionsReturnFalse(t *testing.T) {
	_, ok := core.NextStatus(core.ActionExecute)
	testutil.AssertFalse(t, ok, "execute's destination depends on runtime outcome")
}
