package core

// Action names one of the HTTP-triggered mutations the orchestrator
// may perform on a task. The zero value is never a valid action.
type Action string

const (
	ActionGenerateSpec     Action = "generate-spec"
	ActionRegenerateSpec   Action = "regenerate-spec"
	ActionEditSpec         Action = "edit-spec"
	ActionApproveSpec      Action = "approve-spec"
	ActionStart            Action = "start"
	ActionExecute          Action = "execute"
	ActionApprovePlan      Action = "approve-plan"
	ActionCancel           Action = "cancel"
	ActionFeedback         Action = "feedback"
	ActionExtendTimeout    Action = "extend-timeout"
	ActionApprove          Action = "approve"
	ActionRequestChanges   Action = "request-changes"
	ActionPRMerged         Action = "pr-merged"
	ActionPRClosed         Action = "pr-closed"
	ActionResolveConflicts Action = "resolve-conflicts"
	ActionCleanupWorktree  Action = "cleanup-worktree"
	ActionDelete           Action = "delete"
)

// allowList is the single source of truth for which starting statuses
// permit which action. It mirrors the table in §4.1 exactly; nothing
// outside this table may authorize a transition.
var allowList = map[Action][]Status{
	ActionGenerateSpec:   {StatusDraft},
	ActionRegenerateSpec: {StatusPendingApproval},
	ActionEditSpec:       {StatusPendingApproval},
	ActionApproveSpec:    {StatusPendingApproval},
	ActionStart:          {StatusDraft, StatusBacklog, StatusApproved, StatusFailed, StatusChangesRequested},
	ActionExecute:        {StatusDraft, StatusBacklog, StatusApproved, StatusFailed, StatusChangesRequested},
	ActionApprovePlan:    {StatusPlanReview},
	ActionCancel: {
		StatusRefining, StatusPlanning, StatusPlanReview, StatusCoding, StatusInProgress,
		StatusApproved, StatusAwaitingReview, StatusReview,
	},
	// ActionFeedback has state-dependent semantics (§4.2) beyond a plain
	// allow-list: it is permitted whenever an agent is running
	// (regardless of status), or from StatusPlanReview (interpreted as
	// plan approval), or from any non-terminal non-draft status while
	// the agent is idle (interpreted as resume). Allowed reflects only
	// the status-shaped part; callers must additionally consult
	// whether the agent is running, as IsFeedbackAllowed does.
	ActionFeedback:         {StatusPlanReview},
	ActionExtendTimeout:    {}, // running-agent-only; see IsExtendTimeoutAllowed
	ActionApprove:          {StatusAwaitingReview, StatusReview},
	ActionRequestChanges:   {StatusPRCreated, StatusReview},
	ActionPRMerged:         {StatusPRCreated, StatusReview},
	ActionPRClosed:         {StatusPRCreated, StatusReview, StatusChangesRequested},
	ActionResolveConflicts: {StatusMergeConflicts},
	ActionCleanupWorktree:  nil, // any status when agent not running; see IsCleanupAllowed
	ActionDelete:           nil, // any status
}

// Allowed reports whether action may fire from status, ignoring the
// agent-running qualifiers that feedback/extend-timeout/cleanup carry;
// those are checked separately by the orchestrator via the IsXAllowed
// helpers below.
func Allowed(action Action, status Status) bool {
	switch action {
	case ActionCleanupWorktree, ActionDelete:
		return true
	}
	statuses, ok := allowList[action]
	if !ok {
		return false
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsFeedbackAllowed implements the full feedback rule from §4.2: the
// action is permitted while an agent is running regardless of status,
// from plan_review (interpreted as plan approval) regardless of agent
// state, or from any non-terminal non-draft status while the agent is
// idle (interpreted as a resume request).
func IsFeedbackAllowed(status Status, agentRunning bool) bool {
	if agentRunning {
		return true
	}
	if status == StatusPlanReview {
		return true
	}
	if status == StatusDraft || status.IsTerminal() {
		return false
	}
	return true
}

// IsExtendTimeoutAllowed implements §4.1's "any when agent is running" rule.
func IsExtendTimeoutAllowed(agentRunning bool) bool {
	return agentRunning
}

// IsCleanupWorktreeAllowed implements §4.1's "any when agent not running" rule.
func IsCleanupWorktreeAllowed(agentRunning bool) bool {
	return !agentRunning
}

// NextStatus returns the status an action transitions TO, for the
// actions whose destination does not depend on runtime outcome (agent
// success/failure, PR result). Actions whose destination depends on an
// outcome (execute, cancel, approve, resolve-conflicts, ...) are driven
// directly by the orchestrator and are not listed here.
func NextStatus(action Action) (Status, bool) {
	switch action {
	case ActionApproveSpec:
		return StatusApproved, true
	case ActionApprovePlan:
		return StatusCoding, true
	case ActionPRMerged:
		return StatusDone, true
	case ActionPRClosed:
		return StatusCanceled, true
	default:
		return "", false
	}
}
