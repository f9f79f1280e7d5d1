package core

import (
	"context"
	"time"
)

// TaskStore persists Task, ChatEvent and LogEntry records. Implemented
// by internal/taskstore against SQLite.
type TaskStore interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id TaskID) (*Task, error)
	ListTasks(ctx context.Context, repositoryID string) ([]*Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	DeleteTask(ctx context.Context, id TaskID) error

	AppendChatEvent(ctx context.Context, id TaskID, e ChatEvent) error
	ListChatEvents(ctx context.Context, id TaskID) ([]ChatEvent, error)

	AppendLogEntry(ctx context.Context, id TaskID, e LogEntry) error
	ListLogEntries(ctx context.Context, id TaskID) ([]LogEntry, error)
}

// WorktreeManager is the §4.3 GitWorktreeManager contract.
type WorktreeManager interface {
	// Setup ensures a bare clone exists for repoURL and a worktree
	// exists for taskID, creating it on branch (or an orphan branch if
	// the upstream is empty) when not already present.
	Setup(ctx context.Context, taskID TaskID, repoURL, branch string) (*Worktree, error)
	Get(taskID TaskID) (*Worktree, bool)
	Diff(ctx context.Context, taskID TaskID, against string) (*DiffSnapshot, error)
	ConflictFiles(ctx context.Context, taskID TaskID) ([]string, error)
	// RebaseOntoTarget fetches and rebases the task's branch onto the
	// latest origin/targetBranch ahead of a push, per §4.3's "push/rebase
	// detects conflicts". A non-empty targetBranch with nothing new
	// upstream is a no-op; conflicts abort the rebase in place and
	// return the conflicting paths alongside ErrMergeConflict.
	RebaseOntoTarget(ctx context.Context, taskID TaskID, targetBranch string) ([]string, error)
	Push(ctx context.Context, taskID TaskID, forgeToken string) error
	Cleanup(ctx context.Context, taskID TaskID, removeBranch bool) error
}

// AgentBackend is implemented once per concrete agent (a CLI adapter or
// a hosted-API client). AgentRunner selects among registered backends
// per §4.2's selection order.
type AgentBackend interface {
	Name() string
	Kind() BackendKind
	// Available reports whether this backend can currently be used
	// (binary installed & authenticated, or API key configured).
	Available(ctx context.Context) bool
	// Run spawns/calls the backend and streams uniform AgentEvents to
	// onEvent until completion, cancellation, or timeout. stdin, when
	// non-nil, allows the caller to inject feedback while running.
	Run(ctx context.Context, req AgentRequest, onEvent func(AgentEvent)) (*AgentResult, error)
}

// AgentRequest is the uniform input every backend consumes.
type AgentRequest struct {
	TaskID       TaskID
	Prompt       string
	WorktreePath string
	Model        string
	Resume       bool
	PriorHistory []ChatEvent
	// Feedback delivers mid-run user messages appended via the feedback
	// action. A backend whose transport supports it writes each message
	// followed by a newline to the child's stdin; Run drains this
	// channel until it is closed or the run ends, whichever first.
	Feedback <-chan string
}

// AgentResult is the uniform output of a backend run.
type AgentResult struct {
	Text       string
	TokensIn   int
	TokensOut  int
	CostUSD    float64
	ModelUsed  string
}

// ForgeClient is the opaque PR/MR-creation capability spec.md §1 treats
// as an external collaborator; only the minimal surface the
// orchestrator calls is modeled here.
type ForgeClient interface {
	CreatePR(ctx context.Context, repoURL, branch, targetBranch, title, body string) (prURL string, err error)
	ListPRComments(ctx context.Context, prURL string) ([]PRComment, error)
	RewriteRemoteWithToken(repoURL, token string) string
}

// PRComment is one comment on an opened pull/merge request.
type PRComment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// SecretStore is the §4.6 contract.
type SecretStore interface {
	Save(ctx context.Context, kind SecretKind, provider, plaintext string, meta SecretMetadata) error
	Delete(ctx context.Context, kind SecretKind, provider string) error
	GetPlaintext(ctx context.Context, kind SecretKind, provider string) (string, error)
	GetStatus(ctx context.Context, kind SecretKind, provider string) (SecretStatus, error)
}
