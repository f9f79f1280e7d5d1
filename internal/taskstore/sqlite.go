// Package taskstore implements core.TaskStore over SQLite: one row per
// Task plus its append-only chat_events and log_entries tables.
package taskstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/taskforge/taskforge/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// Store implements core.TaskStore over a single SQLite database file.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex

	maxRetries    int
	baseRetryWait time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithRetry overrides the busy-retry policy (default: 5 attempts, 100ms
// base back-off, matching the teacher's state manager).
func WithRetry(maxRetries int, baseWait time.Duration) Option {
	return func(s *Store) {
		s.maxRetries = maxRetries
		s.baseRetryWait = baseWait
	}
}

// New opens (creating if necessary) the SQLite database at path and
// runs pending migrations.
func New(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating task store directory: %w", err)
		}
	}

	// busy_timeout gives a concurrent writer up to 5s before returning
	// SQLITE_BUSY, on top of the explicit retryWrite backoff below.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, maxRetries: 5, baseRetryWait: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (1)"); err != nil {
			return fmt.Errorf("recording migration v1: %w", err)
		}
	}
	return nil
}

// retryWrite runs fn, retrying with exponential back-off on SQLITE_BUSY
// the way the teacher's state manager does.
func (s *Store) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := fn(); err != nil {
			if isSQLiteBusy(err) && attempt < s.maxRetries {
				lastErr = err
				wait := s.baseRetryWait * time.Duration(1<<attempt)
				select {
				case <-ctx.Done():
					return fmt.Errorf("%s: %w (last error: %v)", operation, ctx.Err(), lastErr)
				case <-time.After(wait):
					continue
				}
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%s: max retries exceeded: %w", operation, lastErr)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "SQLITE_LOCKED")
}

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, t *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "create task", func() error {
		return s.upsertTask(ctx, t, true)
	})
}

// UpdateTask overwrites an existing task row.
func (s *Store) UpdateTask(ctx context.Context, t *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "update task", func() error {
		return s.upsertTask(ctx, t, false)
	})
}

func (s *Store) upsertTask(ctx context.Context, t *core.Task, insert bool) error {
	contextFiles, err := json.Marshal(t.ContextFiles)
	if err != nil {
		return err
	}
	conflictFiles, err := json.Marshal(t.ConflictFiles)
	if err != nil {
		return err
	}
	var diffSnapshot string
	if t.DiffSnapshot != nil {
		b, err := json.Marshal(t.DiffSnapshot)
		if err != nil {
			return err
		}
		diffSnapshot = string(b)
	}

	if insert {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO tasks (
				id, title, description, user_input, repository_id, repo_url, target_branch,
				branch_name, context_files, build_command, generated_spec, was_edited,
				final_specification, implementation_plan, agent_kind, agent_name, agent_model,
				status, error, pr_url, conflict_files, diff_snapshot, created_at, updated_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			string(t.ID), t.Title, t.Description, t.UserInput, t.RepositoryID, t.RepoURL, t.TargetBranch,
			t.BranchName, string(contextFiles), t.BuildCommand, t.GeneratedSpec, t.WasEdited,
			t.FinalSpec, t.ImplementationPlan, string(t.Agent.Kind), t.Agent.Name, t.Agent.Model,
			string(t.Status), t.Error, t.PRURL, string(conflictFiles), diffSnapshot, t.CreatedAt, t.UpdatedAt)
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			title=?, description=?, user_input=?, repository_id=?, repo_url=?, target_branch=?,
			branch_name=?, context_files=?, build_command=?, generated_spec=?, was_edited=?,
			final_specification=?, implementation_plan=?, agent_kind=?, agent_name=?, agent_model=?,
			status=?, error=?, pr_url=?, conflict_files=?, diff_snapshot=?, updated_at=?
		WHERE id=?`,
		t.Title, t.Description, t.UserInput, t.RepositoryID, t.RepoURL, t.TargetBranch,
		t.BranchName, string(contextFiles), t.BuildCommand, t.GeneratedSpec, t.WasEdited,
		t.FinalSpec, t.ImplementationPlan, string(t.Agent.Kind), t.Agent.Name, t.Agent.Model,
		string(t.Status), t.Error, t.PRURL, string(conflictFiles), diffSnapshot, t.UpdatedAt, string(t.ID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound("task", string(t.ID))
	}
	return nil
}

// GetTask loads one task by ID.
func (s *Store) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, user_input, repository_id, repo_url, target_branch,
			branch_name, context_files, build_command, generated_spec, was_edited,
			final_specification, implementation_plan, agent_kind, agent_name, agent_model,
			status, error, pr_url, conflict_files, diff_snapshot, created_at, updated_at
		FROM tasks WHERE id = ?`, string(id))
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("task", string(id))
	}
	return t, err
}

// ListTasks lists tasks, optionally filtered by repositoryID (empty
// lists every task).
func (s *Store) ListTasks(ctx context.Context, repositoryID string) ([]*core.Task, error) {
	query := `
		SELECT id, title, description, user_input, repository_id, repo_url, target_branch,
			branch_name, context_files, build_command, generated_spec, was_edited,
			final_specification, implementation_plan, agent_kind, agent_name, agent_model,
			status, error, pr_url, conflict_files, diff_snapshot, created_at, updated_at
		FROM tasks`
	var args []any
	if repositoryID != "" {
		query += " WHERE repository_id = ?"
		args = append(args, repositoryID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*core.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DeleteTask removes a task and its chat/log history (cascading via the
// foreign-key ON DELETE CASCADE clauses in the schema).
func (s *Store) DeleteTask(ctx context.Context, id core.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "delete task", func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", string(id))
		return err
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*core.Task, error) {
	var t core.Task
	var contextFiles, conflictFiles, diffSnapshot string
	var agentKind, agentName, agentModel string

	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.UserInput, &t.RepositoryID, &t.RepoURL, &t.TargetBranch,
		&t.BranchName, &contextFiles, &t.BuildCommand, &t.GeneratedSpec, &t.WasEdited,
		&t.FinalSpec, &t.ImplementationPlan, &agentKind, &agentName, &agentModel,
		&t.Status, &t.Error, &t.PRURL, &conflictFiles, &diffSnapshot, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Agent = core.AgentSelection{Kind: core.BackendKind(agentKind), Name: agentName, Model: agentModel}
	if contextFiles != "" {
		if err := json.Unmarshal([]byte(contextFiles), &t.ContextFiles); err != nil {
			return nil, fmt.Errorf("decoding context_files: %w", err)
		}
	}
	if conflictFiles != "" {
		if err := json.Unmarshal([]byte(conflictFiles), &t.ConflictFiles); err != nil {
			return nil, fmt.Errorf("decoding conflict_files: %w", err)
		}
	}
	if diffSnapshot != "" {
		var snap core.DiffSnapshot
		if err := json.Unmarshal([]byte(diffSnapshot), &snap); err != nil {
			return nil, fmt.Errorf("decoding diff_snapshot: %w", err)
		}
		t.DiffSnapshot = &snap
	}
	return &t, nil
}

// AppendChatEvent appends one chat event to a task's history.
func (s *Store) AppendChatEvent(ctx context.Context, id core.TaskID, e core.ChatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "append chat event", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO chat_events (task_id, kind, role, text, tool_name, summary, timestamp)
			VALUES (?,?,?,?,?,?,?)`,
			string(id), e.Kind, string(e.Role), e.Text, e.ToolName, e.Summary, e.Timestamp)
		return err
	})
}

// ListChatEvents returns every chat event recorded for a task, oldest first.
func (s *Store) ListChatEvents(ctx context.Context, id core.TaskID) ([]core.ChatEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, role, text, tool_name, summary, timestamp
		FROM chat_events WHERE task_id = ? ORDER BY id ASC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []core.ChatEvent
	for rows.Next() {
		var e core.ChatEvent
		var role string
		if err := rows.Scan(&e.Kind, &role, &e.Text, &e.ToolName, &e.Summary, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Role = core.ChatRole(role)
		events = append(events, e)
	}
	return events, rows.Err()
}

// AppendLogEntry appends one log line to a task's log buffer.
func (s *Store) AppendLogEntry(ctx context.Context, id core.TaskID, e core.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryWrite(ctx, "append log entry", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO log_entries (task_id, level, message, timestamp) VALUES (?,?,?,?)`,
			string(id), string(e.Level), e.Message, e.Timestamp)
		return err
	})
}

// ListLogEntries returns every log line recorded for a task, oldest first.
func (s *Store) ListLogEntries(ctx context.Context, id core.TaskID) ([]core.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT level, message, timestamp FROM log_entries WHERE task_id = ? ORDER BY id ASC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []core.LogEntry
	for rows.Next() {
		var e core.LogEntry
		var level string
		if err := rows.Scan(&level, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Level = core.LogLevel(level)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ core.TaskStore = (*Store)(nil)
