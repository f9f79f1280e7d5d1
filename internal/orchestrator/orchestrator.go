// Package orchestrator implements the TaskOrchestrator: the HTTP-facing
// facade that validates every status transition against
// internal/core's allow-list, composes the TaskStore, GitWorktreeManager,
// AgentRunner, EventHub, SecretStore and ForgeClient, and drives each
// task through its lifecycle under a per-task lock (§5).
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/events"
	"github.com/taskforge/taskforge/internal/logging"
)

// Orchestrator is the sole TaskOrchestrator implementation.
type Orchestrator struct {
	store     core.TaskStore
	worktrees core.WorktreeManager
	registry  *agent.Registry
	runner    *agent.Runner
	hubs      *events.Manager
	secrets   core.SecretStore
	forge     core.ForgeClient
	logger    *logging.Logger

	initialTimeout   time.Duration
	timeoutIncrement time.Duration

	locksMu sync.Mutex
	locks   map[core.TaskID]*sync.Mutex

	runningMu sync.Mutex
	running   map[core.TaskID]*runningAgent
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithInitialTimeout overrides the default 5-minute agent deadline.
func WithInitialTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.initialTimeout = d }
}

// WithTimeoutIncrement overrides the default 5-minute extend-timeout increment.
func WithTimeoutIncrement(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeoutIncrement = d }
}

// WithLogger overrides the orchestrator's structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New builds an Orchestrator over the given ports.
func New(
	store core.TaskStore,
	worktrees core.WorktreeManager,
	registry *agent.Registry,
	hubs *events.Manager,
	secrets core.SecretStore,
	forge core.ForgeClient,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		store:            store,
		worktrees:        worktrees,
		registry:         registry,
		runner:           agent.NewRunner(registry),
		hubs:             hubs,
		secrets:          secrets,
		forge:            forge,
		logger:           logging.NewNop(),
		initialTimeout:   5 * time.Minute,
		timeoutIncrement: 5 * time.Minute,
		locks:            make(map[core.TaskID]*sync.Mutex),
		running:          make(map[core.TaskID]*runningAgent),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewTaskID mints a fresh opaque task identifier (§3: 128-bit random).
func NewTaskID() core.TaskID {
	return core.TaskID(uuid.New().String())
}

// lockFor returns the per-task mutex, creating it on first use. Locks
// are never removed: a task id is immutable for the server's lifetime
// once minted, and the map entry is a handful of bytes.
func (o *Orchestrator) lockFor(id core.TaskID) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	m, ok := o.locks[id]
	if !ok {
		m = &sync.Mutex{}
		o.locks[id] = m
	}
	return m
}

// withTask loads the task under its per-task lock, hands it to fn for
// in-place mutation, and persists the result unless fn returns an
// error. fn returning (false, nil) means "no mutation, just read" and
// skips the UpdateTask call.
func (o *Orchestrator) withTask(ctx context.Context, id core.TaskID, fn func(t *core.Task) (mutated bool, err error)) (*core.Task, error) {
	if !core.ValidTaskID(string(id)) {
		return nil, core.ErrValidation("INVALID_ID", "task id does not match the opaque-id pattern")
	}

	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	task, err := o.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	mutated, err := fn(task)
	if err != nil {
		return nil, err
	}
	if mutated {
		if err := o.store.UpdateTask(ctx, task); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// transition moves task to status, persists it, and publishes exactly
// one status event — the invariant §8's "every transition emits
// exactly one status event" property checks.
func (o *Orchestrator) transition(task *core.Task, to core.Status) {
	task.MarkTransition(to)
	o.hubs.Get(task.ID).PublishStatus(to)
}

// isRunning reports whether an agent is currently supervised for id.
func (o *Orchestrator) isRunning(id core.TaskID) bool {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	_, ok := o.running[id]
	return ok
}

func (o *Orchestrator) getRunning(id core.TaskID) (*runningAgent, bool) {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	ra, ok := o.running[id]
	return ra, ok
}

func (o *Orchestrator) setRunning(id core.TaskID, ra *runningAgent) {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	o.running[id] = ra
}

func (o *Orchestrator) clearRunning(id core.TaskID) {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	delete(o.running, id)
}
