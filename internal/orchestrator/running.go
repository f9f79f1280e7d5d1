package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskforge/taskforge/internal/core"
)

// runningAgent tracks one in-flight agent invocation so Cancel and
// ExtendTimeout can act on it from a different goroutine than the one
// driving the run. The AgentRunner's own context.WithTimeout cannot be
// reopened once started, so the orchestrator instead gives the runner
// a timeout far longer than any real deadline and enforces the real
// deadline itself via this watchdog, which is the only thing that ever
// calls cancel.
type runningAgent struct {
	taskID core.TaskID
	cancel context.CancelFunc

	feedback chan string

	mu       sync.Mutex
	deadline time.Time
	resetCh  chan time.Time

	// timedOut is set immediately before the watchdog calls cancel for
	// deadline expiry, so the post-run handler can distinguish a
	// watchdog timeout from an explicit user Cancel — both manifest as
	// context.Canceled to the runner, since a canceled parent always
	// reports Canceled on its child regardless of which fired first.
	timedOut atomic.Bool
}

// unboundedRunnerTimeout is the timeout handed to agent.Runner itself;
// it must never be the one that actually fires, since Runner.Run
// cannot distinguish "this deadline expired" from "a parent context
// further up was canceled." The watchdog below is the real clock.
const unboundedRunnerTimeout = 24 * time.Hour

func newRunningAgent(taskID core.TaskID, cancel context.CancelFunc, deadline time.Time) *runningAgent {
	return &runningAgent{
		taskID:   taskID,
		cancel:   cancel,
		feedback: make(chan string, 8),
		deadline: deadline,
		resetCh:  make(chan time.Time, 1),
	}
}

// extend pushes the deadline forward by increment and wakes the
// watchdog to re-arm its timer, returning the new absolute deadline.
func (ra *runningAgent) extend(increment time.Duration) time.Time {
	ra.mu.Lock()
	ra.deadline = ra.deadline.Add(increment)
	newDeadline := ra.deadline
	ra.mu.Unlock()

	select {
	case ra.resetCh <- newDeadline:
	default:
		// A reset is already pending; drain and replace so the watchdog
		// picks up the latest deadline rather than a stale one.
		select {
		case <-ra.resetCh:
		default:
		}
		ra.resetCh <- newDeadline
	}
	return newDeadline
}

// sendFeedback delivers a mid-run feedback message without blocking; a
// full channel drops the message and the caller logs it, matching the
// non-blocking delivery style used throughout the event hub.
func (ra *runningAgent) sendFeedback(msg string) bool {
	select {
	case ra.feedback <- msg:
		return true
	default:
		return false
	}
}

// cancelForTimeout marks the run as watchdog-timed-out and cancels it.
func (ra *runningAgent) cancelForTimeout() {
	ra.timedOut.Store(true)
	ra.cancel()
}

// cancelForUser cancels the run without marking it as timed out, so
// the completion handler records it as a plain cancellation.
func (ra *runningAgent) cancelForUser() {
	ra.cancel()
}

// watchdog enforces ra's deadline, re-arming whenever extend() pushes
// it forward, until ctx is done (the run completed or was canceled by
// some other path) or the deadline is reached, at which point it calls
// cancelForTimeout exactly once.
func watchdog(ctx context.Context, ra *runningAgent) {
	ra.mu.Lock()
	remaining := time.Until(ra.deadline)
	ra.mu.Unlock()

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case newDeadline := <-ra.resetCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(time.Until(newDeadline))
		case <-timer.C:
			ra.cancelForTimeout()
			return
		}
	}
}
