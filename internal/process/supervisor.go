// Package process supervises a single spawned child process so the
// owning agent backend can enforce timeouts and cancellation by killing
// the whole process tree, not just the direct child.
package process

import (
	"os/exec"
	"sync"
)

// Supervisor tracks one in-flight *exec.Cmd and tree-kills it on demand.
// Call ConfigureProcAttr(cmd) before cmd.Start(), then Track(cmd)
// immediately after Start() succeeds, and Clear() once Wait() returns.
type Supervisor struct {
	mu  sync.Mutex
	cmd *exec.Cmd
}

// New creates an empty Supervisor.
func New() *Supervisor {
	return &Supervisor{}
}

// Track records the running command so GracefulKill can reach it.
func (s *Supervisor) Track(cmd *exec.Cmd) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmd = cmd
}

// Clear drops the tracked command once it has exited.
func (s *Supervisor) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmd = nil
}

func (s *Supervisor) activeCmd() *exec.Cmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd
}
