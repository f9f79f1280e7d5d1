//go:build windows

package process

import (
	"os/exec"
	"time"
)

// ConfigureProcAttr is a no-op on Windows (Setpgid not supported).
func ConfigureProcAttr(_ *exec.Cmd) {}

// GracefulKill on Windows falls back to Process.Kill() — there is no
// process-group signal to escalate through.
func (s *Supervisor) GracefulKill(_ time.Duration) error {
	cmd := s.activeCmd()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
