//go:build !windows

package process

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// ConfigureProcAttr sets up process group isolation on cmd before Start so
// the whole tree it spawns can be signaled as a unit.
func ConfigureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// GracefulKill sends SIGTERM to the tracked process group, waits for
// gracePeriod, then escalates to SIGKILL if it hasn't exited.
//
// This does NOT call cmd.Wait(). The caller is expected to Wait()
// separately (typically via a done channel) — calling Wait() here would
// race the caller's Wait and block forever on Go 1.20+.
func (s *Supervisor) GracefulKill(gracePeriod time.Duration) error {
	cmd := s.activeCmd()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return fmt.Errorf("getpgid(%d): %w", pid, err)
	}

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("sigterm pgid %d: %w", pgid, err)
	}

	deadline := time.After(gracePeriod)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			return nil
		case <-ticker.C:
			if err := syscall.Kill(pid, 0); err != nil {
				return nil
			}
		}
	}
}
