//go:build !windows

package process_test

import (
	"os/exec"
	"testing"
	"time"

	"github.com/taskforge/taskforge/internal/process"
	"github.com/taskforge/taskforge/internal/testutil"
)

func TestSupervisor_GracefulKillTerminatesProcessGroup(t *testing.T) {
	s := process.New()
	cmd := exec.Command("sleep", "30")
	process.ConfigureProcAttr(cmd)

	testutil.AssertNoError(t, cmd.Start())
	s.Track(cmd)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	testutil.AssertNoError(t, s.GracefulKill(200*time.Millisecond))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected sleep to be killed within the grace period")
	}
}

func TestSupervisor_GracefulKillOnUntrackedIsNoop(t *testing.T) {
	s := process.New()
	testutil.AssertNoError(t, s.GracefulKill(10*time.Millisecond))
}

func TestSupervisor_ClearDropsTrackedCommand(t *testing.T) {
	s := process.New()
	cmd := exec.Command("sleep", "30")
	process.ConfigureProcAttr(cmd)
	testutil.AssertNoError(t, cmd.Start())
	s.Track(cmd)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	s.Clear()
	// Clear must not itself kill the process; kill it directly for cleanup.
	testutil.AssertNoError(t, cmd.Process.Kill())
	<-done

	// GracefulKill after Clear has nothing tracked, so it is a no-op.
	testutil.AssertNoError(t, s.GracefulKill(10*time.Millisecond))
}

func TestKillProcessesUsingDirectory_NoopOnUnix(t *testing.T) {
	// Unix file descriptors don't pin directory entries, so cleanup never
	// needs to hunt down holders; this just confirms the no-op is safe to call.
	testutil.AssertNoError(t, process.KillProcessesUsingDirectory(testutil.TempDir(t), 0))
}
