//go:build !windows

package process

// On unix-like platforms an open file descriptor does not prevent a
// directory entry from being unlinked, so there is nothing to do here.
func killProcessesUsingDirectory(_ string, _ int) error {
	return nil
}
