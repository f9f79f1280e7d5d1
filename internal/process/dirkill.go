package process

// KillProcessesUsingDirectory is a best-effort helper used by worktree
// cleanup when a directory removal keeps failing because some process
// still holds an open file handle underneath it. On platforms where
// file locks block directory removal it enumerates processes rooted in
// dir and tree-kills them, excluding selfPID; elsewhere it is a no-op
// since file locks don't block removal there.
func KillProcessesUsingDirectory(dir string, selfPID int) error {
	return killProcessesUsingDirectory(dir, selfPID)
}
