//go:build windows

package task

import "os/exec"

// setProcessGroup is a no-op on Windows; exec.Cmd has no process-group
// equivalent exposed at this layer, so Kill falls back to terminating the
// immediate child only.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup terminates the child process directly — Windows has no
// POSIX process-group signal to fan out to descendants from here.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
