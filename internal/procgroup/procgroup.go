// Package procgroup runs child processes in their own process group so that a
// cancelled ffmpeg invocation can be reaped together with any children it forked.
package procgroup

import "os/exec"

// Set configures cmd to start in a new process group and to kill that whole
// group when its context is cancelled.
func Set(cmd *exec.Cmd) {
	set(cmd)
	cmd.Cancel = func() error {
		return Kill(cmd)
	}
}
