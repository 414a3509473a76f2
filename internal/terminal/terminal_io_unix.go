//go:build !windows

package terminal

import (
	"os"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

func resizePtmx(ptmx *os.File, cols, rows int) error {
	return pty.Setsize(ptmx, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

// killProcessGroup signals the shell's entire process group, not just
// the shell itself, so pipelines and backgrounded children spawned from
// the panel's PTY don't outlive panel close. creack/pty puts the child
// in its own session, so -pid addresses the group. Best-effort: an
// already-dead group returns ESRCH, which the caller ignores.
func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGHUP)
}
