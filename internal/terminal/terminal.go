// Package terminal spawns and drives one PTY-backed shell process per
// panel, via github.com/creack/pty.
package terminal

import (
	"os"
	"os/exec"
	"sync"
)

const (
	defaultCols = 80
	defaultRows = 24
)

// Config configures a panel's PTY process.
type Config struct {
	Shell   string
	Args    []string
	Dir     string
	Env     []string
	Columns int
	Rows    int
}

// Terminal wraps one PTY-backed shell process.
type Terminal struct {
	mu       sync.RWMutex
	cmd      *exec.Cmd
	ptmx     *os.File
	closed   bool
	closeErr error
}
