package testharness

import (
	"errors"
	"io"
	"sync"
)

// LoopbackPTY is a synthetic PTY (spec §2/§10): an in-memory byte pipe
// that satisfies internal/panel.PTY without spawning a real shell
// process. Writes to it (simulating client input) are looped back as
// readable output, and Feed lets a test inject arbitrary "shell output"
// directly, e.g. to drive the emulator deterministically.
type LoopbackPTY struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
	cols   int
	rows   int

	echo bool
}

// NewLoopbackPTY creates a synthetic PTY. When echo is true, bytes
// written to it (as if sent from a client) are appended to its own
// readable buffer, simulating a shell that echoes input — useful for
// round-trip tests; when false, Write is accepted and discarded (the
// test drives output exclusively through Feed).
func NewLoopbackPTY(echo bool) *LoopbackPTY {
	p := &LoopbackPTY{echo: echo}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed injects bytes as if the shell had produced them, waking any
// blocked Read.
func (p *LoopbackPTY) Feed(data []byte) {
	p.mu.Lock()
	p.buf = append(p.buf, data...)
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *LoopbackPTY) Read(dst []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.buf) == 0 && p.closed {
		return 0, io.EOF
	}
	n := copy(dst, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func (p *LoopbackPTY) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("testharness: loopback pty closed")
	}
	if p.echo {
		p.buf = append(p.buf, data...)
		p.cond.Broadcast()
	}
	return len(data), nil
}

func (p *LoopbackPTY) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("testharness: loopback pty closed")
	}
	p.cols, p.rows = cols, rows
	return nil
}

func (p *LoopbackPTY) Dims() (cols, rows int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

func (p *LoopbackPTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}
