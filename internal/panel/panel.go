// Package panel implements mux's per-panel state machine (spec §4.6): a
// PTY, a terminal emulator, a video encoder, and the goroutine tree that
// wires them to a session's subscribers — pty_reader, encoder_driver,
// fanout, and control_handler — plus scrollback and bandwidth
// accounting. Grounded on the teacher's TmuxPane/Terminal ownership
// model and output_flush_manager.go's tick-loop/flush shape.
package panel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"mux/internal/emulator"
	"mux/internal/runtime"
	"mux/internal/session"
	"mux/internal/terminal"
	"mux/internal/videoenc"
	"mux/internal/wire"
)

// PTY is the narrow PTY contract a panel drives: read shell output,
// write input, resize the window, and close. *terminal.Terminal
// satisfies this directly; internal/testharness substitutes an
// in-memory loopback implementation so panel tests and the benchmarking
// baseline of spec §9's Open Questions don't need a real shell.
type PTY interface {
	io.Reader
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Close() error
}

// State is one of the panel lifecycle states of spec §4.6:
// created → configured → streaming → (paused ↔ streaming) → closed.
type State int

const (
	StateCreated State = iota
	StateConfigured
	StateStreaming
	StatePaused
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Notifier delivers a non-input control-plane notification (title, pwd,
// bell, exit, error) to every subscriber of one panel. internal/transport
// implements this over the registry's connections; panel never imports
// transport.
type Notifier interface {
	Notify(panelID string, env wire.Envelope)
}

// Config configures a new Panel at creation time.
type Config struct {
	ID           string
	SessionToken string
	Shell        string
	Cols, Rows   int
	Width, Height int
	FrameRate    int
	Bitrate      int
	ScrollbackBytes int

	Registry *session.Registry
	Runtime  *runtime.Runtime
	Notifier Notifier
	Metrics  *Metrics

	// PTY overrides the real creack/pty-backed shell with a substitute
	// implementation (internal/testharness's loopback PTY). Nil means
	// "spawn Shell as a real child process," the production path.
	PTY PTY
}

// Panel is one terminal session rendered as a video stream (spec §3).
type Panel struct {
	id           string
	sessionToken string
	registry     *session.Registry
	rt           *runtime.Runtime
	notifier     Notifier

	term PTY
	emu  emulator.Emulator
	enc  videoenc.Encoder

	scrollback *scrollbackRing
	bandwidth  *Bandwidth

	frameInterval time.Duration
	fps, bitrate  int

	mu            sync.RWMutex
	state         State
	cols, rows    int
	width, height int
	title, pwd    string
	subscribers   map[string]struct{}
	needsKeyframe map[string]bool
	forceKeyframe bool
	lastKeyframe  []byte

	packets   *runtime.GChannel[videoenc.Packet]
	controlIn *runtime.GChannel[controlCmd]

	closeOnce sync.Once
	done      chan struct{}
}

// ErrClosed is returned by operations on a panel that has already
// transitioned to StateClosed.
var ErrClosed = errors.New("panel: closed")

// New creates and starts a Panel: it spawns the shell's PTY and the
// pipeline's goroutine tree, then returns once the emulator and encoder
// are initialized and the pipeline is running (State == StateStreaming on
// success).
func New(cfg Config) (*Panel, error) {
	if cfg.Cols <= 0 {
		cfg.Cols = 80
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 24
	}
	if cfg.Width <= 0 {
		cfg.Width = cfg.Cols * 8
	}
	if cfg.Height <= 0 {
		cfg.Height = cfg.Rows * 16
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}

	term := cfg.PTY
	if term == nil {
		real, err := terminal.Start(terminal.Config{
			Shell:   cfg.Shell,
			Columns: cfg.Cols,
			Rows:    cfg.Rows,
		})
		if err != nil {
			return nil, fmt.Errorf("panel: start pty: %w", err)
		}
		term = real
	}

	emu := emulator.New(cfg.Cols, cfg.Rows, cfg.Width, cfg.Height)
	enc := videoenc.New(cfg.Width, cfg.Height, cfg.FrameRate, cfg.Bitrate)

	p := &Panel{
		id:            cfg.ID,
		sessionToken:  cfg.SessionToken,
		registry:      cfg.Registry,
		rt:            cfg.Runtime,
		notifier:      cfg.Notifier,
		term:          term,
		emu:           emu,
		enc:           enc,
		scrollback:    newScrollbackRing(cfg.ScrollbackBytes),
		bandwidth:     NewBandwidth(cfg.ID, cfg.Metrics),
		frameInterval: time.Second / time.Duration(cfg.FrameRate),
		fps:           cfg.FrameRate,
		bitrate:       cfg.Bitrate,
		state:         StateConfigured,
		cols:          cfg.Cols,
		rows:          cfg.Rows,
		width:         cfg.Width,
		height:        cfg.Height,
		subscribers:   map[string]struct{}{},
		needsKeyframe: map[string]bool{},
		done:          make(chan struct{}),
	}

	liveByID.Store(p.id, p)
	p.startPipeline()
	slog.Info("[panel] created", "panel", p.id, "cols", cfg.Cols, "rows", cfg.Rows)
	return p, nil
}

// ID returns the panel's identity.
func (p *Panel) ID() string { return p.id }

// State returns the panel's current lifecycle state.
func (p *Panel) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Dims returns the panel's current cell and pixel dimensions.
func (p *Panel) Dims() (cols, rows, width, height int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cols, p.rows, p.width, p.height
}

// TitlePwd returns the panel's most recently observed title and pwd.
func (p *Panel) TitlePwd() (title, pwd string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.title, p.pwd
}

// Bandwidth exposes the panel's advisory counters.
func (p *Panel) Bandwidth() *Bandwidth { return p.bandwidth }

// Scrollback returns up to maxBytes of the panel's buffered PTY output.
func (p *Panel) Scrollback(maxBytes int) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.scrollback.snapshot(maxBytes)
}

// Subscribe adds connID to the panel's fan-out list. If a keyframe has
// already been produced, it is sent immediately so the new subscriber's
// first frame is a KEYFRAME without waiting for the next encoder tick —
// the conformant "remember the last keyframe" resolution of spec §9's
// Open Question.
func (p *Panel) Subscribe(connID string) {
	p.mu.Lock()
	p.subscribers[connID] = struct{}{}
	kf := append([]byte(nil), p.lastKeyframe...)
	if kf == nil {
		p.needsKeyframe[connID] = true
	}
	p.mu.Unlock()

	if kf != nil {
		if conn, err := p.registry.Connection(connID); err == nil {
			conn.Send(wire.EncodeFrame(wire.OpKeyframe, panelIDUint32(p.id), kf))
		}
	}
}

// Unsubscribe removes connID from the panel's fan-out list.
func (p *Panel) Unsubscribe(connID string) {
	p.mu.Lock()
	delete(p.subscribers, connID)
	delete(p.needsKeyframe, connID)
	p.mu.Unlock()
}

// RequestKeyframe flags that the next encoded frame must be an IDR,
// honoured by the encoder_driver's next tick (spec §4.6).
func (p *Panel) RequestKeyframe() {
	p.mu.Lock()
	p.forceKeyframe = true
	p.mu.Unlock()
}

// WriteInput writes raw bytes to the panel's PTY: decoded client
// keystrokes, pasted text, or a translated mouse-reporting escape
// sequence (internal/transport's data-plane input opcodes). Rejected
// once the panel has closed.
func (p *Panel) WriteInput(data []byte) error {
	p.mu.RLock()
	closed := p.state == StateClosed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	_, err := p.term.Write(data)
	return err
}

// Resize reshapes the panel per spec §4.6: pause, resize emulator and
// encoder, flag needs-keyframe, resume. The caller (control_handler)
// serializes this against concurrent resizes.
func (p *Panel) Resize(cols, rows, width, height int) error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.state = StatePaused
	p.mu.Unlock()

	p.mu.Lock()
	p.emu.Resize(cols, rows, width, height)
	p.mu.Unlock()
	if err := p.enc.Resize(width, height); err != nil {
		return fmt.Errorf("panel: resize encoder: %w", err)
	}

	p.mu.Lock()
	p.cols, p.rows, p.width, p.height = cols, rows, width, height
	p.forceKeyframe = true
	p.state = StateStreaming
	p.mu.Unlock()

	if err := p.term.Resize(cols, rows); err != nil {
		slog.Warn("[panel] pty resize failed", "panel", p.id, "error", err)
	}
	return nil
}

// SendResize queues a resize command for the control_handler goroutine to
// apply; called by internal/transport when a resize_panel control
// message or an OpResize data-plane frame arrives.
func (p *Panel) SendResize(cols, rows, width, height int) {
	p.controlIn.Send(controlCmd{kind: cmdResize, cols: cols, rows: rows, width: width, height: height})
}

// SendRequestKeyframe queues a request_keyframe command.
func (p *Panel) SendRequestKeyframe() {
	p.controlIn.Send(controlCmd{kind: cmdKeyframe})
}

// SendClose queues a close command, processed by the control_handler
// goroutine so a close initiated over the control plane serializes with
// any in-flight resize.
func (p *Panel) SendClose(reason string) {
	p.controlIn.Send(controlCmd{kind: cmdClose, reason: reason})
}

// Close transitions the panel to StateClosed, stops its pipeline, and
// notifies every subscriber with an exit message. Idempotent: closing an
// already-closed panel is a no-op returning nil, per spec §8.
func (p *Panel) Close(reason string) error {
	var didClose bool
	p.closeOnce.Do(func() {
		didClose = true
		p.mu.Lock()
		p.state = StateClosed
		subs := make([]string, 0, len(p.subscribers))
		for id := range p.subscribers {
			subs = append(subs, id)
		}
		p.mu.Unlock()

		close(p.done)
		p.term.Close()
		p.enc.Close()
		p.packets.Close()
		p.controlIn.Close()
		pipelineFlusher.RemovePanel(p.id)
		liveByID.Delete(p.id)

		if p.notifier != nil {
			for _, id := range subs {
				p.notifier.Notify(p.id, wire.Envelope{Type: wire.TypeExit, PanelID: p.id, Reason: reason})
			}
		}
		slog.Info("[panel] closed", "panel", p.id, "reason", reason)
	})
	if !didClose {
		return nil
	}
	return nil
}

// panelIDUint32 hashes a panel's string id down to the uint32 the binary
// data-plane frame header carries (spec §4.6's frame table). Panel ids
// are assigned by internal/transport's PanelManager as small monotonic counters
// formatted as strings, so this is a direct parse in the common case and
// falls back to an FNV hash for any other id shape (e.g. test fixtures).
func panelIDUint32(id string) uint32 {
	var n uint32
	any := false
	for _, r := range id {
		if r < '0' || r > '9' {
			any = false
			break
		}
		any = true
		n = n*10 + uint32(r-'0')
	}
	if any {
		return n
	}
	h := fnv32(id)
	return h
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
