package panel

import (
	"log/slog"
	"time"

	"mux/internal/runtime"
	"mux/internal/videoenc"
	"mux/internal/wire"
)

// controlCmd is the queued form of a control-plane action targeting this
// panel's goroutine tree; internal/transport translates a decoded
// wire.Envelope or data-plane opcode into one of these and sends it on
// Panel.controlIn.
type controlCmd struct {
	kind   string
	cols   int
	rows   int
	width  int
	height int
	reason string
}

const (
	cmdResize   = "resize"
	cmdKeyframe = "keyframe"
	cmdClose    = "close"
)

// startPipeline spawns the four scheduled goroutines of spec §4.6's
// per-panel tree through the runtime's cooperative scheduler (not real
// OS threads): pty_reader, encoder_driver, fanout, control_handler. Each
// is panic-isolated by runtime.Goroutine.body's own recover, so a bug in
// one stage fails only that goroutine rather than the whole panel.
func (p *Panel) startPipeline() {
	p.packets = runtime.NewGChannel[videoenc.Packet](p.rt, 4)
	p.controlIn = runtime.NewGChannel[controlCmd](p.rt, 8)

	p.mu.Lock()
	p.state = StateStreaming
	p.mu.Unlock()

	p.rt.Spawn(func(g *runtime.Goroutine) { p.ptyReaderBody(g) }, nil)
	p.rt.Spawn(func(g *runtime.Goroutine) { p.encoderDriverBody(g) }, nil)
	p.rt.Spawn(func(g *runtime.Goroutine) { p.fanoutBody(g) }, nil)
	p.rt.Spawn(func(g *runtime.Goroutine) { p.controlHandlerBody(g) }, nil)
}

// closed reports whether p.done has fired, a cheap non-blocking check
// each pipeline stage uses to notice shutdown between suspension points.
func (p *Panel) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// asyncSleep parks g for d on a real goroutine that unparks it via
// Runtime.Unpark when the timer fires — the same submit/park/complete
// shape as internal/runtime's I/O integration (spec §4.4), applied to a
// timer instead of a file descriptor so encoder_driver's tick loop never
// ties up a worker's OS thread for the sleep duration.
func asyncSleep(rt *runtime.Runtime, g *runtime.Goroutine, d time.Duration) {
	go func() {
		time.Sleep(d)
		rt.Unpark(g)
	}()
	g.Park()
}

// ptyReaderBody hands each async PTY read to the shared pipelineFlusher
// until the PTY errors out (spec §7's "fatal I/O failure on the PTY":
// transition to closed, notify subscribers, free resources). The
// flusher coalesces bursty reads across a 16ms/8KB window before they
// reach the emulator and scrollback ring, so a chatty shell (a `yes`
// loop, a build's scrollback) doesn't force a grid mutation per read.
func (p *Panel) ptyReaderBody(g *runtime.Goroutine) {
	buf := make([]byte, 32*1024)
	for {
		if p.closed() {
			return
		}
		res := p.rt.AsyncRead(g, p.term, buf)
		if res.Err != nil {
			p.Close("pty_error: " + res.Err.Error())
			return
		}
		if res.Bytes == 0 {
			continue
		}
		chunk := append([]byte(nil), buf[:res.Bytes]...)
		pipelineFlusher.Write(p.id, chunk)
	}
}

// feedEmulator applies one batch assembled by pipelineFlusher: append to
// scrollback, feed the emulator, and report any title/pwd change. It
// runs on the flusher's own background goroutine rather than a
// scheduled pty_reader goroutine, so p.mu (already guarding
// encoderDriverBody's Snapshot call) also serializes it against the
// emulator's other caller.
func (p *Panel) feedEmulator(chunk []byte) {
	p.mu.Lock()
	p.scrollback.write(chunk)
	p.emu.Feed(chunk)
	p.mu.Unlock()

	p.bandwidth.AddPTYBytes(len(chunk))
	p.reportTitlePwd()
}

// reportTitlePwd pushes title/pwd control-plane notifications when the
// emulator's OSC-derived values change, per spec §12's supplemented
// shell/title/pwd reporting feature.
func (p *Panel) reportTitlePwd() {
	title, pwd := p.emu.Title(), p.emu.Pwd()

	p.mu.Lock()
	titleChanged := title != "" && title != p.title
	pwdChanged := pwd != "" && pwd != p.pwd
	if titleChanged {
		p.title = title
	}
	if pwdChanged {
		p.pwd = pwd
	}
	p.mu.Unlock()

	if p.notifier == nil {
		return
	}
	if titleChanged {
		p.notifier.Notify(p.id, wire.Envelope{Type: wire.TypeTitle, PanelID: p.id, Text: title})
	}
	if pwdChanged {
		p.notifier.Notify(p.id, wire.Envelope{Type: wire.TypePwd, PanelID: p.id, Text: pwd})
	}
}

// encoderDriverBody ticks at the panel's target frame rate, asks the
// emulator for a surface, and submits it to the encoder, honouring the
// needs-keyframe flag set by resize/request_keyframe (spec §4.6).
// Encoder failure gets one reinitialisation attempt; repeated failure
// closes the panel with an error notification (spec §7).
func (p *Panel) encoderDriverBody(g *runtime.Goroutine) {
	failures := 0
	for {
		asyncSleep(p.rt, g, p.frameInterval)
		if p.closed() {
			return
		}

		p.mu.RLock()
		paused := p.state == StatePaused || p.state == StateClosed
		width, height := p.width, p.height
		p.mu.RUnlock()
		if paused {
			continue
		}

		p.mu.Lock()
		surface := p.emu.Snapshot()
		force := p.forceKeyframe
		p.forceKeyframe = false
		p.mu.Unlock()

		pkt, err := p.enc.Submit(surface.Pix, width, height, force)
		if err != nil {
			failures++
			slog.Warn("[panel] encoder submit failed", "panel", p.id, "attempt", failures, "error", err)
			if failures == 1 {
				p.reinitEncoder(width, height)
				p.mu.Lock()
				p.forceKeyframe = true
				p.mu.Unlock()
				continue
			}
			p.Close("encoder_error")
			if p.notifier != nil {
				p.notifier.Notify(p.id, wire.Envelope{Type: wire.TypeError, PanelID: p.id, Reason: "encoder failure"})
			}
			return
		}
		failures = 0

		p.bandwidth.AddEncodedFrame(len(pkt.Data))
		if !p.packets.Send(pkt) {
			slog.Warn("[panel] packet channel closed, dropping frame", "panel", p.id)
			return
		}
	}
}

func (p *Panel) reinitEncoder(width, height int) {
	p.enc.Close()
	p.enc = videoenc.New(width, height, p.fps, p.bitrate)
}

// fanoutBody routes each encoded packet to every subscribed connection
// (spec §4.6). A keyframe resets every subscriber's needs-keyframe flag
// and is retained as the panel's lastKeyframe for late attachers; a
// delta is withheld from any subscriber still waiting on a keyframe, and
// a full connection send-buffer drops the delta and flags that
// connection for the next keyframe instead of blocking (spec's
// backpressure policy).
func (p *Panel) fanoutBody(g *runtime.Goroutine) {
	for {
		pkt, ok := p.packets.Recv()
		if !ok {
			return
		}

		opcode := wire.OpDelta
		if pkt.IsKeyframe {
			opcode = wire.OpKeyframe
		}
		frame := wire.EncodeFrame(opcode, panelIDUint32(p.id), pkt.Data)

		p.mu.Lock()
		if pkt.IsKeyframe {
			p.lastKeyframe = append([]byte(nil), pkt.Data...)
			for id := range p.needsKeyframe {
				p.needsKeyframe[id] = false
			}
		}
		subs := make([]string, 0, len(p.subscribers))
		for id := range p.subscribers {
			subs = append(subs, id)
		}
		waiting := make(map[string]bool, len(p.needsKeyframe))
		for id, v := range p.needsKeyframe {
			waiting[id] = v
		}
		p.mu.Unlock()

		for _, id := range subs {
			if !pkt.IsKeyframe && waiting[id] {
				continue
			}
			conn, err := p.registry.Connection(id)
			if err != nil {
				continue
			}
			if !conn.Send(frame) {
				p.mu.Lock()
				p.needsKeyframe[id] = true
				p.mu.Unlock()
			}
		}
	}
}

// controlHandlerBody applies queued resize/request_keyframe/close
// commands serially, so a resize in flight can never race a close.
func (p *Panel) controlHandlerBody(g *runtime.Goroutine) {
	for {
		cmd, ok := p.controlIn.Recv()
		if !ok {
			return
		}
		switch cmd.kind {
		case cmdResize:
			if err := p.Resize(cmd.cols, cmd.rows, cmd.width, cmd.height); err != nil {
				slog.Warn("[panel] resize failed", "panel", p.id, "error", err)
			}
		case cmdKeyframe:
			p.RequestKeyframe()
		case cmdClose:
			p.Close(cmd.reason)
			return
		}
	}
}
