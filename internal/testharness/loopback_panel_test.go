package testharness

import (
	"testing"
	"time"

	"mux/internal/session"
	"mux/internal/wire"
)

type recordingSender struct {
	frames chan []byte
}

func (s *recordingSender) SendFrame(frame []byte) bool {
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

func TestLoopbackPanelStreamsKeyframe(t *testing.T) {
	reg := session.NewRegistry(0)
	sess := reg.NewSession(true)
	sender := &recordingSender{frames: make(chan []byte, 8)}
	if _, _, err := reg.Bind(sess.Token, "c1", session.RoleViewer, sender); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	p, _, err := NewLoopbackPanel(LoopbackPanelConfig{
		PanelID:      "1",
		SessionToken: sess.Token,
		FrameRate:    200,
		Registry:     reg,
	})
	if err != nil {
		t.Fatalf("NewLoopbackPanel: %v", err)
	}
	t.Cleanup(func() { p.Close("test teardown") })

	p.Subscribe("c1")

	select {
	case frame := <-sender.frames:
		f, err := wire.DecodeFrame(frame)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if f.Opcode != wire.OpKeyframe {
			t.Fatalf("opcode = %#x, want OpKeyframe", f.Opcode)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for keyframe")
	}
}

func TestLoopbackPanelFeedReachesScrollback(t *testing.T) {
	reg := session.NewRegistry(0)
	sess := reg.NewSession(true)

	p, lp, err := NewLoopbackPanel(LoopbackPanelConfig{
		PanelID:      "1",
		SessionToken: sess.Token,
		FrameRate:    200,
		Registry:     reg,
	})
	if err != nil {
		t.Fatalf("NewLoopbackPanel: %v", err)
	}
	t.Cleanup(func() { p.Close("test teardown") })

	lp.Feed([]byte("hello from shell\n"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if string(p.Scrollback(0)) == "hello from shell\n" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("scrollback = %q, want %q", p.Scrollback(0), "hello from shell\n")
}
