package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mux/internal/config"
	"mux/internal/runtime"
	"mux/internal/session"
	"mux/internal/wire"
)

// freeTCPPort asks the OS for an ephemeral port and releases it immediately;
// good enough for a test server that binds it a moment later.
func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freeTCPPort: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Port = 0
	cfg.DataPort = freeTCPPort(t)
	cfg.ControlPort = freeTCPPort(t)
	cfg.FrameRate = 200
	cfg.MaxPanels = 4

	rt := runtime.New(runtime.WithWorkers(2))
	registry := session.NewRegistry(0)
	s := New(cfg, rt, registry, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})
	return s
}

func dialControl(t *testing.T, s *Server, query string) (*websocket.Conn, wire.Envelope) {
	t.Helper()
	url := s.ControlURL() + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial control %s: %v", url, err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read created envelope: %v", err)
	}
	env, err := wire.DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode created envelope: %v", err)
	}
	if env.Type != wire.TypeCreated {
		t.Fatalf("first control message type = %q, want %q", env.Type, wire.TypeCreated)
	}
	return conn, env
}

func sendControl(t *testing.T, conn *websocket.Conn, env wire.Envelope) wire.Envelope {
	t.Helper()
	b, err := wire.EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	reply, err := wire.DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return reply
}

func TestControlCreatePanelAndDataKeyframe(t *testing.T) {
	s := newTestServer(t)

	admin, created := dialControl(t, s, "")
	defer admin.Close()
	token := created.SessionID

	reply := sendControl(t, admin, wire.Envelope{Type: wire.TypeCreatePanel, Cols: 80, Rows: 24})
	if reply.Type != wire.TypeCreated || reply.PanelID == "" {
		t.Fatalf("create_panel reply = %+v", reply)
	}
	panelID := reply.PanelID

	dataConn, _, err := websocket.DefaultDialer.Dial(s.DataURL()+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial data: %v", err)
	}
	defer dataConn.Close()

	frame := wire.EncodeFrame(wire.OpRequestKeyframe, panelIDFromString(panelID), nil)
	if err := dataConn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write request_keyframe: %v", err)
	}

	dataConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := dataConn.ReadMessage()
	if err != nil {
		t.Fatalf("read keyframe: %v", err)
	}
	got, err := wire.DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if got.Opcode != wire.OpKeyframe {
		t.Fatalf("opcode = %#x, want OpKeyframe", got.Opcode)
	}
}

func TestControlCreatePanelForbiddenForViewer(t *testing.T) {
	s := newTestServer(t)

	admin, created := dialControl(t, s, "")
	defer admin.Close()
	token := created.SessionID

	viewer, _ := dialControl(t, s, "?token="+token+"&role=viewer")
	defer viewer.Close()

	reply := sendControl(t, viewer, wire.Envelope{Type: wire.TypeCreatePanel, Cols: 80, Rows: 24})
	if reply.Type != wire.TypeForbidden {
		t.Fatalf("create_panel as viewer reply.Type = %q, want forbidden", reply.Type)
	}
}

func TestControlUnknownTokenRejectedAtHandshake(t *testing.T) {
	s := newTestServer(t)
	url := s.ControlURL() + "?token=not-a-real-token"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read rejection: %v", err)
	}
	env, err := wire.DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode rejection: %v", err)
	}
	if env.Type != wire.TypeProtocolError {
		t.Fatalf("rejection type = %q, want protocol_error", env.Type)
	}
}

func TestControlBandwidthRequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	admin, created := dialControl(t, s, "")
	defer admin.Close()
	token := created.SessionID

	created2 := sendControl(t, admin, wire.Envelope{Type: wire.TypeCreatePanel, Cols: 80, Rows: 24})
	panelID := created2.PanelID

	reply := sendControl(t, admin, wire.Envelope{Type: wire.TypeBandwidth})
	if reply.Type != wire.TypeBandwidthReply {
		t.Fatalf("bandwidth reply.Type = %q, want bandwidth_reply", reply.Type)
	}
	found := false
	for _, sn := range reply.Bandwidth {
		if sn.PanelID == panelID {
			found = true
		}
	}
	if !found {
		t.Fatalf("bandwidth reply %+v missing panel %q", reply, panelID)
	}

	viewer, _ := dialControl(t, s, "?token="+token+"&role=viewer")
	defer viewer.Close()
	viewerReply := sendControl(t, viewer, wire.Envelope{Type: wire.TypeBandwidth})
	if viewerReply.Type != wire.TypeForbidden {
		t.Fatalf("bandwidth as viewer reply.Type = %q, want forbidden", viewerReply.Type)
	}
}

func TestDataPlaneInputForbiddenForViewerNotifiesControl(t *testing.T) {
	s := newTestServer(t)

	admin, created := dialControl(t, s, "")
	defer admin.Close()
	token := created.SessionID

	reply := sendControl(t, admin, wire.Envelope{Type: wire.TypeCreatePanel, Cols: 80, Rows: 24})
	panelID := reply.PanelID

	viewerData, _, err := websocket.DefaultDialer.Dial(s.DataURL()+"?token="+token+"&role=viewer", nil)
	if err != nil {
		t.Fatalf("dial viewer data: %v", err)
	}
	defer viewerData.Close()

	text := wire.EncodeTextInput("echo hi\n")
	frame := wire.EncodeFrame(wire.OpTextInput, panelIDFromString(panelID), text)
	if err := viewerData.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write text_input: %v", err)
	}

	admin.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, raw, err := admin.ReadMessage()
		if err != nil {
			t.Fatalf("read forbidden notice: %v", err)
		}
		env, err := wire.DecodeEnvelope(raw)
		if err != nil {
			t.Fatalf("decode control message: %v", err)
		}
		if env.Type == wire.TypeForbidden {
			return
		}
		// Other spontaneous pushes (e.g. a title/pwd report from the
		// freshly spawned shell) may arrive first; keep reading until
		// the forbidden notice shows up.
	}
}

// panelIDFromString mirrors panel.panelIDUint32's all-digit fast path so
// tests can construct a data-plane frame header without importing the
// unexported helper.
func panelIDFromString(id string) uint32 {
	var n uint32
	for _, r := range id {
		n = n*10 + uint32(r-'0')
	}
	return n
}
