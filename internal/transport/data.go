package transport

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mux/internal/session"
	"mux/internal/wire"
	"mux/internal/workerutil"

	"log/slog"
)

var dataUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// dataConn is the data-plane half of one client's pair of sockets: a
// binary connection carrying encoded video frames downstream and input
// opcodes upstream (spec §4.6's frame table). It implements
// session.Sender so a panel's fanout stage can address it through the
// registry without ever importing this package.
type dataConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *dataConn) SendFrame(frame []byte) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return false
	}
	err := c.ws.WriteMessage(websocket.BinaryMessage, frame)
	c.ws.SetWriteDeadline(time.Time{})
	return err == nil
}

// handleData upgrades one HTTP request to the data-plane WebSocket. A
// token is mandatory here: unlike the control endpoint, a data
// connection never creates a session, only joins one already admitted
// over the control plane (spec §4.7's "connection without a valid token
// is rejected at the handshake step").
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	ws, err := dataUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[transport] data upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(maxDataMessageSize)

	token := r.URL.Query().Get("token")
	if token == "" {
		writeHandshakeRejectBinary(ws, "missing session token")
		return
	}
	if _, ok := s.registry.Session(token); !ok {
		writeHandshakeRejectBinary(ws, "unknown session token")
		return
	}
	role := session.ParseRole(r.URL.Query().Get("role"))

	connID := s.nextConnID("data")
	dc := &dataConn{ws: ws}
	_, conn, err := s.registry.Bind(token, connID, role, dc)
	if err != nil {
		writeHandshakeRejectBinary(ws, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	var pingWG sync.WaitGroup
	workerutil.RunWithPanicRecovery(ctx, "data-ping:"+connID, &pingWG, func(ctx context.Context) {
		s.pingLoop(ctx, ws, &dc.writeMu)
	}, workerutil.RecoveryOptions{MaxRetries: 1})

	defer func() {
		cancel()
		pingWG.Wait()
		s.unsubscribeAll(connID)
		s.registry.Unbind(connID)
		s.closeConn(ws, "data connection closed")
	}()

	ws.SetReadDeadline(time.Now().Add(readDeadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		msgType, raw, readErr := ws.ReadMessage()
		if readErr != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		conn.RecordRX(len(raw))

		frame, decErr := wire.DecodeFrame(raw)
		if decErr != nil {
			slog.Debug("[transport] malformed data frame", "conn", connID, "error", decErr)
			continue
		}
		s.routeDataFrame(connID, conn, frame)
	}
}

// routeDataFrame applies one decoded data-plane opcode against the panel
// it targets (spec §4.6): REQUEST_KEYFRAME (re)subscribes the connection
// to that panel's fan-out list, honoring the "first/next frame is a
// keyframe" rule already implemented by Panel.Subscribe; RESIZE and the
// input opcodes require CanInput(), replying forbidden on the control
// plane instead of applying the frame when a viewer sends one (spec §7).
func (s *Server) routeDataFrame(connID string, conn *session.Connection, frame wire.Frame) {
	panelID := strconv.FormatUint(uint64(frame.PanelID), 10)
	p, ok := s.panels.Get(panelID)
	if !ok {
		return
	}

	switch frame.Opcode {
	case wire.OpRequestKeyframe:
		p.Subscribe(connID)
		s.trackSubscription(connID, panelID)

	case wire.OpResize:
		if !conn.CanInput() {
			s.forbidDataInput(connID, panelID)
			return
		}
		r, err := wire.DecodeResize(frame.Payload)
		if err != nil {
			return
		}
		cols, rows := int(r.Width)/8, int(r.Height)/16
		if cols <= 0 {
			cols = 1
		}
		if rows <= 0 {
			rows = 1
		}
		p.SendResize(cols, rows, int(r.Width), int(r.Height))

	case wire.OpKeyInput:
		if !conn.CanInput() {
			s.forbidDataInput(connID, panelID)
			return
		}
		k, err := wire.DecodeKeyInput(frame.Payload)
		if err != nil {
			return
		}
		_ = p.WriteInput(encodeKeyInput(k))

	case wire.OpTextInput:
		if !conn.CanInput() {
			s.forbidDataInput(connID, panelID)
			return
		}
		text, err := wire.DecodeTextInput(frame.Payload)
		if err != nil {
			return
		}
		_ = p.WriteInput([]byte(text))

	case wire.OpMouseButton:
		if !conn.CanInput() {
			s.forbidDataInput(connID, panelID)
			return
		}
		m, err := wire.DecodeMouseButton(frame.Payload)
		if err != nil {
			return
		}
		_ = p.WriteInput(encodeMouseButton(m))

	case wire.OpMouseMove:
		if !conn.CanInput() {
			s.forbidDataInput(connID, panelID)
			return
		}
		m, err := wire.DecodeMouseMove(frame.Payload)
		if err != nil {
			return
		}
		_ = p.WriteInput(encodeMouseMove(m))

	case wire.OpMouseScroll:
		if !conn.CanInput() {
			s.forbidDataInput(connID, panelID)
			return
		}
		m, err := wire.DecodeMouseScroll(frame.Payload)
		if err != nil {
			return
		}
		_ = p.WriteInput(encodeMouseScroll(m))
	}
}
