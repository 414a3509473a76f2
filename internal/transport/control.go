package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mux/internal/session"
	"mux/internal/wire"
	"mux/internal/workerutil"

	"log/slog"
)

var controlUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// controlConn is the control-plane half of one client's pair of sockets: a
// JSON text-message connection carrying create_panel/close_panel/... and
// similar requests, plus title/pwd/bell/exit/error pushes (spec §6). It
// implements session.Sender so the registry tracks it like any other
// connection; Server.pushToControl recovers the concrete type by
// asserting a session.Connection's Sender back to *controlConn.
type controlConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *controlConn) sendEnvelope(env wire.Envelope) error {
	b, err := wire.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return c.sendFrame(b)
}

func (c *controlConn) sendFrame(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	err := c.ws.WriteMessage(websocket.TextMessage, b)
	c.ws.SetWriteDeadline(time.Time{})
	return err
}

// SendFrame implements session.Sender; frame is an already-encoded JSON
// envelope.
func (c *controlConn) SendFrame(frame []byte) bool {
	return c.sendFrame(frame) == nil
}

// handleControl upgrades one HTTP request to the control-plane
// WebSocket. A request with no token query parameter establishes a
// brand-new admin session (mux's opaque-token admission model, spec
// §4.7); a request presenting a token rebinds an existing session at
// whatever role the query parameter names, rejecting unknown tokens at
// the handshake.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	ws, err := controlUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[transport] control upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(maxControlMessageSize)

	token := r.URL.Query().Get("token")
	role := session.RoleAdmin
	if token == "" {
		sess := s.registry.NewSession(true)
		token = sess.Token
	} else {
		if _, ok := s.registry.Session(token); !ok {
			writeHandshakeReject(ws, "unknown session token")
			return
		}
		role = session.ParseRole(r.URL.Query().Get("role"))
	}

	connID := s.nextConnID("ctl")
	cc := &controlConn{ws: ws}
	sess, conn, err := s.registry.Bind(token, connID, role, cc)
	if err != nil {
		writeHandshakeReject(ws, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	var pingWG sync.WaitGroup
	workerutil.RunWithPanicRecovery(ctx, "control-ping:"+connID, &pingWG, func(ctx context.Context) {
		s.pingLoop(ctx, ws, &cc.writeMu)
	}, workerutil.RecoveryOptions{MaxRetries: 1})

	defer func() {
		cancel()
		pingWG.Wait()
		s.registry.Unbind(connID)
		s.closeConn(ws, "control connection closed")
	}()

	if err := cc.sendEnvelope(wire.Envelope{Type: wire.TypeCreated, SessionID: token}); err != nil {
		slog.Warn("[transport] failed to send created envelope", "conn", connID, "error", err)
		return
	}

	ws.SetReadDeadline(time.Now().Add(readDeadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readDeadline))
	})

	dispatch := s.buildDispatch(sess, conn, connID)

	for {
		msgType, raw, readErr := ws.ReadMessage()
		if readErr != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		conn.RecordRX(len(raw))

		env, decErr := wire.DecodeEnvelope(raw)
		if decErr != nil {
			_ = cc.sendEnvelope(wire.Envelope{Type: wire.TypeProtocolError, Reason: decErr.Error()})
			continue
		}
		if p, ok := s.panels.Get(env.PanelID); ok {
			p.Bandwidth().AddControlIn(len(raw))
		}

		reply, routeErr := dispatch.Route(env)
		if routeErr != nil {
			_ = cc.sendEnvelope(wire.Envelope{Type: wire.TypeProtocolError, Reason: routeErr.Error()})
			continue
		}
		if reply.Type == "" {
			continue
		}
		replyBytes, encErr := wire.EncodeEnvelope(reply)
		if encErr != nil {
			continue
		}
		_ = cc.sendFrame(replyBytes)
		if p, ok := s.panels.Get(reply.PanelID); ok {
			p.Bandwidth().AddControlOut(len(replyBytes))
		}
	}
}

// buildDispatch wires one connection's control-plane handler table (spec
// §6/§7): create_panel/close_panel/resize_panel require the admin role;
// focus_panel only checks that the panel exists and is open to any bound
// role; list_sessions/scrollback are read-only and available to any bound
// role; grant requires admin and targets another connection in the same
// session.
func (s *Server) buildDispatch(sess *session.Session, conn *session.Connection, connID string) *wire.Dispatch {
	d := wire.NewDispatch()

	d.Handle(wire.TypeCreatePanel, func(env wire.Envelope) (wire.Envelope, error) {
		if !conn.CanManagePanels() {
			return wire.Envelope{Type: wire.TypeForbidden, Reason: "create_panel requires admin role"}, nil
		}
		p, err := s.panels.Create(sess.Token, env.Cols, env.Rows)
		if errors.Is(err, ErrResourceExhausted) {
			return wire.Envelope{Type: wire.TypeResourceExhausted, Reason: err.Error()}, nil
		}
		if err != nil {
			return wire.Envelope{Type: wire.TypeError, Reason: err.Error()}, nil
		}
		return wire.Envelope{Type: wire.TypeCreated, PanelID: p.ID()}, nil
	})

	d.Handle(wire.TypeClosePanel, func(env wire.Envelope) (wire.Envelope, error) {
		if !conn.CanManagePanels() {
			return wire.Envelope{Type: wire.TypeForbidden, PanelID: env.PanelID, Reason: "close_panel requires admin role"}, nil
		}
		if err := s.panels.Close(sess.Token, env.PanelID); err != nil {
			return wire.Envelope{Type: wire.TypeError, PanelID: env.PanelID, Reason: err.Error()}, nil
		}
		return wire.Envelope{Type: wire.TypeExit, PanelID: env.PanelID, Reason: "closed"}, nil
	})

	d.Handle(wire.TypeResizePanel, func(env wire.Envelope) (wire.Envelope, error) {
		if !conn.CanManagePanels() {
			return wire.Envelope{Type: wire.TypeForbidden, PanelID: env.PanelID, Reason: "resize_panel requires admin role"}, nil
		}
		p, ok := s.panels.Get(env.PanelID)
		if !ok {
			return wire.Envelope{Type: wire.TypeError, PanelID: env.PanelID, Reason: "unknown panel"}, nil
		}
		width, height := env.Width, env.Height
		if width <= 0 {
			width = env.Cols * 8
		}
		if height <= 0 {
			height = env.Rows * 16
		}
		p.SendResize(env.Cols, env.Rows, width, height)
		return wire.Envelope{}, nil
	})

	d.Handle(wire.TypeFocusPanel, func(env wire.Envelope) (wire.Envelope, error) {
		if _, ok := s.panels.Get(env.PanelID); !ok {
			return wire.Envelope{Type: wire.TypeError, PanelID: env.PanelID, Reason: "unknown panel"}, nil
		}
		return wire.Envelope{}, nil
	})

	d.Handle(wire.TypeListSessions, func(env wire.Envelope) (wire.Envelope, error) {
		live := s.registry.Sessions()
		summaries := make([]wire.SessionSummary, 0, len(live))
		for _, sv := range live {
			summaries = append(summaries, wire.SessionSummary{SessionID: sv.Token, PanelIDs: sv.Panels()})
		}
		return wire.Envelope{Type: wire.TypeSessionList, Sessions: summaries}, nil
	})

	d.Handle(wire.TypeGrant, func(env wire.Envelope) (wire.Envelope, error) {
		if !conn.CanManagePanels() {
			return wire.Envelope{Type: wire.TypeForbidden, Reason: "grant requires admin role"}, nil
		}
		if err := s.registry.Grant(env.ConnID, session.ParseRole(env.Role)); err != nil {
			return wire.Envelope{Type: wire.TypeError, Reason: err.Error()}, nil
		}
		return wire.Envelope{}, nil
	})

	d.Handle(wire.TypeScrollback, func(env wire.Envelope) (wire.Envelope, error) {
		p, ok := s.panels.Get(env.PanelID)
		if !ok {
			return wire.Envelope{Type: wire.TypeError, PanelID: env.PanelID, Reason: "unknown panel"}, nil
		}
		return wire.Envelope{Type: wire.TypeScrollbackReply, PanelID: env.PanelID, Data: p.Scrollback(env.MaxBytes)}, nil
	})

	d.Handle(wire.TypeBandwidth, func(env wire.Envelope) (wire.Envelope, error) {
		if !conn.CanManagePanels() {
			return wire.Envelope{Type: wire.TypeForbidden, Reason: "bandwidth requires admin role"}, nil
		}
		snaps := s.panels.Snapshot()
		out := make([]wire.BandwidthSnapshot, len(snaps))
		for i, sn := range snaps {
			out[i] = wire.BandwidthSnapshot{
				PanelID:      sn.PanelID,
				PTYBytes:     sn.PTYBytes,
				EncodedBytes: sn.EncodedBytes,
				FrameCount:   sn.FrameCount,
				ControlIn:    sn.ControlIn,
				ControlOut:   sn.ControlOut,
			}
		}
		return wire.Envelope{Type: wire.TypeBandwidthReply, Bandwidth: out}, nil
	})

	return d
}
