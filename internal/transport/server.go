package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mux/internal/config"
	"mux/internal/panel"
	"mux/internal/runtime"
	"mux/internal/session"
	"mux/internal/wire"
)

const (
	writeDeadline         = 5 * time.Second
	readDeadline          = 90 * time.Second
	pingInterval          = 30 * time.Second
	maxControlMessageSize = 64 * 1024
	maxDataMessageSize    = 256 * 1024
)

// Server is mux's transport layer (spec §6): two WebSocket endpoints, a
// JSON control plane and a binary data plane, both admitting connections
// only against a known session.Registry token. Grounded on the teacher's
// Hub (net.Listener + http.Server pairing, ping/pong keepalive, write-
// deadline discipline), generalized from one fixed connection to many
// concurrent sessions and connections.
type Server struct {
	cfg      config.Config
	registry *session.Registry
	panels   *PanelManager
	rt       *runtime.Runtime

	controlListener net.Listener
	dataListener    net.Listener
	controlServer   *http.Server
	dataServer      *http.Server

	controlURL string
	dataURL    string

	connMu  sync.Mutex
	connSeq uint64

	subsMu sync.Mutex
	subs   map[string]map[string]struct{}

	closeOnce sync.Once
}

// New builds a Server around an already-constructed runtime and
// registry. metrics may be nil (no Prometheus export, e.g. in tests).
func New(cfg config.Config, rt *runtime.Runtime, registry *session.Registry, metrics *panel.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		rt:       rt,
		subs:     map[string]map[string]struct{}{},
	}
	s.panels = NewPanelManager(cfg, rt, registry, metrics, s)
	return s
}

// Start begins listening on the configured data and control ports. ctx is
// used as the BaseContext for both HTTP servers.
func (s *Server) Start(ctx context.Context) error {
	dataPort, controlPort := s.cfg.DerivedPorts()

	dln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", dataPort))
	if err != nil {
		return fmt.Errorf("transport: listen data: %w", err)
	}
	s.dataListener = dln
	s.dataURL = fmt.Sprintf("ws://127.0.0.1:%d/data", dln.Addr().(*net.TCPAddr).Port)

	cln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", controlPort))
	if err != nil {
		dln.Close()
		return fmt.Errorf("transport: listen control: %w", err)
	}
	s.controlListener = cln
	s.controlURL = fmt.Sprintf("ws://127.0.0.1:%d/control", cln.Addr().(*net.TCPAddr).Port)

	dataMux := http.NewServeMux()
	dataMux.HandleFunc("/data", s.handleData)
	s.dataServer = &http.Server{Handler: dataMux, BaseContext: func(net.Listener) context.Context { return ctx }}

	controlMux := http.NewServeMux()
	controlMux.HandleFunc("/control", s.handleControl)
	s.controlServer = &http.Server{Handler: controlMux, BaseContext: func(net.Listener) context.Context { return ctx }}

	go func() {
		if serveErr := s.dataServer.Serve(dln); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("[transport] data server error", "error", serveErr)
		}
	}()
	go func() {
		if serveErr := s.controlServer.Serve(cln); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("[transport] control server error", "error", serveErr)
		}
	}()

	slog.Info("[transport] started", "data", s.dataURL, "control", s.controlURL)
	return nil
}

// Stop gracefully shuts down both HTTP servers. Idempotent.
func (s *Server) Stop() error {
	var stopErr error
	s.closeOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.dataServer != nil {
			if err := s.dataServer.Shutdown(shutdownCtx); err != nil {
				stopErr = err
			}
		}
		if s.controlServer != nil {
			if err := s.controlServer.Shutdown(shutdownCtx); err != nil && stopErr == nil {
				stopErr = err
			}
		}
		slog.Info("[transport] stopped")
	})
	return stopErr
}

// DataURL and ControlURL report the listening addresses, valid after
// Start returns successfully.
func (s *Server) DataURL() string    { return s.dataURL }
func (s *Server) ControlURL() string { return s.controlURL }

// Panels exposes the panel manager to in-process callers. mux-report does
// not use it; it reaches the bandwidth counters over the control plane.
func (s *Server) Panels() *PanelManager { return s.panels }

// Registry exposes the session registry to in-process callers. cmd/mux's
// idle-sweep ticker uses the registry it passed to New, and
// mux-report lists sessions over the control plane.
func (s *Server) Registry() *session.Registry { return s.registry }

func (s *Server) nextConnID(prefix string) string {
	s.connMu.Lock()
	s.connSeq++
	id := s.connSeq
	s.connMu.Unlock()
	return fmt.Sprintf("%s-%d", prefix, id)
}

func (s *Server) closeConn(ws *websocket.Conn, reason string) {
	if err := ws.Close(); err != nil {
		slog.Debug("[transport] connection close", "reason", reason, "error", err)
	}
}

// pingLoop sends periodic WebSocket pings so a dead peer is noticed
// within readDeadline; shared by both the control and data connection
// handlers, each wiring it through workerutil.RunWithPanicRecovery so a
// bug in the ping loop itself can't take the read pump down with it.
func (s *Server) pingLoop(ctx context.Context, ws *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeMu.Lock()
			_ = ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := ws.WriteMessage(websocket.PingMessage, nil)
			ws.SetWriteDeadline(time.Time{})
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Notify implements panel.Notifier: it pushes a non-input control-plane
// message (title/pwd/bell/exit/error) to every control-plane connection
// bound to the panel's owning session. Data-plane connections bound to
// the same session are skipped: they speak only the binary frame format,
// per the panel/session split enforced at the type level by
// session.Sender.
func (s *Server) Notify(panelID string, env wire.Envelope) {
	token, ok := s.panels.SessionToken(panelID)
	if !ok {
		return
	}
	env.PanelID = panelID
	s.pushToControl(token, env)
}

func (s *Server) pushToControl(token string, env wire.Envelope) {
	sess, ok := s.registry.Session(token)
	if !ok {
		return
	}
	for _, c := range sess.Connections() {
		cc, ok := c.Sender().(*controlConn)
		if !ok {
			continue
		}
		if err := cc.sendEnvelope(env); err != nil {
			slog.Debug("[transport] notify failed", "conn", c.ID, "error", err)
		}
	}
}

func (s *Server) trackSubscription(connID, panelID string) {
	s.subsMu.Lock()
	if s.subs[connID] == nil {
		s.subs[connID] = map[string]struct{}{}
	}
	s.subs[connID][panelID] = struct{}{}
	s.subsMu.Unlock()
}

func (s *Server) unsubscribeAll(connID string) {
	s.subsMu.Lock()
	panels := s.subs[connID]
	delete(s.subs, connID)
	s.subsMu.Unlock()
	for id := range panels {
		if p, ok := s.panels.Get(id); ok {
			p.Unsubscribe(connID)
		}
	}
}

// forbidDataInput replies over the control plane when a data-plane
// connection without CanInput() sends an input opcode (spec §4.7/§7):
// the data frame itself is silently dropped, and the session's control
// connections learn about the rejection instead.
func (s *Server) forbidDataInput(connID, panelID string) {
	sess, ok := s.registry.SessionOf(connID)
	if !ok {
		return
	}
	s.pushToControl(sess.Token, wire.Envelope{Type: wire.TypeForbidden, PanelID: panelID, Reason: "viewer role cannot send input"})
}

func writeHandshakeReject(ws *websocket.Conn, reason string) {
	slog.Warn("[transport] control handshake rejected", "reason", reason)
	env := wire.Envelope{Type: wire.TypeProtocolError, Reason: reason}
	if b, err := wire.EncodeEnvelope(env); err == nil {
		_ = ws.WriteMessage(websocket.TextMessage, b)
	}
	ws.Close()
}

func writeHandshakeRejectBinary(ws *websocket.Conn, reason string) {
	slog.Warn("[transport] data handshake rejected", "reason", reason)
	ws.Close()
}
