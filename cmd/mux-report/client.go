package main

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"mux/internal/wire"
)

// reportClient is a thin, short-lived control-plane client: it dials
// fresh (no token), which mints a brand-new admin session per spec
// §4.7's opaque-token admission model, issues exactly one request, and
// disconnects. mux-report never needs to persist a session across
// invocations — every run is a fresh admin view of the server's live
// state.
type reportClient struct {
	ws *websocket.Conn
}

func dialReport(controlURL string) (*reportClient, error) {
	ws, _, err := websocket.DefaultDialer.Dial(controlURL, nil)
	if err != nil {
		return nil, fmt.Errorf("mux-report: dial %s: %w", controlURL, err)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("mux-report: read handshake: %w", err)
	}
	env, err := wire.DecodeEnvelope(raw)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("mux-report: decode handshake: %w", err)
	}
	if env.Type != wire.TypeCreated {
		ws.Close()
		return nil, fmt.Errorf("mux-report: handshake rejected: %s", env.Reason)
	}
	return &reportClient{ws: ws}, nil
}

func (c *reportClient) Close() error {
	return c.ws.Close()
}

func (c *reportClient) request(env wire.Envelope) (wire.Envelope, error) {
	b, err := wire.EncodeEnvelope(env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return wire.Envelope{}, fmt.Errorf("mux-report: write request: %w", err)
	}
	c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("mux-report: read reply: %w", err)
	}
	return wire.DecodeEnvelope(raw)
}

// fetchBandwidth issues one "bandwidth" control request and returns the
// per-panel advisory counters of spec §4.6.
func fetchBandwidth(controlURL string) ([]wire.BandwidthSnapshot, error) {
	c, err := dialReport(controlURL)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	reply, err := c.request(wire.Envelope{Type: wire.TypeBandwidth})
	if err != nil {
		return nil, err
	}
	if reply.Type == wire.TypeForbidden {
		return nil, fmt.Errorf("mux-report: bandwidth request forbidden: %s", reply.Reason)
	}
	if reply.Type != wire.TypeBandwidthReply {
		return nil, fmt.Errorf("mux-report: unexpected reply type %q", reply.Type)
	}
	return reply.Bandwidth, nil
}

// fetchSessions issues one "list_sessions" control request.
func fetchSessions(controlURL string) ([]wire.SessionSummary, error) {
	c, err := dialReport(controlURL)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	reply, err := c.request(wire.Envelope{Type: wire.TypeListSessions})
	if err != nil {
		return nil, err
	}
	if reply.Type != wire.TypeSessionList {
		return nil, fmt.Errorf("mux-report: unexpected reply type %q", reply.Type)
	}
	return reply.Sessions, nil
}
