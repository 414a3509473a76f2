package wire

import (
	"encoding/json"
	"fmt"
)

// Control-plane message types (the "type" tag of every JSON envelope).
// Client-to-server:
const (
	TypeCreatePanel  = "create_panel"
	TypeClosePanel   = "close_panel"
	TypeResizePanel  = "resize_panel"
	TypeFocusPanel   = "focus_panel"
	TypeListSessions = "list_sessions"
	TypeGrant        = "grant"
	TypeScrollback   = "scrollback"
	TypeBandwidth    = "bandwidth"
)

// Server-to-client, non-input notifications (spec §4.6/§12): pushed on
// change, one message per frame, never in reply to a specific request.
const (
	TypeTitle = "title"
	TypePwd   = "pwd"
	TypeBell  = "bell"
)

// Server-to-client:
const (
	TypeCreated           = "created"
	TypeExit              = "exit"
	TypeError             = "error"
	TypeForbidden         = "forbidden"
	TypeProtocolError     = "protocol_error"
	TypeResourceExhausted = "resource_exhausted"
	TypeSessionList       = "session_list"
	TypeScrollbackReply   = "scrollback_reply"
	TypeBandwidthReply    = "bandwidth_reply"
)

// Envelope is the wire shape of every control-plane frame: a closed tagged
// variant keyed on Type, decoded at the boundary per spec §9 ("model as a
// closed tagged variant... reject unknowns"). Fields unused by a given Type
// are omitted on encode and ignored on decode.
type Envelope struct {
	Type string `json:"type"`

	// create_panel / resize_panel
	PanelID string `json:"panel_id,omitempty"`
	Cols    int    `json:"cols,omitempty"`
	Rows    int    `json:"rows,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`

	// focus_panel / close_panel need only PanelID above.

	// grant: ConnID names the connection (within the caller's own
	// session) whose role is being changed.
	ConnID string `json:"conn_id,omitempty"`
	Role   string `json:"role,omitempty"`

	// scrollback / scrollback_reply
	MaxBytes int    `json:"max_bytes,omitempty"`
	Data     []byte `json:"data,omitempty"`

	// created
	SessionID string `json:"session_id,omitempty"`

	// exit / error / protocol_error / resource_exhausted / forbidden
	Reason string `json:"reason,omitempty"`

	// session_list
	Sessions []SessionSummary `json:"sessions,omitempty"`

	// bandwidth_reply
	Bandwidth []BandwidthSnapshot `json:"bandwidth,omitempty"`

	// title / pwd
	Text string `json:"text,omitempty"`
}

// BandwidthSnapshot is the wire shape of one panel's advisory byte
// counters (spec §4.6), reported in a bandwidth_reply and consumed by
// mux-report. It mirrors internal/panel.Snapshot field-for-field; the
// control plane cannot import internal/panel (which itself imports this
// package), so the shape is duplicated here rather than shared.
type BandwidthSnapshot struct {
	PanelID      string `json:"panel_id"`
	PTYBytes     int64  `json:"pty_bytes"`
	EncodedBytes int64  `json:"encoded_bytes"`
	FrameCount   int64  `json:"frame_count"`
	ControlIn    int64  `json:"control_bytes_in"`
	ControlOut   int64  `json:"control_bytes_out"`
}

// SessionSummary describes one live session for a list_sessions reply.
type SessionSummary struct {
	SessionID string   `json:"session_id"`
	PanelIDs  []string `json:"panel_ids"`
}

// knownTypes is the closed set of control-plane message types this version
// of the protocol understands. Anything else is a protocol_error.
var knownTypes = map[string]bool{
	TypeCreatePanel:       true,
	TypeClosePanel:        true,
	TypeResizePanel:       true,
	TypeFocusPanel:        true,
	TypeListSessions:      true,
	TypeGrant:             true,
	TypeScrollback:        true,
	TypeBandwidth:         true,
	TypeCreated:           true,
	TypeExit:              true,
	TypeError:             true,
	TypeForbidden:         true,
	TypeProtocolError:     true,
	TypeResourceExhausted: true,
	TypeSessionList:       true,
	TypeScrollbackReply:   true,
	TypeBandwidthReply:    true,
	TypeTitle:             true,
	TypePwd:               true,
	TypeBell:              true,
}

// DecodeEnvelope parses one control-plane JSON message and rejects any type
// outside the closed set above.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode control envelope: %w", err)
	}
	if !knownTypes[env.Type] {
		return Envelope{}, fmt.Errorf("wire: decode control envelope: unknown type %q", env.Type)
	}
	return env, nil
}

// EncodeEnvelope marshals a control-plane message for transmission.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encode control envelope: %w", err)
	}
	return b, nil
}

// Dispatch routes a decoded Envelope to a registered handler by Type,
// mirroring the command-router dispatch-by-string idiom: a closed handler
// table looked up once, with an explicit "unknown" fallback rather than a
// type switch that silently grows unchecked.
type Dispatch struct {
	handlers map[string]func(Envelope) (Envelope, error)
}

// NewDispatch builds an empty Dispatch table.
func NewDispatch() *Dispatch {
	return &Dispatch{handlers: make(map[string]func(Envelope) (Envelope, error))}
}

// Handle registers the handler for a client-to-server message type.
func (d *Dispatch) Handle(msgType string, fn func(Envelope) (Envelope, error)) {
	d.handlers[msgType] = fn
}

// Route looks up and invokes the handler for env.Type. If no handler is
// registered, it returns a protocol_error envelope rather than an error,
// since the caller's next step is always "send this back to the client."
func (d *Dispatch) Route(env Envelope) (Envelope, error) {
	h, ok := d.handlers[env.Type]
	if !ok {
		return Envelope{Type: TypeProtocolError, Reason: fmt.Sprintf("unhandled control message type: %s", env.Type)}, nil
	}
	return h(env)
}
