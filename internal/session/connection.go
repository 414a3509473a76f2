package session

import (
	"sync/atomic"
	"time"
)

// Role is a connection's permission level within its bound session, per
// spec §4.7: admins may create/close panels, editors may send input,
// viewers receive frames only.
type Role int

const (
	RoleViewer Role = iota
	RoleEditor
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleEditor:
		return "editor"
	default:
		return "viewer"
	}
}

// ParseRole converts the wire string form of a role ("admin"/"editor"/
// "viewer") into a Role, defaulting to RoleViewer for anything else so a
// malformed grant request degrades to the least-privileged role rather
// than failing closed in an unexpected way.
func ParseRole(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	case "editor":
		return RoleEditor
	default:
		return RoleViewer
	}
}

// Sender is the narrow contract a Connection needs from its transport:
// enqueue an outbound data-plane frame. internal/transport's websocket
// connection implements this; internal/panel's fanout stage only ever
// sees this interface, never the concrete socket, so the panel package
// never imports internal/transport.
type Sender interface {
	// SendFrame enqueues an encoded data-plane frame for delivery. It
	// must not block past the connection's own backpressure policy;
	// callers (panel fanout) treat a false return as "drop this frame."
	SendFrame(frame []byte) bool
}

// Connection is one client socket bound to a Session, per spec §3. A
// panel's fan-out list references connections by id only and looks them
// up through the Registry; it never holds a strong reference, so a
// connection's lifetime is owned entirely by the registry.
type Connection struct {
	ID        string
	Role      Role
	SessionID string

	sender Sender

	rxBytes      atomic.Int64
	txBytes      atomic.Int64
	lastActivity atomic.Int64 // unix nanos
}

// NewConnection wraps sender under id, role, and the session it is bound
// to. lastActivity is initialized to now.
func NewConnection(id string, role Role, sessionID string, sender Sender) *Connection {
	c := &Connection{ID: id, Role: role, SessionID: sessionID, sender: sender}
	c.Touch()
	return c
}

// Send hands frame to the underlying transport, recording it against the
// tx byte counter on success.
func (c *Connection) Send(frame []byte) bool {
	if c.sender == nil {
		return false
	}
	ok := c.sender.SendFrame(frame)
	if ok {
		c.txBytes.Add(int64(len(frame)))
	}
	return ok
}

// Sender returns the connection's underlying transport, e.g. so
// internal/transport can type-assert its own connection type back out of
// a session.Session's connection list when pushing a notification that
// isn't part of a panel's fan-out list (a control-plane push rather than a
// data-plane frame).
func (c *Connection) Sender() Sender { return c.sender }

// RecordRX accounts n bytes received from this connection and refreshes
// its activity timestamp.
func (c *Connection) RecordRX(n int) {
	c.rxBytes.Add(int64(n))
	c.Touch()
}

// Touch refreshes the connection's last-activity timestamp to now.
func (c *Connection) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the connection's most recent touch time.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// RXBytes and TXBytes report the advisory per-connection byte counters
// named in spec §4.6.
func (c *Connection) RXBytes() int64 { return c.rxBytes.Load() }
func (c *Connection) TXBytes() int64 { return c.txBytes.Load() }

// CanInput reports whether this connection's role permits sending input
// (editor or admin); viewers are rejected per spec §4.7/§7's
// "unauthorised action" handling.
func (c *Connection) CanInput() bool {
	return c.Role == RoleEditor || c.Role == RoleAdmin
}

// CanManagePanels reports whether this connection's role permits
// create_panel/close_panel/grant (admin only).
func (c *Connection) CanManagePanels() bool {
	return c.Role == RoleAdmin
}
