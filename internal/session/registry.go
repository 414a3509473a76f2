// Package session implements mux's session/client registry (spec §4.7):
// admission, role grants, and the connection bookkeeping a panel's
// fan-out list looks up by id. Grounded on the teacher's SessionManager
// (one sync.RWMutex guarding session/window/pane maps), narrowed to
// mux's flatter session/connection/panel model.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnknownToken is returned by Bind when no session matches the
	// presented token; the handshake step rejects the connection, per
	// spec §4.7.
	ErrUnknownToken = errors.New("session: unknown token")
	// ErrUnknownConnection is returned by lookups for a connection id
	// the registry has never seen or has already dropped.
	ErrUnknownConnection = errors.New("session: unknown connection")
	// ErrForbidden is returned when a connection's role does not permit
	// the requested action (spec §7's "unauthorised action").
	ErrForbidden = errors.New("session: forbidden")
)

// Registry is the single authority for session/connection/panel-
// ownership bookkeeping. All mutation goes through one mutex, matching
// the teacher's SessionManager locking style; singleflight collapses
// concurrent Bind calls presenting the same token so a reconnect storm
// only validates once.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	conns    map[string]*Connection
	connSess map[string]string // connection id -> session token

	tokenGroup singleflight.Group

	idleTimeout time.Duration
}

// NewRegistry constructs an empty Registry. idleTimeout is the
// supplemented idle-session-detection threshold (spec §12); zero
// disables idle flagging.
func NewRegistry(idleTimeout time.Duration) *Registry {
	return &Registry{
		sessions:    map[string]*Session{},
		conns:       map[string]*Connection{},
		connSess:    map[string]string{},
		idleTimeout: idleTimeout,
	}
}

// NewSession creates a fresh admission token. admin grants the session's
// first connection admin rights; subsequent Bind calls use Grant to
// adjust per-connection role.
func (r *Registry) NewSession(admin bool) *Session {
	token := uuid.NewString()
	s := newSession(token, admin)

	r.mu.Lock()
	r.sessions[token] = s
	r.mu.Unlock()

	slog.Info("[session] created", "token", token, "admin", admin)
	return s
}

// Bind validates token and registers conn against the matching Session,
// rejecting the connection per spec §4.7 if the token is unknown.
// Concurrent Binds for the same token are collapsed via singleflight so
// a reconnect storm performs one lookup.
func (r *Registry) Bind(token string, connID string, role Role, sender Sender) (*Session, *Connection, error) {
	v, err, _ := r.tokenGroup.Do(token, func() (any, error) {
		r.mu.RLock()
		s, ok := r.sessions[token]
		r.mu.RUnlock()
		if !ok {
			return nil, ErrUnknownToken
		}
		return s, nil
	})
	if err != nil {
		return nil, nil, err
	}
	s := v.(*Session)

	c := NewConnection(connID, role, token, sender)
	s.bind(c)

	r.mu.Lock()
	r.conns[connID] = c
	r.connSess[connID] = token
	r.mu.Unlock()

	slog.Info("[session] bind", "token", token, "conn", connID, "role", role.String())
	return s, c, nil
}

// Unbind drops conn from its session and the registry's connection map,
// e.g. on socket close; it does not close the session itself.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	token, ok := r.connSess[connID]
	delete(r.conns, connID)
	delete(r.connSess, connID)
	var s *Session
	if ok {
		s = r.sessions[token]
	}
	r.mu.Unlock()

	if s != nil {
		s.unbind(connID)
	}
}

// Connection looks up a live connection by id.
func (r *Registry) Connection(id string) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	return c, nil
}

// Session looks up a session by token.
func (r *Registry) Session(token string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[token]
	return s, ok
}

// SessionOf returns the session a connection is currently bound to.
func (r *Registry) SessionOf(connID string) (*Session, bool) {
	r.mu.RLock()
	token, ok := r.connSess[connID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Session(token)
}

// ListPanels returns the panel ids owned by the session bound to token.
func (r *Registry) ListPanels(token string) ([]string, error) {
	s, ok := r.Session(token)
	if !ok {
		return nil, ErrUnknownToken
	}
	return s.Panels(), nil
}

// OwnPanel records that a session owns a newly created panel.
func (r *Registry) OwnPanel(token, panelID string) error {
	s, ok := r.Session(token)
	if !ok {
		return ErrUnknownToken
	}
	s.addPanel(panelID)
	return nil
}

// DisownPanel removes panelID from a session's ownership set, called
// on close_panel.
func (r *Registry) DisownPanel(token, panelID string) {
	if s, ok := r.Session(token); ok {
		s.removePanel(panelID)
	}
}

// Grant changes a live connection's role. Only a connection whose own
// role is admin may call this successfully from the control handler;
// the handler is responsible for that check before calling Grant.
func (r *Registry) Grant(connID string, role Role) error {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	c.Role = role
	return nil
}

// CloseSession removes a session and every connection bound to it from
// the registry. It is a no-op returning nil if the token is unknown,
// matching spec §8's "close of an already-closed ... is a no-op
// returning success."
func (r *Registry) CloseSession(token string) error {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, token)
	for _, c := range s.Connections() {
		delete(r.conns, c.ID)
		delete(r.connSess, c.ID)
	}
	r.mu.Unlock()

	slog.Info("[session] closed", "token", token)
	return nil
}

// Sessions returns a snapshot of every live session, for list_sessions
// and the idle-detection sweep.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// SweepIdle marks sessions idle/active against idleTimeout. Supplemented
// feature (spec §12): advisory only, never closes a session.
func (r *Registry) SweepIdle(now time.Time) {
	if r.idleTimeout <= 0 {
		return
	}
	for _, s := range r.Sessions() {
		idle := now.Sub(s.lastActivity()) >= r.idleTimeout
		s.setIdle(idle)
	}
}
