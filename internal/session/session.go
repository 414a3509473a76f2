package session

import (
	"sync"
	"time"
)

// Session is a durable admission unit, per spec §3: sessions outlive
// individual connections, and a reconnect rebinds by presenting the same
// token. The registry, not the Session itself, owns the id→Session map;
// a Session only tracks what it binds.
type Session struct {
	Token     string
	Admin     bool
	CreatedAt time.Time

	mu          sync.RWMutex
	connections map[string]*Connection
	panels      map[string]struct{}
	idle        bool
}

func newSession(token string, admin bool) *Session {
	return &Session{
		Token:       token,
		Admin:       admin,
		CreatedAt:   time.Now(),
		connections: map[string]*Connection{},
		panels:      map[string]struct{}{},
	}
}

// Connections returns a snapshot of the connections currently bound to
// this session.
func (s *Session) Connections() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c)
	}
	return out
}

// Panels returns the ids of panels this session owns.
func (s *Session) Panels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.panels))
	for id := range s.panels {
		out = append(out, id)
	}
	return out
}

func (s *Session) bind(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[c.ID] = c
	s.idle = false
}

func (s *Session) unbind(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, connID)
}

func (s *Session) addPanel(panelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels[panelID] = struct{}{}
}

func (s *Session) removePanel(panelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.panels, panelID)
}

func (s *Session) ownsPanel(panelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.panels[panelID]
	return ok
}

// lastActivity is the most recent touch across every bound connection,
// used by the registry's idle-detection sweep (spec's supplemented
// "idle session detection" feature).
func (s *Session) lastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := s.CreatedAt
	for _, c := range s.connections {
		if t := c.LastActivity(); t.After(latest) {
			latest = t
		}
	}
	return latest
}

// Idle reports whether the registry's idle sweep has flagged this
// session. It never gates behavior (per spec, idle sessions are not
// auto-closed); it is advisory. list_sessions replies do not carry it.
func (s *Session) Idle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idle
}

func (s *Session) setIdle(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = v
}
