// Package transport implements mux's two WebSocket endpoints (spec §6):
// a JSON control plane for panel lifecycle/session management, and a
// binary data plane for video frames and input. Grounded on the
// teacher's wsserver.Hub (listener/http.Server pairing, ping/pong
// keepalive, write-deadline discipline), generalized from one fixed
// desktop connection to many concurrent sessions and connections bound
// through internal/session.Registry.
package transport

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"mux/internal/config"
	"mux/internal/panel"
	"mux/internal/runtime"
	"mux/internal/session"
)

// ErrResourceExhausted is returned by PanelManager.Create once
// cfg.MaxPanels live panels already exist (spec §7's resource_exhausted
// reply).
var ErrResourceExhausted = errors.New("transport: max panels reached")

// PanelManager owns every live panel.Panel, keyed by the small decimal id
// it assigns at creation. panel.panelIDUint32 parses an all-digit id
// directly, so a data-plane frame's PanelID field round-trips back to
// this map's key via strconv without a side table.
type PanelManager struct {
	cfg      config.Config
	rt       *runtime.Runtime
	registry *session.Registry
	metrics  *panel.Metrics
	notifier panel.Notifier

	mu     sync.RWMutex
	panels map[string]*panel.Panel
	tokens map[string]string // panel id -> owning session token
	nextID atomic.Uint64
}

// NewPanelManager builds an empty manager. notifier is normally the
// transport Server itself (it implements panel.Notifier).
func NewPanelManager(cfg config.Config, rt *runtime.Runtime, registry *session.Registry, metrics *panel.Metrics, notifier panel.Notifier) *PanelManager {
	return &PanelManager{
		cfg:      cfg,
		rt:       rt,
		registry: registry,
		metrics:  metrics,
		notifier: notifier,
		panels:   map[string]*panel.Panel{},
		tokens:   map[string]string{},
	}
}

// Create spawns a new panel owned by sessionToken, applying the
// configured shell/frame-rate/bitrate/scrollback defaults.
func (m *PanelManager) Create(sessionToken string, cols, rows int) (*panel.Panel, error) {
	m.mu.Lock()
	if m.cfg.MaxPanels > 0 && len(m.panels) >= m.cfg.MaxPanels {
		m.mu.Unlock()
		return nil, ErrResourceExhausted
	}
	id := strconv.FormatUint(m.nextID.Add(1), 10)
	m.mu.Unlock()

	p, err := panel.New(panel.Config{
		ID:              id,
		SessionToken:    sessionToken,
		Shell:           m.cfg.Shell,
		Cols:            cols,
		Rows:            rows,
		FrameRate:       m.cfg.FrameRate,
		Bitrate:         m.cfg.Bitrate,
		ScrollbackBytes: m.cfg.ScrollbackBytes,
		Registry:        m.registry,
		Runtime:         m.rt,
		Notifier:        m.notifier,
		Metrics:         m.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: create panel: %w", err)
	}

	m.mu.Lock()
	m.panels[id] = p
	m.tokens[id] = sessionToken
	m.mu.Unlock()

	if err := m.registry.OwnPanel(sessionToken, id); err != nil {
		p.Close("owner session vanished")
		return nil, err
	}
	return p, nil
}

// Get looks up a live panel by id.
func (m *PanelManager) Get(id string) (*panel.Panel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.panels[id]
	return p, ok
}

// SessionToken returns the token of the session that owns panel id, used
// by Server.Notify to find where to push a non-input notification.
func (m *PanelManager) SessionToken(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[id]
	return tok, ok
}

// Close stops and removes panel id, provided sessionToken owns it;
// otherwise session.ErrForbidden.
func (m *PanelManager) Close(sessionToken, id string) error {
	m.mu.Lock()
	p, ok := m.panels[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("transport: unknown panel %q", id)
	}
	owner := m.tokens[id]
	if owner != sessionToken {
		m.mu.Unlock()
		return session.ErrForbidden
	}
	delete(m.panels, id)
	delete(m.tokens, id)
	m.mu.Unlock()

	m.registry.DisownPanel(sessionToken, id)
	return p.Close("closed by client")
}

// Count reports the number of live panels.
func (m *PanelManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.panels)
}

// Snapshot returns the advisory bandwidth counters of every live panel.
func (m *PanelManager) Snapshot() []panel.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]panel.Snapshot, 0, len(m.panels))
	for _, p := range m.panels {
		out = append(out, p.Bandwidth().Snapshot())
	}
	return out
}
