package terminal

import (
	"bytes"
	"sync"
	"time"
)

var outputBufferPool = sync.Pool{
	New: func() any {
		return &bytes.Buffer{}
	},
}

type panelOutputChunk struct {
	panelID string
	data    []byte
}

type panelOutputState struct {
	buf          *bytes.Buffer
	lastWriteAt  time.Time
	pendingSince time.Time
}

// OutputFlushManager batches PTY output for every live panel through a
// single background loop (16ms / 8KB default) instead of a ticker
// goroutine per panel. internal/panel's pty_reader stage writes raw
// shell bytes in here keyed by panel id; the manager coalesces bursty
// reads and hands each panel its batch back once the size threshold or
// quiet-period deadline is hit.
type OutputFlushManager struct {
	mu sync.Mutex

	interval       time.Duration
	maxBytes       int
	maxBufferedAge time.Duration
	emit           func(string, []byte)

	panels map[string]*panelOutputState

	started  bool
	stopped  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	wakeCh   chan struct{}
	stopOnce sync.Once
}

// NewOutputFlushManager creates a shared output flusher. emit is called
// with a panel's id and its batched bytes once a threshold is crossed.
func NewOutputFlushManager(interval time.Duration, maxBytes int, emit func(panelID string, data []byte)) *OutputFlushManager {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	if maxBytes <= 0 {
		maxBytes = 8 * 1024
	}
	if emit == nil {
		emit = func(string, []byte) {}
	}
	maxBufferedAge := interval * 4
	if maxBufferedAge < 64*time.Millisecond {
		maxBufferedAge = 64 * time.Millisecond
	}
	return &OutputFlushManager{
		interval:       interval,
		maxBytes:       maxBytes,
		maxBufferedAge: maxBufferedAge,
		emit:           emit,
		panels:         map[string]*panelOutputState{},
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		wakeCh:         make(chan struct{}, 1),
	}
}

// Start starts the shared flush loop.
func (m *OutputFlushManager) Start() {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.loop()
}

func (m *OutputFlushManager) loop() {
	defer close(m.doneCh)

	currentInterval := m.interval
	timer := time.NewTimer(currentInterval)
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			m.flushAll()
			return
		case <-m.wakeCh:
			flushed := m.flushReady(true)
			currentInterval = m.nextInterval(flushed)
			resetTimer(timer, currentInterval)
		case <-timer.C:
			flushed := m.flushReady(false)
			currentInterval = m.nextInterval(flushed)
			timer.Reset(currentInterval)
		}
	}
}

func resetTimer(timer *time.Timer, interval time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(interval)
}

func (m *OutputFlushManager) nextInterval(flushed int) time.Duration {
	if flushed <= 2 {
		return m.interval * 2
	}
	return m.interval
}

// Write appends output for one panel's pty_reader stage.
func (m *OutputFlushManager) Write(panelID string, data []byte) {
	if panelID == "" || len(data) == 0 {
		return
	}
	shouldWake := false
	now := time.Now()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	state := m.panels[panelID]
	if state == nil {
		buf := outputBufferPool.Get().(*bytes.Buffer)
		buf.Reset()
		state = &panelOutputState{buf: buf}
		m.panels[panelID] = state
	}
	if state.buf.Len() == 0 {
		state.pendingSince = now
	}
	state.lastWriteAt = now
	_, _ = state.buf.Write(data)
	if state.buf.Len() >= m.maxBytes {
		shouldWake = true
	}
	m.mu.Unlock()

	if shouldWake {
		select {
		case m.wakeCh <- struct{}{}:
		default:
		}
	}
}

// RetainPanels removes buffers for panels no longer present in existing
// (e.g. closed between two sweeps) and flushes their pending data.
func (m *OutputFlushManager) RetainPanels(existing map[string]struct{}) []string {
	if len(existing) == 0 {
		return m.detachAll()
	}

	removed := make([]string, 0)
	chunks := make([]panelOutputChunk, 0)

	m.mu.Lock()
	for panelID, state := range m.panels {
		if _, ok := existing[panelID]; ok {
			continue
		}
		removed = append(removed, panelID)
		if state != nil {
			if chunk, ok := m.flushStateLocked(panelID, state); ok {
				chunks = append(chunks, chunk)
			}
			m.releaseStateLocked(state)
		}
		delete(m.panels, panelID)
	}
	m.mu.Unlock()

	m.emitChunks(chunks)
	return removed
}

// RemovePanel removes one panel's buffer and flushes its pending data;
// called by internal/panel.Panel.Close so a closing panel's last batch
// still reaches the emulator/scrollback before it is torn down.
func (m *OutputFlushManager) RemovePanel(panelID string) {
	if panelID == "" {
		return
	}
	var chunk panelOutputChunk
	var hasChunk bool

	m.mu.Lock()
	state := m.panels[panelID]
	if state != nil {
		chunk, hasChunk = m.flushStateLocked(panelID, state)
		m.releaseStateLocked(state)
		delete(m.panels, panelID)
	}
	m.mu.Unlock()

	if hasChunk {
		m.emit(chunk.panelID, chunk.data)
	}
}

func (m *OutputFlushManager) detachAll() []string {
	removed := make([]string, 0)
	chunks := make([]panelOutputChunk, 0)

	m.mu.Lock()
	for panelID, state := range m.panels {
		removed = append(removed, panelID)
		if state != nil {
			if chunk, ok := m.flushStateLocked(panelID, state); ok {
				chunks = append(chunks, chunk)
			}
			m.releaseStateLocked(state)
		}
		delete(m.panels, panelID)
	}
	m.mu.Unlock()

	m.emitChunks(chunks)
	return removed
}

func (m *OutputFlushManager) flushReady(forceLargeOnly bool) int {
	now := time.Now()
	chunks := make([]panelOutputChunk, 0)

	m.mu.Lock()
	for panelID, state := range m.panels {
		if state == nil {
			continue
		}
		if chunk, ok := m.shouldFlushStateLocked(panelID, state, now, forceLargeOnly); ok {
			chunks = append(chunks, chunk)
		}
	}
	m.mu.Unlock()

	m.emitChunks(chunks)
	return len(chunks)
}

func (m *OutputFlushManager) flushAll() {
	chunks := make([]panelOutputChunk, 0)

	m.mu.Lock()
	for panelID, state := range m.panels {
		if state == nil {
			continue
		}
		if chunk, ok := m.flushStateLocked(panelID, state); ok {
			chunks = append(chunks, chunk)
		}
		m.releaseStateLocked(state)
		delete(m.panels, panelID)
	}
	m.mu.Unlock()
	m.emitChunks(chunks)
}

func (m *OutputFlushManager) shouldFlushStateLocked(
	panelID string,
	state *panelOutputState,
	now time.Time,
	forceLargeOnly bool,
) (panelOutputChunk, bool) {
	if state.buf == nil || state.buf.Len() == 0 {
		return panelOutputChunk{}, false
	}
	if forceLargeOnly {
		if state.buf.Len() < m.maxBytes {
			return panelOutputChunk{}, false
		}
		return m.flushStateLocked(panelID, state)
	}

	quietFor := now.Sub(state.lastWriteAt)
	pendingFor := now.Sub(state.pendingSince)
	if state.buf.Len() < m.maxBytes && quietFor < m.interval && pendingFor < m.maxBufferedAge {
		return panelOutputChunk{}, false
	}
	return m.flushStateLocked(panelID, state)
}

func (m *OutputFlushManager) flushStateLocked(
	panelID string,
	state *panelOutputState,
) (panelOutputChunk, bool) {
	if state == nil || state.buf == nil || state.buf.Len() == 0 {
		return panelOutputChunk{}, false
	}
	data := append([]byte(nil), state.buf.Bytes()...)
	state.buf.Reset()
	state.pendingSince = time.Time{}
	return panelOutputChunk{panelID: panelID, data: data}, len(data) > 0
}

func (m *OutputFlushManager) releaseStateLocked(state *panelOutputState) {
	if state == nil || state.buf == nil {
		return
	}
	state.buf.Reset()
	outputBufferPool.Put(state.buf)
	state.buf = nil
}

func (m *OutputFlushManager) emitChunks(chunks []panelOutputChunk) {
	for _, chunk := range chunks {
		if len(chunk.data) == 0 {
			continue
		}
		m.emit(chunk.panelID, chunk.data)
	}
}

// Stop stops the manager and flushes pending data for every panel still
// registered.
func (m *OutputFlushManager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		started := m.started
		m.mu.Unlock()

		if !started {
			m.flushAll()
			close(m.doneCh)
			return
		}
		close(m.stopCh)
		<-m.doneCh
	})
}
