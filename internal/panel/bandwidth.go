package panel

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Bandwidth holds the per-panel advisory counters named in spec §4.6:
// PTY bytes, encoded bytes, frame count, and control-plane bytes in/out.
// None of these gate behavior; they exist for mux-report and the
// optional /metrics endpoint. Grounded on nabbar-golib's
// prometheus/client_golang collector-per-metric idiom (counters here).
type Bandwidth struct {
	ptyBytes     atomic.Int64
	encodedBytes atomic.Int64
	frameCount   atomic.Int64
	controlIn    atomic.Int64
	controlOut   atomic.Int64

	panelID string
	metrics *Metrics
}

// Metrics is the set of Prometheus vectors shared across every
// panel's Bandwidth, labeled by panel id. Registered once per server via
// NewMetrics, then passed to NewBandwidth for every panel.
type Metrics struct {
	ptyBytes     *prometheus.CounterVec
	encodedBytes *prometheus.CounterVec
	frames       *prometheus.CounterVec
	controlIn    *prometheus.CounterVec
	controlOut   *prometheus.CounterVec
}

// NewMetrics builds the panel bandwidth CounterVec set and registers it
// against reg. Call once per server; pass the result to NewBandwidth for
// every panel.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ptyBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mux", Subsystem: "panel", Name: "pty_bytes_total",
			Help: "Total PTY bytes fed to the emulator, by panel.",
		}, []string{"panel"}),
		encodedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mux", Subsystem: "panel", Name: "encoded_bytes_total",
			Help: "Total encoded video bytes produced, by panel.",
		}, []string{"panel"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mux", Subsystem: "panel", Name: "frames_total",
			Help: "Total frames encoded, by panel.",
		}, []string{"panel"}),
		controlIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mux", Subsystem: "panel", Name: "control_bytes_in_total",
			Help: "Total control-plane bytes received, by panel.",
		}, []string{"panel"}),
		controlOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mux", Subsystem: "panel", Name: "control_bytes_out_total",
			Help: "Total control-plane bytes sent, by panel.",
		}, []string{"panel"}),
	}
	if reg != nil {
		reg.MustRegister(m.ptyBytes, m.encodedBytes, m.frames, m.controlIn, m.controlOut)
	}
	return m
}

// NewBandwidth constructs a panel-scoped counter set. metrics may be nil,
// in which case counters are tracked in-process only (no Prometheus
// export) — used by tests and the loopback harness.
func NewBandwidth(panelID string, metrics *Metrics) *Bandwidth {
	return &Bandwidth{panelID: panelID, metrics: metrics}
}

func (b *Bandwidth) AddPTYBytes(n int) {
	b.ptyBytes.Add(int64(n))
	if b.metrics != nil {
		b.metrics.ptyBytes.WithLabelValues(b.panelID).Add(float64(n))
	}
}

func (b *Bandwidth) AddEncodedFrame(n int) {
	b.encodedBytes.Add(int64(n))
	b.frameCount.Add(1)
	if b.metrics != nil {
		b.metrics.encodedBytes.WithLabelValues(b.panelID).Add(float64(n))
		b.metrics.frames.WithLabelValues(b.panelID).Inc()
	}
}

func (b *Bandwidth) AddControlIn(n int) {
	b.controlIn.Add(int64(n))
	if b.metrics != nil {
		b.metrics.controlIn.WithLabelValues(b.panelID).Add(float64(n))
	}
}

func (b *Bandwidth) AddControlOut(n int) {
	b.controlOut.Add(int64(n))
	if b.metrics != nil {
		b.metrics.controlOut.WithLabelValues(b.panelID).Add(float64(n))
	}
}

// Snapshot is the JSON-serializable counter set returned over the side
// channel mux-report polls.
type Snapshot struct {
	PanelID      string `json:"panel_id"`
	PTYBytes     int64  `json:"pty_bytes"`
	EncodedBytes int64  `json:"encoded_bytes"`
	FrameCount   int64  `json:"frame_count"`
	ControlIn    int64  `json:"control_bytes_in"`
	ControlOut   int64  `json:"control_bytes_out"`
}

func (b *Bandwidth) Snapshot() Snapshot {
	return Snapshot{
		PanelID:      b.panelID,
		PTYBytes:     b.ptyBytes.Load(),
		EncodedBytes: b.encodedBytes.Load(),
		FrameCount:   b.frameCount.Load(),
		ControlIn:    b.controlIn.Load(),
		ControlOut:   b.controlOut.Load(),
	}
}
