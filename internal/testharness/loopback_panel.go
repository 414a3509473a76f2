package testharness

import (
	"mux/internal/panel"
	"mux/internal/runtime"
	"mux/internal/session"
)

// LoopbackPanelConfig configures NewLoopbackPanel.
type LoopbackPanelConfig struct {
	PanelID      string
	SessionToken string
	Cols, Rows   int
	FrameRate    int
	Registry     *session.Registry
	Runtime      *runtime.Runtime
	Notifier     panel.Notifier
	Echo         bool
}

// NewLoopbackPanel builds a fully wired Panel backed by a LoopbackPTY
// instead of a real shell, for deterministic tests of internal/panel,
// internal/runtime, and internal/session without spawning a process
// (spec §2's test harness component). It also stands in for the
// VT-passthrough benchmarking baseline named in spec §9's Open
// Questions: a loopback panel exercises the full encoder/fanout
// pipeline without a real PTY driving it.
func NewLoopbackPanel(cfg LoopbackPanelConfig) (*panel.Panel, *LoopbackPTY, error) {
	if cfg.Cols <= 0 {
		cfg.Cols = 80
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 24
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 60
	}
	rt := cfg.Runtime
	if rt == nil {
		rt = runtime.New(runtime.WithWorkers(2))
	}

	lp := NewLoopbackPTY(cfg.Echo)
	p, err := panel.New(panel.Config{
		ID:              cfg.PanelID,
		SessionToken:    cfg.SessionToken,
		Cols:            cfg.Cols,
		Rows:            cfg.Rows,
		FrameRate:       cfg.FrameRate,
		Bitrate:         1_000_000,
		ScrollbackBytes: 8192,
		Registry:        cfg.Registry,
		Runtime:         rt,
		Notifier:        cfg.Notifier,
		PTY:             lp,
	})
	if err != nil {
		return nil, nil, err
	}
	return p, lp, nil
}
