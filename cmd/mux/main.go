// Command mux is the terminal-streaming server of spec §1: it renders
// PTY output with an embedded terminal emulator, encodes the resulting
// surface through internal/videoenc's Encoder (the bundled reference
// encoder emits synthetic NALU packets, not H.264), and fans the encoded
// frames out to subscribed
// WebSocket clients over a binary data plane, with panel/session
// lifecycle managed over a JSON control plane.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"mux/internal/config"
	"mux/internal/panel"
	"mux/internal/runtime"
	"mux/internal/session"
	"mux/internal/sessionlog"
	"mux/internal/transport"
)

// idleSweepInterval is how often the session registry's advisory idle
// flag (spec §12) is recomputed; unrelated to BandwidthReportInterval,
// which no server timer reads (mux-report's watch command polls at its
// own --interval).
const idleSweepInterval = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mux:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port        int
		configPath  string
		metricsPort int
	)

	cmd := &cobra.Command{
		Use:   "mux",
		Short: "Remote terminal multiplexer: PTY -> emulator -> video encoder -> WebSocket",
		Long: `mux renders terminal panels on the server with a grid emulator that
paints each occupied cell as a solid block, encodes the resulting
framebuffer with a synthetic reference encoder (not H.264), and streams
it to browser clients over a data-plane WebSocket. Panel and session lifecycle
(create_panel, resize_panel, grant, ...) travel over a separate
control-plane WebSocket as JSON.

The control and data ports default to --port+2 and --port+1
respectively unless overridden in the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configPath, port, metricsPort)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP control-plane base port (0 = use config/default 7890)")
	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "path to the server config file")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "expose Prometheus /metrics on this port (0 = disabled)")

	return cmd
}

func runServer(ctx context.Context, configPath string, portOverride, metricsPort int) error {
	// EnsureFile writes the default config on first run, since
	// config.NewWatcher requires the file to already exist.
	if _, err := config.EnsureFile(configPath); err != nil {
		return fmt.Errorf("mux: load config: %w", err)
	}
	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		return fmt.Errorf("mux: watch config: %w", err)
	}
	defer watcher.Close()

	cfg := watcher.Current()
	if portOverride > 0 {
		cfg.Port = portOverride
		cfg.DataPort = 0
		cfg.ControlPort = 0
	}

	reg := prometheus.NewRegistry()
	metrics := panel.NewMetrics(reg)

	logEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mux",
		Name:      "log_events_total",
		Help:      "Warning-and-above log records emitted by the server, by level.",
	}, []string{"level"})
	reg.MustRegister(logEvents)
	slog.SetDefault(slog.New(sessionlog.NewTeeHandler(slog.NewTextHandler(os.Stderr, nil), slog.LevelWarn,
		func(_ time.Time, level slog.Level, _ string, _ string) {
			logEvents.WithLabelValues(level.String()).Inc()
		})))

	rt := runtime.New(runtime.WithWorkers(cfg.SchedulerWorkers))
	defer rt.Shutdown()

	registry := session.NewRegistry(cfg.IdleTimeout)
	server := transport.New(cfg, rt, registry, metrics)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := server.Start(runCtx); err != nil {
		return fmt.Errorf("mux: start transport: %w", err)
	}
	defer server.Stop()

	var metricsServer *http.Server
	if metricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", metricsPort), Handler: mux}
		go func() {
			if serveErr := metricsServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
				slog.Error("[mux] metrics server error", "error", serveErr)
			}
		}()
		slog.Info("[mux] metrics listening", "addr", metricsServer.Addr)
	}

	slog.Info("[mux] server started", "control", server.ControlURL(), "data", server.DataURL(), "shell", cfg.Shell)

	sweepTicker := time.NewTicker(idleSweepInterval)
	defer sweepTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			slog.Info("[mux] shutting down", "signal", sig.String())
			if metricsServer != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = metricsServer.Shutdown(shutdownCtx)
				shutdownCancel()
			}
			return nil
		case <-sweepTicker.C:
			registry.SweepIdle(time.Now())
		}
	}
}
