// Command mux-report is the read-only reporting tool named in spec
// §4.6/§6's "side channel used by the reporting tool": it dials a
// running mux server's control plane as a fresh admin client and
// renders the advisory bandwidth counters and live session list.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mux/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mux-report:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "mux-report",
		Short: "Report bandwidth and session state for a running mux server",
	}
	cmd.PersistentFlags().IntVar(&port, "port", config.DefaultConfig().Port, "mux server's base HTTP port")

	cmd.AddCommand(bandwidthCmd(&port), sessionsCmd(&port), watchCmd(&port))
	return cmd
}

// controlURLFor derives the control-plane WebSocket URL from the
// server's base port, mirroring config.Config.DerivedPorts's port+2
// rule (spec §4.7) without requiring mux-report to load the server's
// config file.
func controlURLFor(port int) string {
	return fmt.Sprintf("ws://127.0.0.1:%d/control", port+2)
}
