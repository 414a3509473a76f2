package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func watchCmd(port *int) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously refresh the bandwidth report",
		Long: `Continuously poll the server's bandwidth counters and redraw the
terminal every interval, until interrupted.

Examples:
  mux-report watch
  mux-report watch --interval 2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(controlURLFor(*port), interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "refresh interval")
	return cmd
}

func runWatch(controlURL string, interval time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll := func() {
		clearScreen()
		fmt.Printf("mux-report watch (refresh: %s, Ctrl+C to exit)\n\n", interval)
		snaps, err := fetchBandwidth(controlURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "mux-report:", err)
			return
		}
		renderBandwidthTable(snaps)
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("Exiting...")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			poll()
		}
	}
}
