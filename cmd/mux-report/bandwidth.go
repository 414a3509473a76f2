package main

import (
	"github.com/spf13/cobra"
)

func bandwidthCmd(port *int) *cobra.Command {
	return &cobra.Command{
		Use:   "bandwidth",
		Short: "Show one-shot per-panel bandwidth counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := fetchBandwidth(controlURLFor(*port))
			if err != nil {
				return err
			}
			renderBandwidthTable(snaps)
			return nil
		},
	}
}

func sessionsCmd(port *int) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List live sessions and their owned panels",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := fetchSessions(controlURLFor(*port))
			if err != nil {
				return err
			}
			renderSessionsTable(sessions)
			return nil
		},
	}
}
