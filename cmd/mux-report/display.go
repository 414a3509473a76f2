package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rodaine/table"

	"mux/internal/wire"
)

var (
	cyan = color.New(color.FgCyan).SprintFunc()
	bold = color.New(color.Bold).SprintFunc()
	gray = color.New(color.FgHiBlack).SprintFunc()
)

func renderBandwidthTable(snaps []wire.BandwidthSnapshot) {
	fmt.Println(bold("Panel Bandwidth"))

	if len(snaps) == 0 {
		fmt.Println(gray("  no live panels"))
		fmt.Println()
		return
	}

	headerFmt := color.New(color.FgCyan, color.Underline).SprintfFunc()
	tbl := table.New("Panel", "PTY Bytes", "Encoded Bytes", "Frames", "Control In", "Control Out")
	tbl.WithHeaderFormatter(headerFmt)

	for _, s := range snaps {
		tbl.AddRow(s.PanelID, s.PTYBytes, s.EncodedBytes, s.FrameCount, s.ControlIn, s.ControlOut)
	}
	tbl.Print()
	fmt.Println()
}

func renderSessionsTable(sessions []wire.SessionSummary) {
	fmt.Println(bold("Live Sessions"))

	if len(sessions) == 0 {
		fmt.Println(gray("  no live sessions"))
		fmt.Println()
		return
	}

	headerFmt := color.New(color.FgCyan, color.Underline).SprintfFunc()
	tbl := table.New("Session", "Panels")
	tbl.WithHeaderFormatter(headerFmt)

	for _, s := range sessions {
		tbl.AddRow(truncateToken(s.SessionID), len(s.PanelIDs))
	}
	tbl.Print()
	fmt.Println()
}

func truncateToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:8] + "…"
}

// clearScreen resets the terminal for watch-mode redraws, matching the
// ANSI clear-and-home sequence used throughout the pack's CLI reporting
// tools.
func clearScreen() {
	fmt.Fprint(os.Stdout, "\033[2J\033[H")
}
