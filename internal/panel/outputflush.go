package panel

import (
	"sync"
	"time"

	"mux/internal/terminal"
)

// pipelineFlusher batches every live panel's raw PTY output through one
// shared background loop instead of a ticker goroutine per pty_reader,
// adapting the teacher's terminal.OutputFlushManager batching idiom to
// this module's domain: pty_reader (pipeline.go's ptyReaderBody) writes
// each async read in here keyed by panel id, and dispatchFlushedOutput
// routes the manager's batched callback back to the owning Panel's
// emulator/scrollback once the size threshold or quiet-period deadline
// fires (spec §4.6).
var pipelineFlusher = newPipelineFlusher()

func newPipelineFlusher() *terminal.OutputFlushManager {
	m := terminal.NewOutputFlushManager(16*time.Millisecond, 8*1024, dispatchFlushedOutput)
	m.Start()
	return m
}

// liveByID maps a panel id to its live *Panel for dispatchFlushedOutput's
// lookup; Panel.New registers, Panel.Close deregisters.
var liveByID sync.Map

func dispatchFlushedOutput(panelID string, data []byte) {
	v, ok := liveByID.Load(panelID)
	if !ok {
		return
	}
	v.(*Panel).feedEmulator(data)
}
