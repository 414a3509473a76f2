// Package emulator defines the terminal-emulator contract consumed by a
// panel's pipeline, plus a minimal reference implementation used by tests
// and the loopback transport.
//
// The emulator turns a stream of raw PTY bytes into a renderable surface: a
// grid of character cells, parsed with an escape-sequence state machine, and
// exposed for encoding as an RGBA surface reference. Real deployments may
// swap in a GPU-backed emulator (see spec's external-interface contract);
// Emulator is the seam that lets them do so without touching the panel
// pipeline.
package emulator

// Surface is a borrowed reference to one RGBA frame. It is only valid for
// the duration of a single encoder submission; the emulator may reuse its
// backing storage on the next Feed or Resize.
type Surface struct {
	Width, Height int
	// Pix holds Height rows of Width RGBA pixels, 4 bytes per pixel,
	// row-major, no padding.
	Pix []byte
}

// Emulator is the contract a panel pipeline drives: feed it PTY bytes,
// resize it on demand, and ask it for a snapshot surface to hand to the
// encoder. Implementations need not be safe for concurrent use; the panel
// pipeline serializes all calls through its pty_reader/encoder_driver
// goroutines.
type Emulator interface {
	// Feed processes a chunk of raw PTY output, advancing cursor and grid
	// state.
	Feed(chunk []byte)

	// Snapshot renders the current grid to an RGBA surface. The returned
	// Surface is borrowed: valid only until the next Feed, Resize, or
	// Snapshot call.
	Snapshot() Surface

	// Resize reshapes the terminal grid to new cell and pixel dimensions.
	Resize(cols, rows, width, height int)

	// Title returns the most recent OSC-set window title, or "" if none.
	Title() string

	// Pwd returns the most recent OSC7-reported working directory, or ""
	// if none has been reported.
	Pwd() string
}

// New constructs the reference grid emulator at the given cell and pixel
// dimensions.
func New(cols, rows, width, height int) Emulator {
	return newGridEmulator(cols, rows, width, height)
}
