package transport

import (
	"fmt"

	"mux/internal/wire"
)

// specialKeySequences maps a handful of common X11 keysym values (the
// same constants a browser-side client can send for non-printable keys)
// to the VT escape sequence a shell expects on stdin. Unlisted keycodes
// fall back to treating the code as a Unicode codepoint.
var specialKeySequences = map[uint32][]byte{
	0xFF08: []byte("\x7f"),   // BackSpace
	0xFF09: []byte("\t"),     // Tab
	0xFF0D: []byte("\r"),     // Return
	0xFF1B: []byte("\x1b"),   // Escape
	0xFF51: []byte("\x1b[D"), // Left
	0xFF52: []byte("\x1b[A"), // Up
	0xFF53: []byte("\x1b[C"), // Right
	0xFF54: []byte("\x1b[B"), // Down
	0xFFFF: []byte("\x1b[3~"), // Delete
}

// ctrlModifier is the KeyInput.Modifiers bit a client sets when Ctrl is
// held; encodeKeyInput masks a letter down to its control code when set,
// matching a terminal's usual Ctrl-letter handling.
const ctrlModifier = 0x01

// encodeKeyInput translates one decoded KEY_INPUT opcode into the bytes
// written to the panel's PTY.
func encodeKeyInput(k wire.KeyInput) []byte {
	if seq, ok := specialKeySequences[k.Keycode]; ok {
		return seq
	}
	r := rune(k.Keycode)
	if k.Modifiers&ctrlModifier != 0 && r >= 'a' && r <= 'z' {
		return []byte{byte(r - 'a' + 1)}
	}
	return []byte(string(r))
}

// mousePressedBit is the MouseButton.Modifiers bit distinguishing a
// press from a release, encoded per xterm's SGR extended mouse protocol
// (CSI < button ; x ; y M/m).
const mousePressedBit = 0x80

func encodeMouseButton(m wire.MouseButton) []byte {
	suffix := byte('m')
	if m.Modifiers&mousePressedBit != 0 {
		suffix = 'M'
	}
	return []byte(fmt.Sprintf("\x1b[<%d;%d;%d%c", m.Button, m.X+1, m.Y+1, suffix))
}

// sgrMotionButton is the button code xterm's SGR mouse protocol uses for
// a drag/motion report with no button held.
const sgrMotionButton = 35

func encodeMouseMove(m wire.MouseMove) []byte {
	return []byte(fmt.Sprintf("\x1b[<%d;%d;%dM", sgrMotionButton, m.X+1, m.Y+1))
}

// sgrScrollUpButton and sgrScrollDownButton are xterm's SGR mouse wheel
// button codes.
const (
	sgrScrollUpButton   = 64
	sgrScrollDownButton = 65
)

func encodeMouseScroll(m wire.MouseScroll) []byte {
	btn := sgrScrollUpButton
	if m.DY < 0 {
		btn = sgrScrollDownButton
	}
	return []byte(fmt.Sprintf("\x1b[<%d;1;1M", btn))
}
