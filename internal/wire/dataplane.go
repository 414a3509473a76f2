// Package wire implements the two wire formats carried over mux's data and
// control WebSocket connections.
//
// # Data plane frame format
//
// Every data-plane frame (either direction) is:
//
//	[1 byte: opcode][4 bytes: panel id, big-endian uint32][payload bytes]
//
// The opcode determines how the payload is interpreted; it is never mixed
// with JSON. This keeps the hot path (≈60Hz per panel) to a single
// allocation per frame on encode and zero-copy on decode.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Server-to-client opcodes (video plane).
const (
	OpKeyframe byte = 0x01
	OpDelta    byte = 0x02
)

// Client-to-server opcodes (input plane).
const (
	OpKeyInput        byte = 0x01
	OpMouseButton     byte = 0x02
	OpMouseMove       byte = 0x03
	OpMouseScroll     byte = 0x04
	OpTextInput       byte = 0x05
	OpResize          byte = 0x10
	OpRequestKeyframe byte = 0x11
)

const frameHeaderLen = 5 // 1 opcode byte + 4 panel-id bytes

// EncodeFrame builds a data-plane frame: opcode, panel id, payload.
//
// A single allocation is used: make([]byte, frameHeaderLen+len(payload)).
func EncodeFrame(opcode byte, panelID uint32, payload []byte) []byte {
	buf := make([]byte, frameHeaderLen+len(payload))
	buf[0] = opcode
	binary.BigEndian.PutUint32(buf[1:5], panelID)
	copy(buf[5:], payload)
	return buf
}

// Frame is a decoded data-plane frame. Payload aliases the memory of the
// frame passed to DecodeFrame; callers must not retain frame after decoding
// unless they also retain ownership of Payload's backing array.
type Frame struct {
	Opcode  byte
	PanelID uint32
	Payload []byte
}

// DecodeFrame parses a frame produced by EncodeFrame. Returns an error if
// the frame is shorter than the fixed header.
func DecodeFrame(raw []byte) (Frame, error) {
	if len(raw) < frameHeaderLen {
		return Frame{}, fmt.Errorf("wire: data frame too short: %d bytes, want >= %d", len(raw), frameHeaderLen)
	}
	return Frame{
		Opcode:  raw[0],
		PanelID: binary.BigEndian.Uint32(raw[1:5]),
		Payload: raw[5:],
	}, nil
}

// KeyInput is the decoded payload of OpKeyInput.
type KeyInput struct {
	Keycode   uint32
	Modifiers uint8
}

// EncodeKeyInput produces the payload for an OpKeyInput frame.
func EncodeKeyInput(k KeyInput) []byte {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint32(buf[0:4], k.Keycode)
	buf[4] = k.Modifiers
	return buf
}

// DecodeKeyInput parses the payload of an OpKeyInput frame.
func DecodeKeyInput(payload []byte) (KeyInput, error) {
	if len(payload) < 5 {
		return KeyInput{}, fmt.Errorf("wire: key_input payload too short: %d bytes, want 5", len(payload))
	}
	return KeyInput{
		Keycode:   binary.BigEndian.Uint32(payload[0:4]),
		Modifiers: payload[4],
	}, nil
}

// MouseButton is the decoded payload of OpMouseButton.
type MouseButton struct {
	Button    uint8
	X, Y      int32
	Modifiers uint8
}

func EncodeMouseButton(m MouseButton) []byte {
	buf := make([]byte, 10)
	buf[0] = m.Button
	binary.BigEndian.PutUint32(buf[1:5], uint32(m.X))
	binary.BigEndian.PutUint32(buf[5:9], uint32(m.Y))
	buf[9] = m.Modifiers
	return buf
}

func DecodeMouseButton(payload []byte) (MouseButton, error) {
	if len(payload) < 10 {
		return MouseButton{}, fmt.Errorf("wire: mouse_button payload too short: %d bytes, want 10", len(payload))
	}
	return MouseButton{
		Button:    payload[0],
		X:         int32(binary.BigEndian.Uint32(payload[1:5])),
		Y:         int32(binary.BigEndian.Uint32(payload[5:9])),
		Modifiers: payload[9],
	}, nil
}

// MouseMove is the decoded payload of OpMouseMove.
type MouseMove struct {
	X, Y int32
}

func EncodeMouseMove(m MouseMove) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.X))
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.Y))
	return buf
}

func DecodeMouseMove(payload []byte) (MouseMove, error) {
	if len(payload) < 8 {
		return MouseMove{}, fmt.Errorf("wire: mouse_move payload too short: %d bytes, want 8", len(payload))
	}
	return MouseMove{
		X: int32(binary.BigEndian.Uint32(payload[0:4])),
		Y: int32(binary.BigEndian.Uint32(payload[4:8])),
	}, nil
}

// MouseScroll is the decoded payload of OpMouseScroll.
type MouseScroll struct {
	DX, DY int32
}

func EncodeMouseScroll(m MouseScroll) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.DX))
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.DY))
	return buf
}

func DecodeMouseScroll(payload []byte) (MouseScroll, error) {
	if len(payload) < 8 {
		return MouseScroll{}, fmt.Errorf("wire: mouse_scroll payload too short: %d bytes, want 8", len(payload))
	}
	return MouseScroll{
		DX: int32(binary.BigEndian.Uint32(payload[0:4])),
		DY: int32(binary.BigEndian.Uint32(payload[4:8])),
	}, nil
}

// EncodeTextInput produces the payload for an OpTextInput frame: the raw
// utf-8 bytes, unmodified.
func EncodeTextInput(text string) []byte {
	return []byte(text)
}

// DecodeTextInput is the identity decode for OpTextInput; kept for symmetry
// with the other opcodes and to centralize the utf-8 validation point.
func DecodeTextInput(payload []byte) (string, error) {
	return string(payload), nil
}

// Resize is the decoded payload of OpResize.
type Resize struct {
	Width, Height uint16
}

func EncodeResize(r Resize) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], r.Width)
	binary.BigEndian.PutUint16(buf[2:4], r.Height)
	return buf
}

func DecodeResize(payload []byte) (Resize, error) {
	if len(payload) < 4 {
		return Resize{}, fmt.Errorf("wire: resize payload too short: %d bytes, want 4", len(payload))
	}
	return Resize{
		Width:  binary.BigEndian.Uint16(payload[0:2]),
		Height: binary.BigEndian.Uint16(payload[2:4]),
	}, nil
}
