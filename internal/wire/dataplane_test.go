package wire

import "testing"

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	raw := EncodeFrame(OpDelta, 42, payload)
	f, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if f.Opcode != OpDelta {
		t.Fatalf("Opcode = %x, want %x", f.Opcode, OpDelta)
	}
	if f.PanelID != 42 {
		t.Fatalf("PanelID = %d, want 42", f.PanelID)
	}
	if string(f.Payload) != string(payload) {
		t.Fatalf("Payload = %v, want %v", f.Payload, payload)
	}
}

func TestDecodeFrameTooShort(t *testing.T) {
	if _, err := DecodeFrame([]byte{1, 2, 3}); err == nil {
		t.Fatal("DecodeFrame on a too-short frame should return an error")
	}
}

func TestEncodeFrameEmptyPayload(t *testing.T) {
	raw := EncodeFrame(OpRequestKeyframe, 7, nil)
	f, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if len(f.Payload) != 0 {
		t.Fatalf("Payload = %v, want empty", f.Payload)
	}
}

func TestKeyInputRoundTrip(t *testing.T) {
	want := KeyInput{Keycode: 65, Modifiers: 0x2}
	got, err := DecodeKeyInput(EncodeKeyInput(want))
	if err != nil {
		t.Fatalf("DecodeKeyInput: %v", err)
	}
	if got != want {
		t.Fatalf("DecodeKeyInput() = %+v, want %+v", got, want)
	}
}

func TestMouseButtonRoundTrip(t *testing.T) {
	want := MouseButton{Button: 1, X: -10, Y: 500, Modifiers: 0x1}
	got, err := DecodeMouseButton(EncodeMouseButton(want))
	if err != nil {
		t.Fatalf("DecodeMouseButton: %v", err)
	}
	if got != want {
		t.Fatalf("DecodeMouseButton() = %+v, want %+v", got, want)
	}
}

func TestMouseMoveRoundTrip(t *testing.T) {
	want := MouseMove{X: 100, Y: -5}
	got, err := DecodeMouseMove(EncodeMouseMove(want))
	if err != nil {
		t.Fatalf("DecodeMouseMove: %v", err)
	}
	if got != want {
		t.Fatalf("DecodeMouseMove() = %+v, want %+v", got, want)
	}
}

func TestMouseScrollRoundTrip(t *testing.T) {
	want := MouseScroll{DX: -3, DY: 7}
	got, err := DecodeMouseScroll(EncodeMouseScroll(want))
	if err != nil {
		t.Fatalf("DecodeMouseScroll: %v", err)
	}
	if got != want {
		t.Fatalf("DecodeMouseScroll() = %+v, want %+v", got, want)
	}
}

func TestTextInputRoundTrip(t *testing.T) {
	want := "héllo"
	got, err := DecodeTextInput(EncodeTextInput(want))
	if err != nil {
		t.Fatalf("DecodeTextInput: %v", err)
	}
	if got != want {
		t.Fatalf("DecodeTextInput() = %q, want %q", got, want)
	}
}

func TestResizeRoundTrip(t *testing.T) {
	want := Resize{Width: 1920, Height: 1080}
	got, err := DecodeResize(EncodeResize(want))
	if err != nil {
		t.Fatalf("DecodeResize: %v", err)
	}
	if got != want {
		t.Fatalf("DecodeResize() = %+v, want %+v", got, want)
	}
}

func TestDecodeResizeTooShort(t *testing.T) {
	if _, err := DecodeResize([]byte{1, 2}); err == nil {
		t.Fatal("DecodeResize on a too-short payload should return an error")
	}
}
