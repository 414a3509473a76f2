// Package videoenc defines the video-encoder contract a panel's
// encoder_driver goroutine drives, plus a deterministic reference encoder,
// which internal/panel.New uses for every panel.
//
// Spec's external-interface contract names H.264 as the production codec;
// no H.264 library is present in this module's dependency corpus (bringing
// one in would be the kind of fabricated, unverifiable dependency this
// build avoids), so the reference encoder here produces a synthetic NALU
// stream that preserves the same observable contract — IDR vs non-IDR
// packets, resize triggering a fresh IDR, one allocation per Submit — so
// that internal/panel can be built and tested against a real
// videoenc.Encoder without waiting on a production codec binding.
package videoenc

import "fmt"

// naluIDR and naluNonIDR are the synthetic NALU type markers the reference
// encoder writes as the first byte of every packet, standing in for the
// H.264 NAL unit type field production encoders would set.
const (
	naluIDR    byte = 0x01
	naluNonIDR byte = 0x02
)

// Packet is one encoded frame: a single NALU's bytes, tagged with whether
// it is independently decodable.
type Packet struct {
	IsKeyframe bool
	Data       []byte
}

// Encoder is the contract a panel's encoder_driver goroutine drives: submit
// a surface, get back a packet. Implementations are not required to be
// safe for concurrent use; the panel pipeline submits from a single
// goroutine.
type Encoder interface {
	// Submit encodes one surface. forceKeyframe requests an IDR packet
	// regardless of internal encoder state (used after resize and on
	// explicit client request).
	Submit(surface []byte, width, height int, forceKeyframe bool) (Packet, error)

	// Resize reinitializes the encoder for new output dimensions. The
	// caller must force a keyframe on the next Submit after calling
	// Resize; spec requires the first post-resize frame be an IDR.
	Resize(width, height int) error

	// Close releases encoder resources. Submit after Close returns an
	// error.
	Close() error
}

// New constructs the reference synthetic encoder at the given target frame
// rate and bitrate. Neither value affects the synthetic bitstream; they are
// accepted to match the external-interface contract's constructor shape
// and recorded for diagnostics.
func New(width, height, fps, bitrate int) Encoder {
	return &syntheticEncoder{width: width, height: height, fps: fps, bitrate: bitrate}
}

type syntheticEncoder struct {
	width, height int
	fps, bitrate  int
	closed        bool
	frameCount    int
}

func (e *syntheticEncoder) Submit(surface []byte, width, height int, forceKeyframe bool) (Packet, error) {
	if e.closed {
		return Packet{}, fmt.Errorf("videoenc: submit on closed encoder")
	}
	if width != e.width || height != e.height {
		return Packet{}, fmt.Errorf("videoenc: submit dimensions %dx%d do not match encoder dimensions %dx%d", width, height, e.width, e.height)
	}

	isKey := forceKeyframe || e.frameCount == 0
	e.frameCount++

	marker := naluNonIDR
	if isKey {
		marker = naluIDR
	}

	// One allocation: marker byte + surface payload, matching the
	// single-allocation discipline the data-plane framing uses.
	data := make([]byte, 1+len(surface))
	data[0] = marker
	copy(data[1:], surface)

	return Packet{IsKeyframe: isKey, Data: data}, nil
}

func (e *syntheticEncoder) Resize(width, height int) error {
	if e.closed {
		return fmt.Errorf("videoenc: resize on closed encoder")
	}
	e.width, e.height = width, height
	e.frameCount = 0
	return nil
}

func (e *syntheticEncoder) Close() error {
	e.closed = true
	return nil
}
