package runtime

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the runtime-assigned id of the calling real Go
// goroutine from its stack trace header ("goroutine 123 [running]:").
// This is the mechanism the scheduler uses to emulate a thread-local
// "current worker" slot without go:linkname tricks into runtime
// internals: each backing goroutine of a scheduled Goroutine registers
// itself under its own id when resumed, and callers nested arbitrarily
// deep (e.g. from inside a channel Send) can ask "am I inside a
// goroutine, and if so which worker is driving it" by looking themselves
// up under this id.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(b[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
