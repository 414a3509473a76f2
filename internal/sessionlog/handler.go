package sessionlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"
)

// EntryCallback observes one log record alongside every record's normal
// delivery to the base handler. component is the accumulated slog group
// name (dot-separated), empty unless a caller wraps its logger with
// slog.Logger.WithGroup — this codebase tags its subsystems with a
// bracketed string prefix instead ("[panel]", "[transport]",
// "[workerutil]"), so component is typically empty; it is threaded
// through regardless so a future structured-group logger does not need a
// TeeHandler change. cmd/mux wires a callback that only reads level, to
// drive the log_events_total metric.
type EntryCallback func(ts time.Time, level slog.Level, msg string, component string)

// TeeHandler wraps a base [slog.Handler] and tees records at or above minLevel
// to a callback function. All records are forwarded to the base handler regardless
// of level; only the callback invocation is gated by minLevel.
type TeeHandler struct {
	base     slog.Handler
	callback EntryCallback
	minLevel slog.Level
	group    string // accumulated dot-separated slog group name, passed to the callback as component
}

// NewTeeHandler creates a TeeHandler that delegates to base and invokes callback
// for every record whose level is >= minLevel.
//
// Passing a nil callback is safe; the handler will simply delegate to base without
// teeing.
func NewTeeHandler(base slog.Handler, minLevel slog.Level, callback EntryCallback) *TeeHandler {
	return &TeeHandler{
		base:     base,
		callback: callback,
		minLevel: minLevel,
	}
}

// Enabled reports whether the base handler is enabled for the given level.
// The callback threshold (minLevel) does not affect this; we always let the
// base handler decide visibility.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle forwards the record to the base handler, then conditionally invokes
// the callback if the record's level meets or exceeds minLevel.
//
// The callback runs regardless of the base handler's error: a counter
// increment (cmd/mux's log_events_total) shouldn't be skipped just
// because, say, stderr got closed underneath the process.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)

	if h.callback != nil && record.Level >= h.minLevel {
		func() {
			defer func() {
				if r := recover(); r != nil {
					// Logged to stderr directly, not via slog, to avoid
					// recursively re-entering this handler.
					fmt.Fprintf(os.Stderr, "[sessionlog] callback panicked: %v\n%s\n", r, debug.Stack())
				}
			}()
			h.callback(record.Time, record.Level, record.Message, h.group)
		}()
	}

	// The base handler's error is still returned; slog.Logger emits it to
	// stderr as "slog: <error>", the only surfacing a Handler-level failure
	// gets.
	return err
}

// WithAttrs returns a new TeeHandler whose base handler has the given attributes
// applied. The callback, minLevel, and accumulated group are preserved.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return &TeeHandler{
		base:     h.base.WithAttrs(attrs),
		callback: h.callback,
		minLevel: h.minLevel,
		group:    h.group,
	}
}

// WithGroup returns a new TeeHandler whose base handler is wrapped with the
// given group name. The group name is appended to the accumulated group string,
// separated by "." if a prefix already exists.
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h // slog.Handler spec: empty group name returns the receiver unchanged.
	}
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}

	return &TeeHandler{
		base:     h.base.WithGroup(name),
		callback: h.callback,
		minLevel: h.minLevel,
		group:    newGroup,
	}
}
