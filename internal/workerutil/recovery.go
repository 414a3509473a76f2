package workerutil

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	// defaultInitialBackoff is the starting delay before the first restart
	// attempt after a pipeline worker (ping loop, control/data handler)
	// panics. 100ms is short enough for fast recovery on a connection the
	// session's still live on, while avoiding a tight retry loop that
	// would spin a CPU during a cascading failure. Doubles on each
	// subsequent attempt up to defaultMaxBackoff.
	defaultInitialBackoff = 100 * time.Millisecond

	// defaultMaxBackoff caps the exponential backoff between restart
	// attempts. 5s balances recovery latency (a subscriber's keepalive
	// ping resuming quickly) against stability under repeated panics.
	defaultMaxBackoff = 5 * time.Second

	// defaultMaxRetries limits the total restart attempts before the
	// worker is given up on permanently. At exponential backoff (100ms ->
	// 200ms -> ... -> 5s), 10 attempts span roughly 21 seconds of backoff, giving a
	// transient fault (e.g. a momentary write-deadline exceeded) time to
	// clear while bounding how long a broken connection keeps retrying.
	defaultMaxRetries = 10
)

// RecoveryOptions configures RunWithPanicRecovery's restart behavior.
// Zero-value fields use sensible defaults: InitialBackoff=100ms,
// MaxBackoff=5s, MaxRetries=10; nil callbacks are safe no-ops.
//
// Zero-value semantics for numeric fields:
//   - A zero value (0 or 0s) means "use default"; applyDefaults() replaces it.
//   - To disable retries entirely, set MaxRetries to 1 (the worker runs once;
//     if it panics, OnFatal is called immediately with no restart).
//   - There is no "infinite retries" mode; MaxRetries must be a positive integer.
type RecoveryOptions struct {
	// InitialBackoff is the starting delay before the first restart attempt.
	// 0 means default (defaultInitialBackoff); applyDefaults() replaces zero/negative
	// values with the default.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff between restart attempts.
	// 0 means default (defaultMaxBackoff); applyDefaults() replaces zero/negative
	// values with the default.
	MaxBackoff time.Duration

	// MaxRetries limits the total restart attempts before permanent stop.
	// 0 means default (defaultMaxRetries); applyDefaults() replaces zero/negative
	// values with the default. Set to 1 for "no retries" (run once, then OnFatal).
	MaxRetries int

	// OnPanic is called after each panic recovery, before the backoff
	// wait. worker is the worker name, attempt is 1-based. May be nil; a
	// connection handler typically leaves this nil and relies on the
	// slog line below for diagnostics.
	OnPanic func(worker string, attempt int)

	// OnFatal is called when MaxRetries is exceeded and the worker is
	// permanently stopped — the caller's hook to close the connection or
	// panel this worker was serving. May be nil.
	OnFatal func(worker string, maxRetries int)

	// IsShutdown returns true when the server is shutting down. When
	// true, the recovery loop exits immediately without retrying, so a
	// ping loop doesn't keep restarting against a transport that is
	// already tearing down its listeners. May be nil (treated as always
	// false).
	IsShutdown func() bool
}

// applyDefaults returns a copy of opts with zero-value fields replaced by
// sensible defaults, without mutating the caller's struct. It also
// corrects a contradictory configuration (MaxBackoff < InitialBackoff).
func (opts RecoveryOptions) applyDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	// A caller that swapped or misconfigured the two backoff fields gets
	// a non-decreasing sequence rather than an immediate MaxBackoff cap.
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[workerutil] MaxBackoff < InitialBackoff, promoting MaxBackoff to InitialBackoff",
			"initialBackoff", opts.InitialBackoff,
			"maxBackoff", opts.MaxBackoff,
		)
		opts.MaxBackoff = opts.InitialBackoff
	}

	return opts
}

// RunWithPanicRecovery launches fn in a new goroutine with panic recovery
// and exponential backoff retry, tracked via wg.Add/wg.Done. It supervises the
// real OS goroutines that sit outside the cooperative scheduler's own
// panic isolation (internal/runtime's Goroutine.body recovers a
// scheduled Goroutine's panic inline): the control-plane and data-plane
// keepalive ping loops (internal/transport) are the current callers.
//
// fn receives a context cancelled when the parent context is cancelled
// and should select on ctx.Done() to detect cancellation. Panic recovery
// logs the stack trace via slog.Error and optionally notifies via
// opts.OnPanic. After opts.MaxRetries consecutive panics, opts.OnFatal
// is called and the goroutine exits permanently.
//
// Thread-safety: safe to call from any goroutine. wg.Add(1) runs before the
// goroutine is launched, so it is tracked before returning, preventing a
// race with wg.Wait().
func RunWithPanicRecovery(
	ctx context.Context,
	name string,
	wg *sync.WaitGroup,
	fn func(ctx context.Context),
	opts RecoveryOptions,
) {
	opts = opts.applyDefaults()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runRecoveryLoop(ctx, name, fn, opts)
	}()
}

// runRecoveryLoop executes the panic recovery + exponential backoff retry
// loop. Separated from RunWithPanicRecovery for testability and clarity.
func runRecoveryLoop(
	ctx context.Context,
	name string,
	fn func(ctx context.Context),
	opts RecoveryOptions,
) {
	restartDelay := opts.InitialBackoff

	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		panicked := false
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("[workerutil] pipeline worker recovered from panic",
						"worker", name,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					panicked = true
				}
			}()
			fn(ctx)
		}()

		// Normal exit (no panic) or context already cancelled: stop immediately.
		if !panicked || ctx.Err() != nil {
			return
		}

		// Shutdown guard: the transport is tearing down (e.g. the
		// connection's context was cancelled by Server.Stop), so the
		// socket or panel this worker writes to may already be gone;
		// restarting here would just panic again. The panic is still
		// logged above via slog.Error for diagnostics. OnPanic is
		// intentionally NOT called in this branch.
		if opts.IsShutdown != nil && opts.IsShutdown() {
			slog.Info("[workerutil] shutdown detected, not restarting worker",
				"worker", name,
			)
			return
		}

		slog.Warn("[workerutil] restarting worker after panic",
			"worker", name,
			"restartDelay", restartDelay,
			"attempt", attempt+1,
		)

		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt+1)
		}

		// Skip the backoff wait on the final attempt: there is no next
		// restart, so delaying here only postpones OnFatal unnecessarily.
		if attempt == opts.MaxRetries-1 {
			break
		}

		restartTimer := time.NewTimer(restartDelay)
		select {
		case <-ctx.Done():
			restartTimer.Stop()
			return
		case <-restartTimer.C:
		}

		restartDelay = nextBackoff(restartDelay, opts.MaxBackoff)
	}

	slog.Error("[workerutil] worker exceeded max retries, giving up",
		"worker", name,
		"maxRetries", opts.MaxRetries,
	)

	if opts.OnFatal != nil {
		opts.OnFatal(name, opts.MaxRetries)
	}
}

// nextBackoff doubles the current backoff duration, capping at
// maxBackoff and guarding against int64 overflow on the double.
func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	if current >= maxBackoff {
		return maxBackoff
	}
	next := current * 2
	if next > maxBackoff || next < current {
		return maxBackoff
	}
	return next
}
