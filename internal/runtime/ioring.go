package runtime

import (
	"io"
	"sync"
)

// completion is one finished async I/O operation, tagged by the id of
// the goroutine that submitted it.
type completion struct {
	tag    uint64
	result IOResult
}

// ioIntegration is the runtime's async-I/O integration layer (spec
// §4.4). Go's standard library has no portable completion-based ring
// equivalent to io_uring/IOCP exposed across platforms, so submissions
// here run on an ordinary goroutine (letting the host Go scheduler's
// own blocking-syscall handling absorb the wait) and report back
// through a completion channel that any worker can drain from
// Runtime.pollIO — functionally the same shape as spec §4.4's
// completion poller, degrading gracefully exactly as the spec allows
// ("pins a thread for its duration; correctness preserved, throughput
// drops") since Go itself donates a fresh OS thread to any goroutine
// blocked in a syscall.
type ioIntegration struct {
	sched       *Runtime
	mu          sync.Mutex
	completions chan completion
	pending     sync.Map // tag -> *Goroutine
}

func newIOIntegration(rt *Runtime) *ioIntegration {
	return &ioIntegration{
		sched:       rt,
		completions: make(chan completion, 256),
	}
}

// submitRead runs r.Read(buf) on a fresh goroutine and records the
// submitting Goroutine's id as the completion tag.
func (io_ *ioIntegration) submitRead(g *Goroutine, r io.Reader, buf []byte) {
	io_.pending.Store(g.id, g)
	go func() {
		n, err := r.Read(buf)
		io_.completions <- completion{tag: g.id, result: IOResult{Bytes: n, Err: err}}
	}()
}

// submitWrite runs w.Write(buf) on a fresh goroutine and records the
// submitting Goroutine's id as the completion tag.
func (io_ *ioIntegration) submitWrite(g *Goroutine, w io.Writer, buf []byte) {
	io_.pending.Store(g.id, g)
	go func() {
		n, err := w.Write(buf)
		io_.completions <- completion{tag: g.id, result: IOResult{Bytes: n, Err: err}}
	}()
}

// poll drains whatever completions are immediately available, writes
// each into its goroutine's result slot, removes the pending-map entry
// (released before Unpark, per spec §5's lock-order note), and unparks
// it via the global queue. Returns true if anything was unparked.
func (io_ *ioIntegration) poll() bool {
	any := false
	for {
		select {
		case c := <-io_.completions:
			v, ok := io_.pending.LoadAndDelete(c.tag)
			if !ok {
				continue
			}
			g := v.(*Goroutine)
			result := c.result
			g.result.Store(&result)
			io_.sched.Unpark(g)
			any = true
		default:
			return any
		}
	}
}

// AsyncRead submits a tagged read and parks the calling Goroutine until
// the completion poller delivers a result. Must be called from inside a
// scheduled Goroutine's body.
func (rt *Runtime) AsyncRead(g *Goroutine, r io.Reader, buf []byte) IOResult {
	rt.io.submitRead(g, r, buf)
	g.Park()
	if res := g.Result(); res != nil {
		return *res
	}
	return IOResult{}
}

// AsyncWrite submits a tagged write and parks the calling Goroutine
// until the completion poller delivers a result.
func (rt *Runtime) AsyncWrite(g *Goroutine, w io.Writer, buf []byte) IOResult {
	rt.io.submitWrite(g, w, buf)
	g.Park()
	if res := g.Result(); res != nil {
		return *res
	}
	return IOResult{}
}

// pollIO is called by a Worker that found no runnable goroutine
// anywhere else; it is the "poll I/O" step of spec §4.3's find_runnable
// search order.
func (rt *Runtime) pollIO(w *Worker) bool {
	return rt.io.poll()
}
