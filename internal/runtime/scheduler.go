package runtime

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Runtime owns the set of Workers, the shared global queue, and the
// bookkeeping (id generator, active-goroutine counter, pending I/O map)
// described in spec §3. Worker 0 never gets its own OS thread: it runs
// on whichever goroutine calls WaitAll, matching the "caller's thread"
// semantics of spec §4.3/§5.
type Runtime struct {
	workers  []*Worker
	global   *Queue
	nextID   atomic.Uint64
	active   atomic.Int64
	shutdown atomic.Bool

	idleMu sync.Mutex
	idleCh chan struct{} // closed and replaced by wakeIdle on every wake

	io *ioIntegration

	// bodies maps the gid of each scheduled Goroutine's backing real
	// goroutine to the Goroutine itself; see Current and currentWorker.
	bodies sync.Map
}

func (rt *Runtime) registerBody(gid uint64, g *Goroutine)   { rt.bodies.Store(gid, g) }
func (rt *Runtime) unregisterBody(gid uint64)               { rt.bodies.Delete(gid) }
func (rt *Runtime) lookupBody(gid uint64) *Goroutine {
	v, ok := rt.bodies.Load(gid)
	if !ok {
		return nil
	}
	return v.(*Goroutine)
}

// Option configures a Runtime at construction time.
type Option func(*runtimeConfig)

type runtimeConfig struct {
	workers int
}

// WithWorkers overrides the default worker count (min(NumCPU, 8)).
func WithWorkers(n int) Option {
	return func(c *runtimeConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// New creates a Runtime and starts its background worker threads
// (worker 0 is driven later, by WaitAll).
func New(opts ...Option) *Runtime {
	cfg := runtimeConfig{workers: defaultWorkerCount()}
	for _, o := range opts {
		o(&cfg)
	}

	rt := &Runtime{global: NewQueue(), idleCh: make(chan struct{})}
	rt.io = newIOIntegration(rt)

	rt.workers = make([]*Worker, cfg.workers)
	for i := range rt.workers {
		rt.workers[i] = newWorker(i, rt)
	}
	for i := 1; i < len(rt.workers); i++ {
		w := rt.workers[i]
		go func() {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			w.run()
		}()
	}
	return rt
}

func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (rt *Runtime) workerByID(id int) *Worker {
	if id < 0 || id >= len(rt.workers) {
		return nil
	}
	return rt.workers[id]
}

func (rt *Runtime) otherWorkers(excludeID int) []*Worker {
	out := make([]*Worker, 0, len(rt.workers)-1)
	for _, w := range rt.workers {
		if w.id != excludeID {
			out = append(out, w)
		}
	}
	return out
}

func (rt *Runtime) shuttingDown() bool { return rt.shutdown.Load() }

// ActiveCount returns the number of goroutines created minus the number
// observed dead.
func (rt *Runtime) ActiveCount() int64 { return rt.active.Load() }

// Spawn allocates a new Goroutine running fn(g) with the given
// argument, and schedules it onto the local queue of the calling
// worker if the caller is itself running inside one, or the global
// queue otherwise.
func (rt *Runtime) Spawn(fn Func, arg any) *Goroutine {
	g := &Goroutine{
		id:      rt.nextID.Add(1),
		fn:      fn,
		arg:     arg,
		Arg:     arg,
		resume:  make(chan struct{}),
		suspend: make(chan suspendMsg),
		sched:   rt,
	}
	g.state.Store(int32(Runnable))
	g.owner.Store(-1)
	rt.active.Add(1)

	if w := rt.currentWorker(); w != nil {
		w.local.Push(g)
	} else {
		rt.global.Push(g)
	}
	rt.wakeIdle()
	return g
}

// currentWorker looks up the Worker driving the calling real Go
// goroutine, if any.
func (rt *Runtime) currentWorker() *Worker {
	g := rt.lookupBody(goroutineID())
	if g == nil {
		return nil
	}
	id := g.owner.Load()
	if id < 0 {
		return nil
	}
	return rt.workerByID(int(id))
}

// retire is called by a Worker after observing a goroutine's body
// report suspendDead; it decrements the active count and wakes any
// WaitAll caller that might be blocked on it reaching zero.
func (rt *Runtime) retire(g *Goroutine) {
	rt.active.Add(-1)
	rt.wakeIdle()
}

// Unpark transitions a blocked goroutine back to runnable and pushes it
// onto the global queue, biasing freshly woken work away from whichever
// worker happens to be hot — this improves tail latency for I/O-driven
// workloads, per spec §4.3.
func (rt *Runtime) Unpark(g *Goroutine) {
	g.state.Store(int32(Runnable))
	rt.global.Push(g)
	rt.wakeIdle()
}

// wakeIdle closes the current idle generation channel (waking every
// worker parked in idleWait) and installs a fresh one for the next
// generation.
func (rt *Runtime) wakeIdle() {
	rt.idleMu.Lock()
	close(rt.idleCh)
	rt.idleCh = make(chan struct{})
	rt.idleMu.Unlock()
}

// idleTimeout bounds how long an idle worker parks before re-checking
// for work itself, so a lost wakeup (a Push racing the channel swap in
// wakeIdle) cannot stall it forever.
const idleTimeout = 10 * time.Millisecond

// idleWait blocks the worker until the next wakeIdle or idleTimeout,
// whichever comes first.
func (rt *Runtime) idleWait(w *Worker) {
	rt.idleMu.Lock()
	ch := rt.idleCh
	rt.idleMu.Unlock()

	select {
	case <-ch:
	case <-time.After(idleTimeout):
	}
}

// Shutdown sets the shutdown flag and wakes every idle worker so they
// can observe it and exit their run loops.
func (rt *Runtime) Shutdown() {
	rt.shutdown.Store(true)
	rt.wakeIdle()
}

// WaitAll drives worker 0 on the caller's goroutine and returns once
// ActiveCount reaches zero or the runtime is shut down.
func (rt *Runtime) WaitAll() {
	w0 := rt.workers[0]
	for rt.active.Load() > 0 && !rt.shuttingDown() {
		g := w0.findRunnable()
		if g == nil {
			rt.idleWaitBounded()
			continue
		}
		w0.execute(g)
	}
}

// idleWaitBounded is worker 0's variant of idleWait: it reuses the same
// generation channel but never blocks past idleTimeout, so WaitAll
// always re-checks ActiveCount promptly.
func (rt *Runtime) idleWaitBounded() {
	rt.idleMu.Lock()
	ch := rt.idleCh
	rt.idleMu.Unlock()

	select {
	case <-ch:
	case <-time.After(idleTimeout):
	}
}
