package runtime

import (
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

// Worker is an OS thread that executes Goroutines one at a time, owning
// one local run queue. Worker 0 runs on the caller's own goroutine
// (used by Runtime.WaitAll to drive the scheduler without spawning an
// extra thread); the remaining workers are owned by the Runtime.
type Worker struct {
	id      int
	local   *Queue
	fast    *Ring
	current atomic.Pointer[Goroutine]
	sched   *Runtime
}

func newWorker(id int, sched *Runtime) *Worker {
	return &Worker{
		id:    id,
		local: NewQueue(),
		fast:  NewRing(),
		sched: sched,
	}
}

// ID returns the worker's identity.
func (w *Worker) ID() int { return w.id }

// run is the worker's scheduling loop: find a runnable goroutine, run
// it to its next suspension point, repeat until the runtime shuts down.
func (w *Worker) run() {
	for !w.sched.shuttingDown() {
		g := w.findRunnable()
		if g == nil {
			w.sched.idleWait(w)
			continue
		}
		w.execute(g)
	}
}

// findRunnable implements the strict search order of spec §4.3: local
// queue (fast ring first, then overflow queue), then global queue, then
// a sweep of other workers' queues stealing half from the first
// non-empty one found.
func (w *Worker) findRunnable() *Goroutine {
	if g := w.fast.Pop(); g != nil {
		return g
	}
	if g := w.local.Pop(); g != nil {
		return g
	}
	if g := w.sched.global.Pop(); g != nil {
		return g
	}
	for _, other := range w.sched.otherWorkers(w.id) {
		if g := other.fast.Steal(); g != nil {
			return g
		}
		if other.local.Len() >= 2 {
			stolen := other.local.StealHalf()
			if g := stolen.Pop(); g != nil {
				// Keep the rest on our own local queue for future turns.
				for {
					rest := stolen.Pop()
					if rest == nil {
						break
					}
					w.local.Push(rest)
				}
				return g
			}
		}
	}
	if w.sched.pollIO(w) {
		// poll_io may have unparked goroutines onto the global queue;
		// give the caller one more pass.
		return w.sched.global.Pop()
	}
	return nil
}

// execute runs g until it yields, parks, or dies, via the channel
// rendezvous that stands in for a register-level context swap.
func (w *Worker) execute(g *Goroutine) {
	g.state.Store(int32(Running))
	g.owner.Store(int64(w.id))
	w.current.Store(g)

	if !g.started.Swap(true) {
		go g.body()
	}
	g.resume <- struct{}{}
	msg := <-g.suspend

	w.current.Store(nil)
	g.owner.Store(-1)

	if msg.reason == suspendDead {
		if msg.panic != nil {
			slog.Error("[runtime] goroutine panicked",
				"goroutine", g.id, "panic", msg.panic, "stack", string(debug.Stack()))
		}
		w.sched.retire(g)
	}
}
