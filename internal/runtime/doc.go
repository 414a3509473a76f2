// Package runtime implements the cooperative goroutine scheduler that
// backs every panel pipeline in mux: fixed-identity green threads with
// per-worker run queues, work stealing, a shared overflow queue, idle
// parking, and an async-I/O integration layer.
//
// The scheduler's green threads ("Goroutines", to mirror the source
// material this package generalizes) are themselves backed by real Go
// goroutines parked on channel rendezvous rather than hand-written
// per-architecture context-switch assembly — see DESIGN.md for the
// rationale. The observable contract (exactly one running goroutine per
// worker at a time, explicit yield/park/unpark suspension points, FIFO
// run queues, half-steal) matches the spec this package implements.
package runtime
