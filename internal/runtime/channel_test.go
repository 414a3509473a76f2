package runtime

import (
	"sync"
	"testing"
)

func TestOSChannelBufferedSendRecv(t *testing.T) {
	c := NewOSChannel[int](2)
	if !c.Send(1) || !c.Send(2) {
		t.Fatal("Send into capacity-2 channel should not block")
	}
	if ok := c.TrySend(3); ok {
		t.Fatal("TrySend on full channel should fail")
	}
	v, ok := c.Recv()
	if !ok || v != 1 {
		t.Fatalf("Recv() = (%d, %v), want (1, true)", v, ok)
	}
}

func TestOSChannelRendezvous(t *testing.T) {
	c := NewOSChannel[int](0)
	recvDone := make(chan int, 1)
	go func() {
		v, _ := c.Recv()
		recvDone <- v
	}()
	if !c.Send(42) {
		t.Fatal("Send on open rendezvous channel should succeed")
	}
	if got := <-recvDone; got != 42 {
		t.Fatalf("received %d, want 42", got)
	}
}

func TestOSChannelCloseDrainsThenNone(t *testing.T) {
	c := NewOSChannel[int](4)
	c.Send(1)
	c.Send(2)
	c.Close()
	if !c.IsClosed() {
		t.Fatal("IsClosed() = false after Close()")
	}
	v, ok := c.Recv()
	if !ok || v != 1 {
		t.Fatalf("first Recv after close = (%d, %v), want (1, true)", v, ok)
	}
	v, ok = c.Recv()
	if !ok || v != 2 {
		t.Fatalf("second Recv after close = (%d, %v), want (2, true)", v, ok)
	}
	if _, ok := c.Recv(); ok {
		t.Fatal("Recv on drained closed channel should return ok=false")
	}
	if c.Send(3) {
		t.Fatal("Send on closed channel should return false")
	}
}

// TestOSChannelCapacityOneMultiProducer is the capacity-1, P-producers,
// 1-consumer boundary property: the consumer receives exactly the
// multiset sent, and the channel closes cleanly once every producer has
// dropped off.
func TestOSChannelCapacityOneMultiProducer(t *testing.T) {
	c := NewOSChannel[int](1)
	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				c.Send(p*perProducer + i)
			}
		}(p)
	}

	received := make(map[int]bool)
	var mu sync.Mutex
	recvDone := make(chan struct{})
	go func() {
		for {
			v, ok := c.Recv()
			if !ok {
				close(recvDone)
				return
			}
			mu.Lock()
			received[v] = true
			mu.Unlock()
		}
	}()

	wg.Wait()
	c.Close()
	<-recvDone

	if len(received) != producers*perProducer {
		t.Fatalf("received %d distinct values, want %d", len(received), producers*perProducer)
	}
}

func TestGChannelFallsBackToCondvarOutsideGoroutine(t *testing.T) {
	rt := New(WithWorkers(1))
	ch := NewGChannel[string](rt, 1)
	if !ch.Send("hi") {
		t.Fatal("Send from ordinary goroutine (not a scheduled Goroutine) should succeed via condvar fallback")
	}
	v, ok := ch.Recv()
	if !ok || v != "hi" {
		t.Fatalf("Recv() = (%q, %v), want (\"hi\", true)", v, ok)
	}
}

func TestGChannelParksInsideGoroutine(t *testing.T) {
	rt := New(WithWorkers(2))
	ch := NewGChannel[int](rt, 0)
	result := make(chan int, 1)

	rt.Spawn(func(g *Goroutine) {
		v, _ := ch.Recv()
		result <- v
	}, nil)

	rt.Spawn(func(g *Goroutine) {
		ch.Send(7)
	}, nil)

	rt.WaitAll()
	if got := <-result; got != 7 {
		t.Fatalf("received %d, want 7", got)
	}
}
