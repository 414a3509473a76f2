package testharness

import (
	"testing"
	"time"
)

func TestClockAfterFiresOnAdvance(t *testing.T) {
	c := NewClock(time.Unix(0, 0))
	ch := c.After(10 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before reaching its deadline")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire once the deadline was reached")
	}
}

func TestClockNowReflectsAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewClock(start)
	c.Advance(30 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(30 * time.Second)) {
		t.Fatalf("Now() = %v, want %v", got, start.Add(30*time.Second))
	}
}
