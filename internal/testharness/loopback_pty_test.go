package testharness

import (
	"io"
	"testing"
	"time"
)

func TestLoopbackPTYFeedThenRead(t *testing.T) {
	p := NewLoopbackPTY(false)
	p.Feed([]byte("hello"))

	buf := make([]byte, 16)
	n, err := p.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("Read = %q, want %q", buf[:n], "hello")
	}
}

func TestLoopbackPTYEchoesWrites(t *testing.T) {
	p := NewLoopbackPTY(true)
	if _, err := p.Write([]byte("echo me")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 16)
	n, err := p.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "echo me" {
		t.Fatalf("Read = %q, want %q", buf[:n], "echo me")
	}
}

func TestLoopbackPTYReadBlocksThenUnblocksOnFeed(t *testing.T) {
	p := NewLoopbackPTY(false)
	done := make(chan struct{})
	var n int
	go func() {
		buf := make([]byte, 8)
		n, _ = p.Read(buf)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Read returned before any data was fed")
	case <-time.After(50 * time.Millisecond):
	}

	p.Feed([]byte("hi"))
	select {
	case <-done:
		if n != 2 {
			t.Fatalf("Read n = %d, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not unblock after Feed")
	}
}

func TestLoopbackPTYCloseUnblocksReadWithEOF(t *testing.T) {
	p := NewLoopbackPTY(false)
	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 8)
		_, err := p.Read(buf)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Close()

	select {
	case err := <-errCh:
		if err != io.EOF {
			t.Fatalf("Read error = %v, want io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}

func TestLoopbackPTYResizeAfterCloseFails(t *testing.T) {
	p := NewLoopbackPTY(false)
	p.Close()
	if err := p.Resize(100, 30); err == nil {
		t.Fatal("Resize after Close should fail")
	}
}
