package device

import (
	"io"
	"testing"
	"time"
)

func waitPending(t *testing.T, l *StreamLink) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !l.Pending() {
		if time.Now().After(deadline) {
			t.Fatal("input never became pending")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStreamLinkReadLine(t *testing.T) {
	r, w := io.Pipe()
	l := NewStreamLink(r, io.Discard)

	go io.WriteString(w, "first\r\nsec")
	if got, err := l.ReadLine(); err != nil || got != "first" {
		t.Fatalf("ReadLine() = %q, %v", got, err)
	}
	go io.WriteString(w, "ond\n")
	if got, err := l.ReadLine(); err != nil || got != "second" {
		t.Fatalf("ReadLine() = %q, %v", got, err)
	}

	w.Close()
	if _, err := l.ReadLine(); err != io.EOF {
		t.Errorf("ReadLine() after close = %v, want io.EOF", err)
	}
}

func TestStreamLinkDropLine(t *testing.T) {
	r, w := io.Pipe()
	l := NewStreamLink(r, io.Discard)

	if l.Pending() {
		t.Fatal("Pending() = true on empty link")
	}

	// The abort line arrives in two pieces; the tail must be dropped too.
	go io.WriteString(w, `["ST`)
	waitPending(t, l)
	l.DropLine()
	if l.Pending() {
		t.Error("Pending() = true after DropLine")
	}

	go io.WriteString(w, "OP\"]\nnext\n")
	if got, err := l.ReadLine(); err != nil || got != "next" {
		t.Fatalf("ReadLine() = %q, %v; want next", got, err)
	}
}

func TestStreamLinkClose(t *testing.T) {
	r, _ := io.Pipe()
	l := NewStreamLink(r, io.Discard)

	done := make(chan error, 1)
	go func() {
		_, err := l.ReadLine()
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	l.Close()

	select {
	case err := <-done:
		if err != ErrLinkClosed {
			t.Errorf("ReadLine() = %v, want ErrLinkClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock ReadLine")
	}
}

type lineRecorder struct{ data []byte }

func (r *lineRecorder) Write(p []byte) (int, error) {
	r.data = append(r.data, p...)
	return len(p), nil
}

func TestStreamLinkWriteLineAndReady(t *testing.T) {
	r, _ := io.Pipe()
	rec := &lineRecorder{}
	attached := false
	l := NewStreamLink(r, rec, WithReady(func() bool { return attached }))

	if l.Ready() {
		t.Error("Ready() = true before the host attached")
	}
	attached = true
	if !l.Ready() {
		t.Error("Ready() = false after the host attached")
	}

	l.WriteLine("STATUS 1,2")
	if got := string(rec.data); got != "STATUS 1,2\n" {
		t.Errorf("written = %q", got)
	}
}
