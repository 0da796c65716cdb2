package device

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrLinkClosed is returned by ReadLine once the link has been closed.
var ErrLinkClosed = errors.New("device: link closed")

// Link is the device end of the host connection.
type Link interface {
	// Ready reports whether the host is attached.
	Ready() bool
	// ReadLine blocks until a full line is available and returns it
	// without its terminator.
	ReadLine() (string, error)
	// Pending reports, without blocking, whether any input byte is waiting.
	Pending() bool
	// DropLine discards the pending input up to and including the next
	// newline, even if that newline has not arrived yet.
	DropLine()
	// WriteLine sends one line; the terminator is added.
	WriteLine(line string) error
	// Close unblocks ReadLine.
	Close() error
}

// StreamLink implements Link over a byte stream. A background goroutine
// copies input into a buffer so that Pending is a plain length check.
type StreamLink struct {
	w     io.Writer
	ready func() bool

	wmu sync.Mutex

	mu   sync.Mutex
	cond *sync.Cond
	buf  []byte
	skip bool
	err  error
}

// LinkOption configures a StreamLink.
type LinkOption func(*StreamLink)

// WithReady sets the host-attached probe polled while awaiting the link.
func WithReady(fn func() bool) LinkOption {
	return func(l *StreamLink) { l.ready = fn }
}

// NewStreamLink starts reading r in the background and writes lines to w.
func NewStreamLink(r io.Reader, w io.Writer, opts ...LinkOption) *StreamLink {
	l := &StreamLink{w: w}
	l.cond = sync.NewCond(&l.mu)
	for _, opt := range opts {
		opt(l)
	}
	go l.readLoop(r)
	return l
}

func (l *StreamLink) readLoop(r io.Reader) {
	chunk := make([]byte, 256)
	for {
		n, err := r.Read(chunk)
		l.mu.Lock()
		if n > 0 {
			l.buf = append(l.buf, chunk[:n]...)
		}
		if err != nil && l.err == nil {
			l.err = err
		}
		done := l.err != nil
		l.cond.Broadcast()
		l.mu.Unlock()
		if done {
			return
		}
	}
}

func (l *StreamLink) Ready() bool {
	if l.ready == nil {
		return true
	}
	return l.ready()
}

// applySkip drops input belonging to a line discarded by DropLine.
// Caller holds l.mu.
func (l *StreamLink) applySkip() {
	if !l.skip || len(l.buf) == 0 {
		return
	}
	if i := bytes.IndexByte(l.buf, '\n'); i >= 0 {
		l.buf = l.buf[i+1:]
		l.skip = false
		return
	}
	l.buf = l.buf[:0]
}

func (l *StreamLink) ReadLine() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		l.applySkip()
		if !l.skip {
			if i := bytes.IndexByte(l.buf, '\n'); i >= 0 {
				line := string(l.buf[:i])
				l.buf = l.buf[i+1:]
				return strings.TrimRight(line, "\r"), nil
			}
		}
		if l.err != nil {
			return "", l.err
		}
		l.cond.Wait()
	}
}

func (l *StreamLink) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf) > 0
}

func (l *StreamLink) DropLine() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skip = true
	l.applySkip()
}

func (l *StreamLink) WriteLine(line string) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	_, err := io.WriteString(l.w, line+"\n")
	return err
}

func (l *StreamLink) Close() error {
	l.mu.Lock()
	if l.err == nil {
		l.err = ErrLinkClosed
	}
	l.cond.Broadcast()
	l.mu.Unlock()
	return nil
}
