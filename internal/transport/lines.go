package transport

import (
	"bytes"
	"errors"
	"sync"

	"github.com/cjeanneret/AzEl/internal/debug"
)

// ErrStopped is returned by LineReader.ReadLine when the stop condition
// was observed before a full line arrived.
var ErrStopped = errors.New("transport: stopped")

// Transport splits one port into a shared writer and a single-owner reader.
type Transport struct {
	port   Port
	Writer *Writer
	Reader *LineReader
}

// New wraps an open port.
func New(p Port) *Transport {
	return &Transport{
		port:   p,
		Writer: &Writer{port: p},
		Reader: &LineReader{port: p, chunk: make([]byte, 256)},
	}
}

// Close closes the underlying port.
func (t *Transport) Close() error {
	return t.port.Close()
}

// Writer serializes whole lines onto the port. It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	port Port
}

// WriteLine sends line as a single write, adding the newline if missing,
// and waits for it to leave the port.
func (w *Writer) WriteLine(line []byte) error {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line[:len(line):len(line)], '\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if debug.IsEnabled(debug.LevelTrace) {
		debug.Wire("tx", string(bytes.TrimRight(line, "\n")))
	}
	if _, err := w.port.Write(line); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if err := w.port.Drain(); err != nil {
		return &TransportError{Op: "drain", Err: err}
	}
	return nil
}

// LineReader assembles lines from a port opened with a read timeout.
// It must be used from one goroutine only.
type LineReader struct {
	port  Port
	buf   []byte
	chunk []byte
}

// ReadLine returns the next line without its terminator. Between reads it
// polls stop (once per read timeout) and gives up with ErrStopped when it
// reports true. Already buffered lines are returned first.
func (r *LineReader) ReadLine(stop func() bool) (string, error) {
	for {
		if i := bytes.IndexByte(r.buf, '\n'); i >= 0 {
			line := string(bytes.TrimRight(r.buf[:i], "\r"))
			r.buf = r.buf[i+1:]
			debug.Wire("rx", line)
			return line, nil
		}
		if stop != nil && stop() {
			return "", ErrStopped
		}
		n, err := r.port.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
		}
		if err != nil {
			return "", &TransportError{Op: "read", Err: err}
		}
	}
}
