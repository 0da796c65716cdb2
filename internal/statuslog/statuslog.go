// Package statuslog appends device position reports to a size-rotated
// family of CSV files.
package statuslog

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cjeanneret/AzEl/internal/debug"
	"github.com/cjeanneret/AzEl/internal/ledger"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("statuslog: closed")

// Entry is one logged position. A zero Time is stamped by the logger clock.
type Entry struct {
	Time time.Time
	Pos  ledger.Position
}

// RotationError reports a failure to move on to the next log file. The
// logger stays failed afterwards.
type RotationError struct {
	From string
	To   string
	Err  error
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("rotate %s -> %s: %v", e.From, e.To, e.Err)
}

func (e *RotationError) Unwrap() error { return e.Err }

// Logger writes "timestamp_us,az,el" rows.
type Logger struct {
	mu        sync.Mutex
	naming    ledger.Naming
	index     int
	threshold int64
	clock     func() time.Time
	f         *os.File
	failed    error
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock replaces time.Now as timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(l *Logger) { l.clock = clock }
}

// Open starts logging into the file of index. A threshold of 0 disables
// rotation.
func Open(n ledger.Naming, index int, threshold int64, opts ...Option) (*Logger, error) {
	l := &Logger{naming: n, index: index, threshold: threshold, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if err := os.MkdirAll(n.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := l.openFile(index)
	if err != nil {
		return nil, err
	}
	l.f = f
	debug.Verbose("Status log %s (rotate at %d bytes)", f.Name(), threshold)
	return l, nil
}

func (l *Logger) openFile(index int) (*os.File, error) {
	path := l.naming.Path(index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log: %w", err)
	}
	if info.Size() == 0 {
		if _, err := f.WriteString(ledger.Header + "\n"); err != nil {
			f.Close()
			return nil, fmt.Errorf("write log header: %w", err)
		}
	}
	return f, nil
}

// Record appends one row, rotating first when the current file has
// reached the threshold.
func (l *Logger) Record(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failed != nil {
		return l.failed
	}
	if l.f == nil {
		return ErrClosed
	}
	if err := l.rotateIfNeeded(); err != nil {
		l.failed = err
		debug.Error(err)
		return err
	}

	ts := e.Time
	if ts.IsZero() {
		ts = l.clock()
	}
	row := strconv.FormatInt(ts.UnixMicro(), 10) + "," +
		strconv.FormatInt(e.Pos.Az, 10) + "," +
		strconv.FormatInt(e.Pos.El, 10) + "\n"
	if _, err := l.f.WriteString(row); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return l.f.Sync()
}

func (l *Logger) rotateIfNeeded() error {
	if l.threshold <= 0 {
		return nil
	}
	info, err := l.f.Stat()
	if err != nil {
		return &RotationError{From: l.f.Name(), To: l.f.Name(), Err: err}
	}
	if info.Size() < l.threshold {
		return nil
	}

	from := l.f.Name()
	next := l.index + 1
	if err := l.f.Close(); err != nil {
		return &RotationError{From: from, To: l.naming.Path(next), Err: err}
	}
	l.f = nil
	f, err := l.openFile(next)
	if err != nil {
		return &RotationError{From: from, To: l.naming.Path(next), Err: err}
	}
	l.f = f
	l.index = next
	debug.Info("Log rotated: %s -> %s", from, f.Name())
	return nil
}

// Index returns the index of the current file.
func (l *Logger) Index() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index
}

// Path returns the current file path.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.naming.Path(l.index)
}

// Close closes the current file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// ExpectedCount is the number of status records a completed move of
// pulses produces: one every report pulses plus the final one.
func ExpectedCount(pulses, report uint32) int {
	if report == 0 {
		return 1
	}
	return int(pulses/report) + 1
}
