// Package estop implements the emergency stop: a process-wide flag, the
// keyboard monitor that raises it and the signal guard.
package estop

import (
	"sync/atomic"

	"github.com/cjeanneret/AzEl/internal/debug"
	"github.com/cjeanneret/AzEl/internal/protocol"
)

// State of the stop flag.
type State int32

const (
	Running State = iota
	StopRequested
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case StopRequested:
		return "stop-requested"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Flag moves running -> stop-requested -> stopped. Only Reset goes back.
type Flag struct {
	v atomic.Int32
}

// Request raises the flag. Only the first caller gets true.
func (f *Flag) Request() bool {
	return f.v.CompareAndSwap(int32(Running), int32(StopRequested))
}

// Requested reports whether a stop was requested or completed.
func (f *Flag) Requested() bool {
	return f.State() != Running
}

// Finish marks the stop as completed.
func (f *Flag) Finish() {
	f.v.Store(int32(Stopped))
}

// Reset re-arms a completed stop so new moves can run. A pending request
// is left alone.
func (f *Flag) Reset() bool {
	return f.v.CompareAndSwap(int32(Stopped), int32(Running))
}

func (f *Flag) State() State {
	return State(f.v.Load())
}

// LineWriter sends one protocol line to the device.
type LineWriter interface {
	WriteLine(line []byte) error
}

// Trigger raises the flag and, if this call was first, sends the abort
// line. It reports whether it sent the abort.
func Trigger(f *Flag, w LineWriter, source string) (bool, error) {
	if !f.Request() {
		return false, nil
	}
	debug.Abort(source)
	return true, w.WriteLine(protocol.AbortLine)
}
