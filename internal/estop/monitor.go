package estop

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cjeanneret/AzEl/internal/debug"
)

// DefaultPollInterval is the keyboard poll period.
const DefaultPollInterval = 100 * time.Millisecond

// Input reports operator activity.
type Input interface {
	// Poll waits up to timeout and reports whether input arrived.
	Poll(timeout time.Duration) (bool, error)
}

// Stopper performs a stop on behalf of an input; see motion.Controller.
type Stopper interface {
	Stop(source string) (bool, error)
}

// Monitor watches an Input and triggers the stop on activity.
type Monitor struct {
	flag       *Flag
	input      Input
	w          LineWriter
	interval   time.Duration
	stopper    Stopper
	persistent bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithStopper routes stops through s instead of writing the abort line
// directly.
func WithStopper(s Stopper) MonitorOption {
	return func(m *Monitor) { m.stopper = s }
}

// Persistent keeps the monitor running after a stop. Activity is ignored
// until the flag is re-armed.
func Persistent() MonitorOption {
	return func(m *Monitor) { m.persistent = true }
}

// NewMonitor creates a monitor; interval <= 0 selects DefaultPollInterval.
func NewMonitor(flag *Flag, input Input, w LineWriter, interval time.Duration, opts ...MonitorOption) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	m := &Monitor{flag: flag, input: input, w: w, interval: interval}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run polls until ctx ends or the input closes. Unless persistent, it also
// returns once the flag is raised (by anyone). An input at end of file
// disables the monitor without stopping.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil || (!m.persistent && m.flag.Requested()) {
			return nil
		}
		hit, err := m.input.Poll(m.interval)
		if errors.Is(err, io.EOF) {
			debug.Verbose("Stop input closed, keyboard stop disabled")
			return nil
		}
		if err != nil {
			return err
		}
		if !hit || m.flag.Requested() {
			continue
		}
		if err := m.stop(); err != nil {
			return err
		}
	}
}

func (m *Monitor) stop() error {
	if m.stopper != nil {
		_, err := m.stopper.Stop("keyboard")
		return err
	}
	_, err := Trigger(m.flag, m.w, "keyboard")
	return err
}
