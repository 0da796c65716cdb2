// Package device implements the step engine running on the motor
// controller: it reads move commands from the host link, drives both axes
// pulse by pulse and reports positions back.
package device

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/AzEl/internal/debug"
	"github.com/cjeanneret/AzEl/internal/hw/stepper"
	"github.com/cjeanneret/AzEl/internal/protocol"
)

// State is the engine's current phase.
type State int32

const (
	StateAwaitLink State = iota
	StateIdle
	StateParsing
	StateExecuting
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateAwaitLink:
		return "await-link"
	case StateIdle:
		return "idle"
	case StateParsing:
		return "parsing"
	case StateExecuting:
		return "executing"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// DefaultLinkPoll is the interval at which the engine probes for the host.
const DefaultLinkPoll = 100 * time.Millisecond

// Engine owns both axes and the host link.
type Engine struct {
	link     Link
	axes     [2]*stepper.Axis // indexed by protocol.AxisID
	linkPoll time.Duration
	state    atomic.Int32
}

// New creates an engine. Both axes are required.
func New(link Link, az, el *stepper.Axis) *Engine {
	e := &Engine{link: link, linkPoll: DefaultLinkPoll}
	e.axes[protocol.Azimuth] = az
	e.axes[protocol.Elevation] = el
	return e
}

// State returns the current phase.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	if State(e.state.Swap(int32(s))) != s {
		debug.Trace("engine: %s", s)
	}
}

// Run waits for the host, announces itself and then serves commands until
// ctx is cancelled or the link fails.
func (e *Engine) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = e.link.Close() })
	defer stop()

	e.setState(StateAwaitLink)
	if err := e.awaitLink(ctx); err != nil {
		return err
	}
	if err := e.write(protocol.Banner); err != nil {
		return err
	}
	debug.Info("Host link up")

	for {
		e.setState(StateIdle)
		line, err := e.link.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		debug.Wire("rx", line)
		if err := e.handle(line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (e *Engine) awaitLink(ctx context.Context) error {
	if e.link.Ready() {
		return nil
	}
	ticker := time.NewTicker(e.linkPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if e.link.Ready() {
				return nil
			}
		}
	}
}

// handle processes one input line. Only link write failures are returned.
func (e *Engine) handle(line string) error {
	e.setState(StateParsing)

	if protocol.IsAbort(line) {
		debug.Live("Abort while idle")
		return e.write(protocol.AckLine)
	}

	cmd, err := protocol.DecodeCommand(line)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			debug.Live("Rejected command: %v", de.Err)
		}
		return e.write(protocol.Diagnostic(line))
	}

	aborted, err := e.execute(cmd)
	if err != nil {
		return err
	}
	outcome := "done"
	if aborted {
		outcome = "aborted"
	}
	debug.Live("Executed %s: %s (az=%d el=%d)", cmd, outcome,
		e.axes[protocol.Azimuth].Position(), e.axes[protocol.Elevation].Position())
	return nil
}

// execute steps the involved axes and reports whether the move was
// interrupted by pending input.
func (e *Engine) execute(cmd protocol.MoveCommand) (bool, error) {
	e.setState(StateExecuting)

	var remaining [2]uint32
	delay := time.Duration(cmd.DelayUs) * time.Microsecond
	for _, id := range protocol.Axes {
		if !cmd.Moves(id) {
			continue
		}
		leg := cmd.Leg(id)
		remaining[id] = leg.Pulses
		e.axes[id].SetDirection(leg.Dir)
		e.axes[id].SetStepDelay(delay)
	}

	aborted := false
	total := uint64(cmd.MaxPulses())
	report := uint64(cmd.Report)
	for i := uint64(1); i <= total; i++ {
		for _, id := range protocol.Axes {
			if remaining[id] > 0 {
				e.axes[id].Step()
				remaining[id]--
			}
		}
		if i%report == 0 {
			if err := e.writeStatus(); err != nil {
				return false, err
			}
		}
		if e.link.Pending() {
			e.link.DropLine()
			aborted = true
			break
		}
	}

	if aborted {
		e.setState(StateAborted)
	}
	err := e.writeStatus()
	if err == nil && aborted {
		err = e.write(protocol.AckLine)
	}
	for _, id := range protocol.Axes {
		if cmd.Moves(id) {
			e.axes[id].Disable()
		}
	}
	return aborted, err
}

func (e *Engine) writeStatus() error {
	return e.write(protocol.FormatStatus(
		e.axes[protocol.Azimuth].Position(),
		e.axes[protocol.Elevation].Position(),
	))
}

func (e *Engine) write(line string) error {
	debug.Wire("tx", line)
	return e.link.WriteLine(line)
}
