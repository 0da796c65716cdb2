// Package motion sequences host-side moves: it encodes each request, sends
// it to the device and follows the status stream until the move completes
// or is aborted.
package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/AzEl/internal/config"
	"github.com/cjeanneret/AzEl/internal/debug"
	"github.com/cjeanneret/AzEl/internal/estop"
	"github.com/cjeanneret/AzEl/internal/ledger"
	"github.com/cjeanneret/AzEl/internal/logic/geometry"
	"github.com/cjeanneret/AzEl/internal/protocol"
	"github.com/cjeanneret/AzEl/internal/statuslog"
	"github.com/cjeanneret/AzEl/internal/transport"
)

// DefaultSettle bounds how long the controller keeps reading after a stop
// request, waiting for the device's final status and acknowledgement.
const DefaultSettle = 2 * time.Second

// LineReader yields device lines; see transport.LineReader.
type LineReader interface {
	ReadLine(stop func() bool) (string, error)
}

// Recorder persists cumulative positions; see statuslog.Logger.
type Recorder interface {
	Record(e statuslog.Entry) error
}

// Observer is told about live progress.
type Observer interface {
	OnStatus(pos ledger.Position, seen, expected int)
	OnMove(r Result)
}

// Result summarizes one move.
type Result struct {
	Command  protocol.MoveCommand `json:"-"`
	Label    string               `json:"command"`
	Expected int                  `json:"expected"`
	Seen     int                  `json:"seen"`
	Final    ledger.Position      `json:"final"`
	Aborted  bool                 `json:"aborted"`
	Skipped  bool                 `json:"skipped"`
	LogErr   error                `json:"-"` // first status log failure, the move went on
}

// Options wires a Controller.
type Options struct {
	Writer      estop.LineWriter
	Reader      LineReader
	Converter   geometry.Converter
	Ledger      *ledger.Ledger
	Log         Recorder
	Flag        *estop.Flag
	Observer    Observer
	DelayUs     uint32
	Report      uint32
	ZeroDegrees string        // config.ZeroSkip or config.ZeroExecute
	Settle      time.Duration // 0 = DefaultSettle
}

// Controller runs moves strictly one at a time.
type Controller struct {
	opts   Options
	mu     sync.Mutex      // owns the reader: held by a move or an idle stop
	device ledger.Position // last position reported by the device
}

func NewController(opts Options) *Controller {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.ZeroDegrees == "" {
		opts.ZeroDegrees = config.ZeroSkip
	}
	return &Controller{opts: opts}
}

// Move turns one axis by degrees.
func (c *Controller) Move(ctx context.Context, axis protocol.AxisID, degrees float64) (Result, error) {
	if degrees == 0 && c.opts.ZeroDegrees == config.ZeroSkip {
		debug.Verbose("Skipping 0° %s move", axis)
		return Result{Skipped: true, Label: axis.String() + " skipped"}, nil
	}
	cmd := protocol.EncodeMove(c.opts.Converter, axis, degrees, c.opts.DelayUs, c.opts.Report)
	return c.run(ctx, cmd)
}

// MoveCombined turns both axes with a single command.
func (c *Controller) MoveCombined(ctx context.Context, azDeg, elDeg float64) (Result, error) {
	if azDeg == 0 && elDeg == 0 && c.opts.ZeroDegrees == config.ZeroSkip {
		debug.Verbose("Skipping 0° combined move")
		return Result{Skipped: true, Label: "combined skipped"}, nil
	}
	cmd := protocol.EncodeCombined(c.opts.Converter, azDeg, elDeg, c.opts.DelayUs, c.opts.Report)
	return c.run(ctx, cmd)
}

// Stop sends the abort line if no stop is pending. A running move takes
// care of the rest; otherwise Stop waits for the device's acknowledgement
// itself and completes the stop, so the next move starts on a clean link.
func (c *Controller) Stop(source string) (bool, error) {
	sent, err := estop.Trigger(c.opts.Flag, c.opts.Writer, source)
	if !sent || err != nil {
		return sent, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Flag.State() == estop.StopRequested {
		c.awaitAck()
		c.opts.Flag.Finish()
	}
	return true, nil
}

// awaitAck reads until the acknowledgement arrives or Settle elapses.
func (c *Controller) awaitAck() {
	deadline := time.Now().Add(c.opts.Settle)
	for {
		line, err := c.opts.Reader.ReadLine(func() bool { return time.Now().After(deadline) })
		if err != nil {
			if !errors.Is(err, transport.ErrStopped) {
				debug.Error(err)
			}
			return
		}
		if protocol.Classify(line) == protocol.KindAck {
			debug.Verbose("Idle stop acknowledged")
			return
		}
		debug.Trace("Ignoring %q while idle", line)
	}
}

func (c *Controller) run(ctx context.Context, cmd protocol.MoveCommand) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := Result{
		Command:  cmd,
		Label:    cmd.String(),
		Expected: statuslog.ExpectedCount(cmd.MaxPulses(), cmd.Report),
		Final:    c.opts.Ledger.Position(),
	}
	if c.opts.Flag.Requested() {
		res.Aborted = true
		return res, nil
	}

	for _, id := range protocol.Axes {
		if cmd.Moves(id) {
			leg := cmd.Leg(id)
			debug.Move(id.String(), leg.Pulses, leg.Dir)
		}
	}
	if err := c.opts.Writer.WriteLine(cmd.MarshalLine()); err != nil {
		return res, fmt.Errorf("send command: %w", err)
	}

	err := c.follow(ctx, &res, func() bool {
		return c.opts.Flag.Requested() || ctx.Err() != nil
	})
	if errors.Is(err, transport.ErrStopped) {
		if !c.opts.Flag.Requested() {
			// Context ended without an operator stop.
			c.notify(res)
			return res, ctx.Err()
		}
		res.Aborted = true
		c.drain(&res)
		err = nil
	}
	if res.Aborted {
		c.opts.Flag.Finish()
	}
	c.notify(res)
	if err != nil {
		return res, err
	}

	if res.Aborted {
		debug.Info("Move %s aborted after %d/%d status records", res.Label, res.Seen, res.Expected)
	} else {
		debug.Live("Move %s done at az=%d el=%d", res.Label, res.Final.Az, res.Final.El)
	}
	return res, nil
}

// follow consumes device lines until the move completes, an acknowledgement
// arrives or stop reports true (transport.ErrStopped).
func (c *Controller) follow(ctx context.Context, res *Result, stop func() bool) error {
	for res.Seen < res.Expected {
		line, err := c.opts.Reader.ReadLine(stop)
		if err != nil {
			if errors.Is(err, transport.ErrStopped) {
				return err
			}
			return fmt.Errorf("read status: %w", err)
		}

		switch protocol.Classify(line) {
		case protocol.KindStatus:
			st, _ := protocol.ParseStatus(line)
			c.record(res, st)
		case protocol.KindAck:
			c.opts.Flag.Request()
			res.Aborted = true
			return nil
		case protocol.KindDiag:
			debug.Info("Device: %s", line)
		case protocol.KindBanner:
			debug.Info("Device reconnected mid-move")
		default:
			debug.Trace("Ignoring %q", line)
		}
	}
	return nil
}

// drain waits a bounded time for the records the device sends after an
// abort (final status, acknowledgement) so the log ends on the real
// position.
func (c *Controller) drain(res *Result) {
	deadline := time.Now().Add(c.opts.Settle)
	res.Expected = max(res.Expected, res.Seen+1)
	for {
		line, err := c.opts.Reader.ReadLine(func() bool { return time.Now().After(deadline) })
		if err != nil {
			if !errors.Is(err, transport.ErrStopped) {
				debug.Error(err)
			}
			return
		}
		switch protocol.Classify(line) {
		case protocol.KindStatus:
			st, _ := protocol.ParseStatus(line)
			c.record(res, st)
		case protocol.KindAck:
			return
		}
	}
}

func (c *Controller) record(res *Result, st protocol.Status) {
	dev := ledger.Position{Az: st.Az, El: st.El}
	if st.Axes == 1 {
		// A single counter belongs to the commanded axis.
		dev = c.device
		if res.Command.Combined || res.Command.Axis == protocol.Azimuth {
			dev.Az = st.Az
		} else {
			dev.El = st.Az
		}
	}
	c.device = dev

	pos := c.opts.Ledger.Apply(dev)
	if c.opts.Log != nil {
		if err := c.opts.Log.Record(statuslog.Entry{Pos: pos}); err != nil && res.LogErr == nil {
			res.LogErr = err
			debug.Error(fmt.Errorf("status log: %w", err))
		}
	}
	c.opts.Ledger.Update(pos)
	res.Seen++
	res.Final = pos
	debug.Status(res.Seen, res.Expected, pos.Az, pos.El)
	if c.opts.Observer != nil {
		c.opts.Observer.OnStatus(pos, res.Seen, res.Expected)
	}
}

func (c *Controller) notify(res Result) {
	if c.opts.Observer != nil {
		c.opts.Observer.OnMove(res)
	}
}
