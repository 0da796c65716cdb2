// Package sweep runs the observation pattern: full azimuth turns
// alternating direction, with an elevation step after each turn.
package sweep

import (
	"context"
	"math"
	"time"

	"github.com/cjeanneret/AzEl/internal/config"
	"github.com/cjeanneret/AzEl/internal/debug"
	"github.com/cjeanneret/AzEl/internal/estop"
	"github.com/cjeanneret/AzEl/internal/logic/motion"
	"github.com/cjeanneret/AzEl/internal/protocol"
)

// Mover executes one move; *motion.Controller implements it.
type Mover interface {
	Move(ctx context.Context, axis protocol.AxisID, degrees float64) (motion.Result, error)
}

// Params defines the pattern.
type Params struct {
	AzimuthDeg       float64       // azimuth swing per leg
	ElevationStepDeg float64       // elevation step after each swing
	ElevationSpanDeg float64       // reverse elevation after this much travel
	Pause            time.Duration // settle time between moves
	MaxMoves         int           // 0 = until stopped
}

// ParamsFrom returns the configured pattern.
func ParamsFrom(cfg *config.Config) Params {
	return Params{
		AzimuthDeg:       cfg.Sweep.AzimuthDeg,
		ElevationStepDeg: cfg.Sweep.ElevationStepDeg,
		ElevationSpanDeg: cfg.Sweep.ElevationSpanDeg,
	}
}

// Sequence drives a Mover through the pattern.
type Sequence struct {
	mover Mover
	flag  *estop.Flag
}

func NewSequence(m Mover, flag *estop.Flag) *Sequence {
	return &Sequence{mover: m, flag: flag}
}

type leg struct {
	axis    protocol.AxisID
	degrees float64
}

// Run repeats azimuth +A, elevation +S, azimuth -A, elevation +S. After
// each cycle the elevation direction flips once the accumulated elevation
// travel reaches the span. It returns the number of completed moves.
func (s *Sequence) Run(ctx context.Context, p Params) (int, error) {
	debug.Section("Observe sweep")
	debug.PrintStruct("Sweep", p)

	done := 0
	dir := 1.0
	moved := 0.0
	for cycle := 1; ; cycle++ {
		debug.Verbose("Cycle %d (elevation dir %+.0f)", cycle, dir)
		legs := [...]leg{
			{protocol.Azimuth, p.AzimuthDeg},
			{protocol.Elevation, p.ElevationStepDeg * dir},
			{protocol.Azimuth, -p.AzimuthDeg},
			{protocol.Elevation, p.ElevationStepDeg * dir},
		}
		for _, l := range legs {
			if s.flag.Requested() {
				return done, nil
			}
			if err := ctx.Err(); err != nil {
				return done, err
			}
			if p.MaxMoves > 0 && done >= p.MaxMoves {
				return done, nil
			}

			res, err := s.mover.Move(ctx, l.axis, l.degrees)
			if err != nil {
				return done, err
			}
			if res.Aborted {
				return done, nil
			}
			done++
			if l.axis == protocol.Elevation {
				moved += l.degrees
			}
			if p.Pause > 0 {
				select {
				case <-ctx.Done():
					return done, ctx.Err()
				case <-time.After(p.Pause):
				}
			}
		}
		if math.Abs(moved) >= p.ElevationSpanDeg {
			dir = -dir
			moved = 0
		}
	}
}
