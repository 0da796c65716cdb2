package sweep

import (
	"context"
	"errors"
	"testing"

	"github.com/cjeanneret/AzEl/internal/config"
	"github.com/cjeanneret/AzEl/internal/estop"
	"github.com/cjeanneret/AzEl/internal/logic/motion"
	"github.com/cjeanneret/AzEl/internal/protocol"
)

type move struct {
	axis    protocol.AxisID
	degrees float64
}

type fakeMover struct {
	moves   []move
	abortAt int // 1-based move that reports an abort, 0 = never
	failAt  int
	onMove  func(n int)
}

func (m *fakeMover) Move(ctx context.Context, axis protocol.AxisID, degrees float64) (motion.Result, error) {
	m.moves = append(m.moves, move{axis, degrees})
	n := len(m.moves)
	if m.onMove != nil {
		m.onMove(n)
	}
	if n == m.failAt {
		return motion.Result{}, errors.New("link down")
	}
	return motion.Result{Aborted: n == m.abortAt}, nil
}

func TestSequence_Pattern(t *testing.T) {
	m := &fakeMover{}
	s := NewSequence(m, &estop.Flag{})

	p := Params{AzimuthDeg: 360, ElevationStepDeg: 10, ElevationSpanDeg: 20, MaxMoves: 12}
	n, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if n != 12 {
		t.Fatalf("completed = %d, want 12", n)
	}

	want := []move{
		{protocol.Azimuth, 360}, {protocol.Elevation, 10}, {protocol.Azimuth, -360}, {protocol.Elevation, 10},
		{protocol.Azimuth, 360}, {protocol.Elevation, -10}, {protocol.Azimuth, -360}, {protocol.Elevation, -10},
		{protocol.Azimuth, 360}, {protocol.Elevation, 10}, {protocol.Azimuth, -360}, {protocol.Elevation, 10},
	}
	for i := range want {
		if m.moves[i] != want[i] {
			t.Errorf("move %d = %+v, want %+v", i, m.moves[i], want[i])
		}
	}
}

func TestSequence_DefaultSpanReversesAfter36Steps(t *testing.T) {
	m := &fakeMover{}
	s := NewSequence(m, &estop.Flag{})

	p := ParamsFrom(config.Default())
	p.MaxMoves = 76 // 19 cycles
	if _, err := s.Run(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	// 18 cycles climb 360°, the 19th descends.
	if got := m.moves[71]; got != (move{protocol.Elevation, 10}) {
		t.Errorf("last move of cycle 18 = %+v", got)
	}
	if got := m.moves[73]; got != (move{protocol.Elevation, -10}) {
		t.Errorf("first elevation move of cycle 19 = %+v", got)
	}
}

func TestSequence_StopsOnAbort(t *testing.T) {
	m := &fakeMover{abortAt: 3}
	n, err := NewSequence(m, &estop.Flag{}).Run(context.Background(), Params{AzimuthDeg: 360, ElevationStepDeg: 10, ElevationSpanDeg: 360})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(m.moves) != 3 {
		t.Errorf("completed = %d after %d moves, want 2 after 3", n, len(m.moves))
	}
}

func TestSequence_StopsOnFlag(t *testing.T) {
	flag := &estop.Flag{}
	m := &fakeMover{onMove: func(n int) {
		if n == 5 {
			flag.Request()
		}
	}}
	n, err := NewSequence(m, flag).Run(context.Background(), Params{AzimuthDeg: 360, ElevationStepDeg: 10, ElevationSpanDeg: 360})
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("completed = %d, want 5", n)
	}
}

func TestSequence_ErrorsAndContext(t *testing.T) {
	m := &fakeMover{failAt: 2}
	n, err := NewSequence(m, &estop.Flag{}).Run(context.Background(), Params{AzimuthDeg: 1, ElevationStepDeg: 1, ElevationSpanDeg: 1})
	if err == nil || n != 1 {
		t.Errorf("Run() = %d, %v; want 1 and an error", n, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m = &fakeMover{onMove: func(n int) {
		if n == 1 {
			cancel()
		}
	}}
	n, err = NewSequence(m, &estop.Flag{}).Run(ctx, Params{AzimuthDeg: 1, ElevationStepDeg: 1, ElevationSpanDeg: 1})
	if !errors.Is(err, context.Canceled) || n != 1 {
		t.Errorf("Run() = %d, %v; want 1, context.Canceled", n, err)
	}
}
