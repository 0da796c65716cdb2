package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cjeanneret/AzEl/internal/logic/geometry"
)

// Leg is the pulse train of one axis within a command.
type Leg struct {
	Pulses uint32
	Dir    int // +1 or -1
}

// MoveCommand is the immutable host->device move request.
// A single-axis command only uses Legs[Axis]; a combined command uses both
// legs and leaves Axis at its zero value.
type MoveCommand struct {
	DelayUs  uint32
	Report   uint32
	Combined bool
	Axis     AxisID
	Legs     [2]Leg // indexed by AxisID
}

// Leg returns the pulse train of axis a.
func (c MoveCommand) Leg(a AxisID) Leg {
	return c.Legs[a]
}

// Moves reports whether the command steps axis a.
func (c MoveCommand) Moves(a AxisID) bool {
	if c.Combined {
		return true
	}
	return c.Axis == a
}

// MaxPulses returns the length of the stepping loop.
func (c MoveCommand) MaxPulses() uint32 {
	if !c.Combined {
		return c.Legs[c.Axis].Pulses
	}
	return max(c.Legs[Azimuth].Pulses, c.Legs[Elevation].Pulses)
}

// String is used in logs.
func (c MoveCommand) String() string {
	if c.Combined {
		az, el := c.Legs[Azimuth], c.Legs[Elevation]
		return fmt.Sprintf("combined az=%d(%+d) el=%d(%+d) delay=%dus report=%d",
			az.Pulses, az.Dir, el.Pulses, el.Dir, c.DelayUs, c.Report)
	}
	l := c.Legs[c.Axis]
	return fmt.Sprintf("%s %d(%+d) delay=%dus report=%d", c.Axis, l.Pulses, l.Dir, c.DelayUs, c.Report)
}

// EncodeMove builds a single-axis command from an angle.
func EncodeMove(conv geometry.Converter, axis AxisID, degrees float64, delayUs, report uint32) MoveCommand {
	c := MoveCommand{DelayUs: delayUs, Report: report, Axis: axis}
	c.Legs[axis] = Leg{Pulses: conv.Pulses(degrees), Dir: geometry.Direction(degrees)}
	return c
}

// EncodeCombined builds a dual-axis command sharing one delay and report interval.
func EncodeCombined(conv geometry.Converter, azDeg, elDeg float64, delayUs, report uint32) MoveCommand {
	c := MoveCommand{DelayUs: delayUs, Report: report, Combined: true}
	c.Legs[Azimuth] = Leg{Pulses: conv.Pulses(azDeg), Dir: geometry.Direction(azDeg)}
	c.Legs[Elevation] = Leg{Pulses: conv.Pulses(elDeg), Dir: geometry.Direction(elDeg)}
	return c
}

type singleWire struct {
	Delay  *uint32 `json:"delay"`
	Pulses *uint32 `json:"pulses"`
	Dir    *int    `json:"dir"`
	Report *uint32 `json:"report"`
	Motor  *int    `json:"motor"`
}

type combinedWire struct {
	Delay    *uint32 `json:"delay"`
	PulsesAz *uint32 `json:"pulses_az"`
	DirAz    *int    `json:"dir_az"`
	PulsesEl *uint32 `json:"pulses_el"`
	DirEl    *int    `json:"dir_el"`
	Report   *uint32 `json:"report"`
}

// MarshalLine renders the command as one newline-terminated JSON object.
func (c MoveCommand) MarshalLine() []byte {
	var v any
	if c.Combined {
		az, el := c.Legs[Azimuth], c.Legs[Elevation]
		v = combinedWire{
			Delay:    &c.DelayUs,
			PulsesAz: &az.Pulses,
			DirAz:    &az.Dir,
			PulsesEl: &el.Pulses,
			DirEl:    &el.Dir,
			Report:   &c.Report,
		}
	} else {
		l := c.Legs[c.Axis]
		motor := int(c.Axis)
		v = singleWire{
			Delay:  &c.DelayUs,
			Pulses: &l.Pulses,
			Dir:    &l.Dir,
			Report: &c.Report,
			Motor:  &motor,
		}
	}
	// Only fixed-shape structs of integers are marshalled here.
	data, _ := json.Marshal(v)
	return append(data, '\n')
}

// DecodeError reports a malformed move command. The device echoes it back
// as a diagnostic and keeps running.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode command %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	errMissingField = errors.New("missing field")
	errBadDir       = errors.New("dir must be 1 or -1")
	errBadReport    = errors.New("report must be > 0")
	errBadMotor     = errors.New("motor must be 0 or 1")
)

// DecodeCommand parses a move command line. Every field of the chosen form
// must be present; unknown fields are rejected.
func DecodeCommand(line string) (MoveCommand, error) {
	trimmed := strings.TrimSpace(line)
	fail := func(err error) (MoveCommand, error) {
		return MoveCommand{}, &DecodeError{Line: trimmed, Err: err}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return fail(err)
	}

	if _, ok := fields["pulses_az"]; ok {
		var w combinedWire
		if err := decodeStrict(trimmed, &w); err != nil {
			return fail(err)
		}
		if w.Delay == nil || w.PulsesAz == nil || w.DirAz == nil || w.PulsesEl == nil || w.DirEl == nil || w.Report == nil {
			return fail(errMissingField)
		}
		if !validDir(*w.DirAz) || !validDir(*w.DirEl) {
			return fail(errBadDir)
		}
		if *w.Report == 0 {
			return fail(errBadReport)
		}
		c := MoveCommand{DelayUs: *w.Delay, Report: *w.Report, Combined: true}
		c.Legs[Azimuth] = Leg{Pulses: *w.PulsesAz, Dir: *w.DirAz}
		c.Legs[Elevation] = Leg{Pulses: *w.PulsesEl, Dir: *w.DirEl}
		return c, nil
	}

	var w singleWire
	if err := decodeStrict(trimmed, &w); err != nil {
		return fail(err)
	}
	if w.Delay == nil || w.Pulses == nil || w.Dir == nil || w.Report == nil || w.Motor == nil {
		return fail(errMissingField)
	}
	if !validDir(*w.Dir) {
		return fail(errBadDir)
	}
	if *w.Report == 0 {
		return fail(errBadReport)
	}
	if *w.Motor != int(Elevation) && *w.Motor != int(Azimuth) {
		return fail(errBadMotor)
	}
	c := MoveCommand{DelayUs: *w.Delay, Report: *w.Report, Axis: AxisID(*w.Motor)}
	c.Legs[c.Axis] = Leg{Pulses: *w.Pulses, Dir: *w.Dir}
	return c, nil
}

func decodeStrict(line string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(line)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func validDir(d int) bool { return d == 1 || d == -1 }
