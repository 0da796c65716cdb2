package geometry

import (
	"math"

	"github.com/cjeanneret/AzEl/internal/config"
)

// Converter converts platform angles to motor pulse counts and back.
// pulses = microstep * gear_teeth * |degrees| / step_angle, rounded.
type Converter struct {
	Microstep    int
	GearTeeth    int
	StepAngleDeg float64
}

// NewConverter creates a converter from configuration.
func NewConverter(cfg *config.Config) Converter {
	return Converter{
		Microstep:    cfg.Gear.Microstep,
		GearTeeth:    cfg.Gear.GearTeeth,
		StepAngleDeg: cfg.Gear.StepAngleDeg,
	}
}

// PulsesPerDegree returns the number of pulses for one degree of platform rotation.
func (c Converter) PulsesPerDegree() float64 {
	return float64(c.Microstep*c.GearTeeth) / c.StepAngleDeg
}

// Pulses returns the unsigned pulse count for an angle.
func (c Converter) Pulses(degrees float64) uint32 {
	return uint32(math.Round(math.Abs(degrees) * c.PulsesPerDegree()))
}

// Direction returns the sign of an angle; zero counts as +1.
func Direction(degrees float64) int {
	if degrees < 0 {
		return -1
	}
	return 1
}

// Degrees converts a signed pulse count back to degrees.
func (c Converter) Degrees(pulses int64) float64 {
	return float64(pulses) / c.PulsesPerDegree()
}
