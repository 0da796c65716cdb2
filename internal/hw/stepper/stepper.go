package stepper

import (
	"sync/atomic"
	"time"

	"github.com/cjeanneret/AzEl/internal/debug"
	"github.com/cjeanneret/AzEl/internal/hw/gpio"
)

// Config holds the hardware configuration for one stepper axis.
type Config struct {
	Name         string
	PulsePin     int
	DirPin       int
	EnablePin    int           // 0 = not used
	CWLevel      gpio.Level    // direction line level for clockwise (+1)
	CCWLevel     gpio.Level    // direction line level for counter-clockwise (-1)
	EnableActive gpio.Level    // enable line level that powers the driver
	StepDelay    time.Duration // pulse half-period; total step = 2*StepDelay
}

// Axis is one stepper motor and its live position counter.
// Only the step engine that owns the axis calls Step; Position may be read
// from any goroutine.
type Axis struct {
	gpio      gpio.Driver
	cfg       Config
	delay     time.Duration
	direction int
	position  atomic.Int64
}

// New binds the axis lines. The pulse line starts low and the driver
// disabled until the first Step.
func New(g gpio.Driver, cfg Config) *Axis {
	_ = g.SetupPin(cfg.PulsePin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)
	_ = g.WritePin(cfg.PulsePin, gpio.Low)

	a := &Axis{
		gpio:      g,
		cfg:       cfg,
		delay:     cfg.StepDelay,
		direction: 1,
	}

	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, !cfg.EnableActive)
	}

	debug.Verbose("Axis %s bound: pulse=%d dir=%d enable=%d", cfg.Name, cfg.PulsePin, cfg.DirPin, cfg.EnablePin)
	return a
}

// Name returns the axis name ("azimuth", "elevation").
func (a *Axis) Name() string { return a.cfg.Name }

// SetDirection sets the direction of the following steps. Any value <= 0
// means -1.
func (a *Axis) SetDirection(dir int) {
	if dir > 0 {
		a.direction = 1
	} else {
		a.direction = -1
	}
}

// Direction returns +1 or -1.
func (a *Axis) Direction() int { return a.direction }

// SetStepDelay sets the pulse half-period.
func (a *Axis) SetStepDelay(d time.Duration) {
	a.delay = d
}

// Position returns the signed step counter.
func (a *Axis) Position() int64 {
	return a.position.Load()
}

// Step asserts the direction line, enables the driver and emits one pulse
// (high for the step delay, then low for the step delay). The position
// moves by exactly one in the current direction.
func (a *Axis) Step() {
	dirLevel := a.cfg.CWLevel
	if a.direction < 0 {
		dirLevel = a.cfg.CCWLevel
	}
	_ = a.gpio.WritePin(a.cfg.DirPin, dirLevel)
	if a.cfg.EnablePin > 0 {
		_ = a.gpio.WritePin(a.cfg.EnablePin, a.cfg.EnableActive)
	}

	_ = a.gpio.WritePin(a.cfg.PulsePin, gpio.High)
	a.wait()
	_ = a.gpio.WritePin(a.cfg.PulsePin, gpio.Low)
	a.wait()

	a.position.Add(int64(a.direction))
}

func (a *Axis) wait() {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
}

// Disable de-asserts the pulse line and turns the driver off (no holding torque).
func (a *Axis) Disable() {
	_ = a.gpio.WritePin(a.cfg.PulsePin, gpio.Low)
	if a.cfg.EnablePin > 0 {
		_ = a.gpio.WritePin(a.cfg.EnablePin, !a.cfg.EnableActive)
	}
}
