package stepper

import (
	"testing"

	"github.com/cjeanneret/AzEl/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls []gpioCall
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) writeCallsForPin(pin int) []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" && c.pin == pin {
			result = append(result, c)
		}
	}
	return result
}

func testConfig() Config {
	return Config{
		Name:         "azimuth",
		PulsePin:     22,
		DirPin:       17,
		EnablePin:    27,
		CWLevel:      gpio.Low,
		CCWLevel:     gpio.High,
		EnableActive: gpio.Low,
	}
}

func TestAxis_InitDisablesDriver(t *testing.T) {
	drv := &recordingDriver{}
	New(drv, testConfig())

	enable := drv.writeCallsForPin(27)
	if len(enable) != 1 || enable[0].level != gpio.High {
		t.Errorf("enable pin should be driven inactive (HIGH) at init, got %v", enable)
	}
	pulse := drv.writeCallsForPin(22)
	if len(pulse) != 1 || pulse[0].level != gpio.Low {
		t.Errorf("pulse pin should start LOW, got %v", pulse)
	}
}

func TestAxis_StepForward(t *testing.T) {
	drv := &recordingDriver{}
	a := New(drv, testConfig())
	drv.calls = nil

	a.SetDirection(1)
	for i := 0; i < 10; i++ {
		a.Step()
	}

	if got := a.Position(); got != 10 {
		t.Errorf("position = %d, want 10", got)
	}
	dir := drv.writeCallsForPin(17)
	if len(dir) == 0 || dir[0].level != gpio.Low {
		t.Errorf("clockwise should drive dir pin to the CW level (LOW), got %v", dir)
	}

	highs := 0
	for _, c := range drv.writeCallsForPin(22) {
		if c.level == gpio.High {
			highs++
		}
	}
	if highs != 10 {
		t.Errorf("expected 10 pulses, got %d", highs)
	}
}

func TestAxis_StepBackward(t *testing.T) {
	drv := &recordingDriver{}
	a := New(drv, testConfig())
	drv.calls = nil

	a.SetDirection(-1)
	for i := 0; i < 5; i++ {
		a.Step()
	}

	if got := a.Position(); got != -5 {
		t.Errorf("position = %d, want -5", got)
	}
	dir := drv.writeCallsForPin(17)
	if len(dir) == 0 || dir[0].level != gpio.High {
		t.Errorf("counter-clockwise should drive dir pin to the CCW level (HIGH), got %v", dir)
	}
}

func TestAxis_StepEnablesDriver(t *testing.T) {
	drv := &recordingDriver{}
	a := New(drv, testConfig())
	drv.calls = nil

	a.Step()

	enable := drv.writeCallsForPin(27)
	if len(enable) != 1 || enable[0].level != gpio.Low {
		t.Errorf("Step should enable the driver (LOW), got %v", enable)
	}
}

func TestAxis_StepPulsePattern(t *testing.T) {
	drv := &recordingDriver{}
	a := New(drv, testConfig())
	drv.calls = nil

	a.Step()

	pulse := drv.writeCallsForPin(22)
	if len(pulse) != 2 {
		t.Fatalf("single step should produce 2 writes on pulse pin, got %d", len(pulse))
	}
	if pulse[0].level != gpio.High || pulse[1].level != gpio.Low {
		t.Errorf("pulse should be HIGH then LOW, got %v", pulse)
	}
}

func TestAxis_Disable(t *testing.T) {
	drv := &recordingDriver{}
	a := New(drv, testConfig())
	a.Step()
	drv.calls = nil

	a.Disable()

	if pulse := drv.writeCallsForPin(22); len(pulse) != 1 || pulse[0].level != gpio.Low {
		t.Errorf("Disable should drive pulse LOW, got %v", pulse)
	}
	if enable := drv.writeCallsForPin(27); len(enable) != 1 || enable[0].level != gpio.High {
		t.Errorf("Disable should drive enable inactive (HIGH), got %v", enable)
	}
}

func TestAxis_NoEnablePin(t *testing.T) {
	drv := &recordingDriver{}
	cfg := testConfig()
	cfg.EnablePin = 0
	a := New(drv, cfg)
	drv.calls = nil

	a.Step()
	a.Disable()

	for _, c := range drv.calls {
		if c.pin == 0 {
			t.Fatalf("with EnablePin=0 no call should target pin 0, got %v", c)
		}
	}
}

func TestAxis_SetDirectionNormalizes(t *testing.T) {
	a := New(&recordingDriver{}, testConfig())

	a.SetDirection(0)
	if a.Direction() != -1 {
		t.Errorf("SetDirection(0) = %d, want -1", a.Direction())
	}
	a.SetDirection(7)
	if a.Direction() != 1 {
		t.Errorf("SetDirection(7) = %d, want 1", a.Direction())
	}
}
