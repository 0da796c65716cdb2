package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/AzEl/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver drives the Raspberry Pi header through /dev/gpiomem.
type RPiDriver struct {
	mu      sync.Mutex
	pins    map[int]rpio.Pin
	outputs map[int]bool
}

// NewRPiDriver maps the GPIO registers. It needs /dev/gpiomem access or root.
func NewRPiDriver() (*RPiDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open GPIO: %w (not a Raspberry Pi?)", err)
	}
	debug.Info("GPIO registers mapped (go-rpio)")
	return &RPiDriver{
		pins:    make(map[int]rpio.Pin),
		outputs: make(map[int]bool),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("setup", pin, mode)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.bind(pin, mode)
	return err
}

// bind records the pin and its direction. Callers hold mu.
func (r *RPiDriver) bind(pin int, mode PinMode) (rpio.Pin, error) {
	p := rpio.Pin(pin)
	switch mode {
	case Output:
		p.Output()
		r.outputs[pin] = true
	case Input:
		p.Input()
		delete(r.outputs, pin)
	default:
		return 0, fmt.Errorf("pin %d: unknown mode %d", pin, mode)
	}
	r.pins[pin] = p
	return p, nil
}

// lookup returns a bound pin, binding it with mode the first time.
func (r *RPiDriver) lookup(pin int, mode PinMode) (rpio.Pin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pins[pin]; ok {
		return p, nil
	}
	return r.bind(pin, mode)
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("write", pin, level)
	p, err := r.lookup(pin, Output)
	if err != nil {
		return err
	}
	state := rpio.Low
	if level == High {
		state = rpio.High
	}
	p.Write(state)
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	p, err := r.lookup(pin, Input)
	if err != nil {
		return Low, err
	}
	level := Level(p.Read() == rpio.High)
	debug.GPIO("read", pin, level)
	return level, nil
}

// Close pulls every output low, releases all pins as inputs and unmaps
// the registers.
func (r *RPiDriver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pin, p := range r.pins {
		if r.outputs[pin] {
			p.Write(rpio.Low)
		}
		p.Input()
	}
	debug.Trace("GPIO released %d pins", len(r.pins))
	return rpio.Close()
}
