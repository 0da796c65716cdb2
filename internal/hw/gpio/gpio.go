package gpio

import (
	"sync"

	"github.com/cjeanneret/AzEl/internal/debug"
)

// Level is the electrical state of a line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// LevelOf converts a 0/1 configuration value into a Level.
func LevelOf(v int) Level {
	return v != 0
}

// PinMode is the direction of a line.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver is the line-level access the stepper axes need. RPiDriver talks
// to the Pi header; MockDriver stands in on a workstation.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver remembers the last level and write count of every line.
// Safe for concurrent use.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	writes map[int]int
}

// NewDriver returns a MockDriver when mock is set, otherwise an RPiDriver.
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("GPIO: mock driver, no lines are driven")
		return NewMockDriver(), nil
	}
	return NewRPiDriver()
}

// NewMockDriver creates an empty in-memory driver.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		levels: make(map[int]Level),
		writes: make(map[int]int),
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("setup", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("write", pin, level)
	m.mu.Lock()
	m.levels[pin] = level
	m.writes[pin]++
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	level := m.levels[pin]
	m.mu.Unlock()
	debug.GPIO("read", pin, level)
	return level, nil
}

// Writes returns how many times pin was written.
func (m *MockDriver) Writes(pin int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[pin]
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO released (mock)")
	return nil
}
