// Package transport carries protocol lines between the host and the device
// over a serial port.
package transport

import (
	"fmt"
	"io"
	"time"

	bugst "go.bug.st/serial"

	"github.com/cjeanneret/AzEl/internal/config"
	"github.com/cjeanneret/AzEl/internal/debug"
)

// Port is an open serial line.
type Port interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds each Read; a timed out Read returns 0, nil.
	SetReadTimeout(t time.Duration) error
	// Drain blocks until all written bytes have been transmitted.
	Drain() error
}

// Config selects the device and backend.
type Config struct {
	Device      string
	Baud        int
	Driver      string // config.DriverBugst or config.DriverTarm
	ReadTimeout time.Duration
}

// ConfigFrom extracts the transport settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		Driver:      cfg.Serial.Driver,
		ReadTimeout: cfg.ReadTimeout(),
	}
}

// TransportError reports a failure of the serial line.
type TransportError struct {
	Op     string
	Device string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Open opens the device 8N1, raw, without flow control.
func Open(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("no device given")}
	}

	var (
		p   Port
		err error
	)
	switch cfg.Driver {
	case "", config.DriverBugst:
		p, err = openBugst(cfg)
	case config.DriverTarm:
		p, err = openTarm(cfg)
	default:
		err = fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, &TransportError{Op: "open", Device: cfg.Device, Err: err}
	}

	debug.Verbose("Serial %s open: %d baud 8N1 (%s driver, read timeout %v)", cfg.Device, cfg.Baud, cfg.Driver, cfg.ReadTimeout)
	return p, nil
}

func openBugst(cfg Config) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	port, err := bugst.Open(cfg.Device, mode)
	if err != nil {
		return nil, err
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = bugst.NoTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return port, nil
}

type modemStatus interface {
	GetModemStatusBits() (*bugst.ModemStatusBits, error)
}

// HostAttached returns a probe reporting whether the far end holds DSR
// (the host asserts DTR when it opens its side). Ports that cannot report
// modem lines are always attached.
func HostAttached(p Port) func() bool {
	m, ok := p.(modemStatus)
	if !ok {
		return func() bool { return true }
	}
	return func() bool {
		bits, err := m.GetModemStatusBits()
		return err == nil && bits.DSR
	}
}
