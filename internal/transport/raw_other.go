//go:build !linux

package transport

import "errors"

// RawPort is only available on Linux.
type RawPort struct{}

// OpenRaw is only available on Linux.
func OpenRaw(device string) (*RawPort, error) {
	return nil, &TransportError{Op: "open raw", Device: device, Err: errors.New("unsupported platform")}
}

func (p *RawPort) WriteAll(b []byte) error { return errors.New("unsupported platform") }

func (p *RawPort) Close() error { return nil }
