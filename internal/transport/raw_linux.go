//go:build linux

package transport

import (
	"golang.org/x/sys/unix"
)

// RawPort is a bare write descriptor on the serial device. It is used from
// signal context, so it only offers a blocking write and a drain.
type RawPort struct {
	fd int
}

// OpenRaw opens device for writing without touching its line settings.
func OpenRaw(device string) (*RawPort, error) {
	fd, err := unix.Open(device, unix.O_WRONLY|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &TransportError{Op: "open raw", Device: device, Err: err}
	}
	return &RawPort{fd: fd}, nil
}

// WriteAll writes b and waits for the output queue to empty. Errors are
// returned but callers on the signal path ignore them.
func (p *RawPort) WriteAll(b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(p.fd, b)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		b = b[n:]
	}
	// tcdrain
	return unix.IoctlSetInt(p.fd, unix.TCSBRK, 1)
}

// Close releases the descriptor.
func (p *RawPort) Close() error {
	return unix.Close(p.fd)
}
