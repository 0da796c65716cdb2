package transport

import (
	"errors"
	"io"
	"time"

	tarm "github.com/tarm/serial"
)

// tarmPort adapts github.com/tarm/serial. Its read timeout is fixed when
// the port is opened and a timed out read surfaces as io.EOF.
type tarmPort struct {
	rwc     io.ReadWriteCloser
	timeout time.Duration
}

func openTarm(cfg Config) (Port, error) {
	p, err := tarm.OpenPort(&tarm.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: max(cfg.ReadTimeout, 0),
		Size:        8,
		Parity:      tarm.ParityNone,
		StopBits:    tarm.Stop1,
	})
	if err != nil {
		return nil, err
	}
	return &tarmPort{rwc: p, timeout: max(cfg.ReadTimeout, 0)}, nil
}

var errFixedTimeout = errors.New("tarm: read timeout is fixed at open")

func (p *tarmPort) Read(b []byte) (int, error) {
	n, err := p.rwc.Read(b)
	if errors.Is(err, io.EOF) && p.timeout > 0 {
		return n, nil
	}
	return n, err
}

func (p *tarmPort) Write(b []byte) (int, error) { return p.rwc.Write(b) }

func (p *tarmPort) Close() error { return p.rwc.Close() }

func (p *tarmPort) SetReadTimeout(t time.Duration) error {
	if t == p.timeout {
		return nil
	}
	return errFixedTimeout
}

// Drain is a no-op: tarm writes go straight to the tty.
func (p *tarmPort) Drain() error { return nil }
