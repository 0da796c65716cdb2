//go:build linux

package estop

import (
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// StdinInput polls standard input. On a terminal, line buffering and echo
// are turned off so any single key counts.
type StdinInput struct {
	fd    int
	saved *term.State
}

// NewStdinInput prepares fd 0. Close restores the terminal.
func NewStdinInput() (*StdinInput, error) {
	in := &StdinInput{fd: int(os.Stdin.Fd())}
	if !term.IsTerminal(in.fd) {
		return in, nil
	}

	saved, err := term.GetState(in.fd)
	if err != nil {
		return nil, err
	}
	tio, err := unix.IoctlGetTermios(in.fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	// cbreak: keep signals and output processing.
	tio.Lflag &^= unix.ICANON | unix.ECHO
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(in.fd, unix.TCSETS, tio); err != nil {
		return nil, err
	}
	in.saved = saved
	return in, nil
}

func (in *StdinInput) Poll(timeout time.Duration) (bool, error) {
	var set unix.FdSet
	set.Set(in.fd)
	tv := unix.NsecToTimeval(timeout.Nanoseconds())

	n, err := unix.Select(in.fd+1, &set, nil, nil, &tv)
	if err == unix.EINTR {
		return false, nil
	}
	if err != nil || n == 0 {
		return false, err
	}

	buf := make([]byte, 64)
	r, err := unix.Read(in.fd, buf)
	if err != nil {
		return false, err
	}
	if r == 0 {
		return false, io.EOF
	}
	return true, nil
}

// Close restores the terminal mode.
func (in *StdinInput) Close() error {
	if in.saved == nil {
		return nil
	}
	return term.Restore(in.fd, in.saved)
}
