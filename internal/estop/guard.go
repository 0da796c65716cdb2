package estop

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/cjeanneret/AzEl/internal/protocol"
)

// ExitSignalled is the process status after a signal-triggered abort.
const ExitSignalled = 130

// RawWriter is a pre-opened descriptor usable from the signal path.
type RawWriter interface {
	WriteAll(b []byte) error
}

// Guard sends the abort line on SIGINT/SIGTERM and exits immediately. It
// does not take any lock and ignores every error.
type Guard struct {
	raw     RawWriter
	payload []byte
	sigs    chan os.Signal
	exit    func(int)
	atExit  atomic.Pointer[func()]
}

// NewGuard prepares a guard writing to raw.
func NewGuard(raw RawWriter) *Guard {
	return &Guard{
		raw:     raw,
		payload: append([]byte(nil), protocol.AbortLine...),
		sigs:    make(chan os.Signal, 1),
		exit:    os.Exit,
	}
}

// AtExit registers fn to run after the abort is written and before the
// process exits, e.g. to restore the terminal. A later call replaces it.
func (g *Guard) AtExit(fn func()) {
	g.atExit.Store(&fn)
}

// Start installs the signal handler.
func (g *Guard) Start() {
	signal.Notify(g.sigs, syscall.SIGINT, syscall.SIGTERM)
	go g.wait()
}

// Stop removes the signal handler.
func (g *Guard) Stop() {
	signal.Stop(g.sigs)
}

func (g *Guard) wait() {
	if _, ok := <-g.sigs; !ok {
		return
	}
	_ = g.raw.WriteAll(g.payload)
	if fn := g.atExit.Load(); fn != nil {
		(*fn)()
	}
	g.exit(ExitSignalled)
}
