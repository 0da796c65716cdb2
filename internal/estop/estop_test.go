package estop

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/cjeanneret/AzEl/internal/protocol"
)

type recordingWriter struct {
	mu    sync.Mutex
	lines []string
}

func (w *recordingWriter) WriteLine(line []byte) error {
	w.mu.Lock()
	w.lines = append(w.lines, string(line))
	w.mu.Unlock()
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.lines)
}

// scriptInput reports activity on the listed poll numbers (1-based).
type scriptInput struct {
	mu    sync.Mutex
	polls int
	hits  map[int]bool
	err   error
}

func (in *scriptInput) Poll(timeout time.Duration) (bool, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.polls++
	if in.err != nil {
		return false, in.err
	}
	return in.hits[in.polls], nil
}

func TestFlagTransitions(t *testing.T) {
	var f Flag
	if f.State() != Running || f.Requested() {
		t.Fatalf("zero Flag = %v", f.State())
	}
	if !f.Request() {
		t.Fatal("first Request() = false")
	}
	if f.Request() {
		t.Error("second Request() = true")
	}
	if f.State() != StopRequested || !f.Requested() {
		t.Errorf("after Request: %v", f.State())
	}
	f.Finish()
	if f.State() != Stopped || !f.Requested() {
		t.Errorf("after Finish: %v", f.State())
	}
	if f.Request() {
		t.Error("Request() after Finish = true")
	}
}

func TestFlagSingleWinner(t *testing.T) {
	var f Flag
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Request() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Errorf("winners = %d, want 1", winners.Load())
	}
}

func TestTriggerSendsOnce(t *testing.T) {
	var f Flag
	w := &recordingWriter{}

	for i := 0; i < 3; i++ {
		sent, err := Trigger(&f, w, "test")
		if err != nil {
			t.Fatal(err)
		}
		if sent != (i == 0) {
			t.Errorf("call %d sent = %v", i, sent)
		}
	}
	if w.count() != 1 || w.lines[0] != string(protocol.AbortLine) {
		t.Errorf("lines = %q", w.lines)
	}
}

func TestMonitorWritesOneAbort(t *testing.T) {
	var f Flag
	w := &recordingWriter{}
	in := &scriptInput{hits: map[int]bool{3: true, 4: true}}

	m := NewMonitor(&f, in, w, time.Millisecond)
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !f.Requested() {
		t.Error("flag not raised")
	}
	if w.count() != 1 {
		t.Errorf("abort lines = %d, want 1", w.count())
	}
	if in.polls != 3 {
		t.Errorf("polls = %d, want 3", in.polls)
	}
}

// finishingStopper completes every stop it is asked for.
type finishingStopper struct {
	flag  *Flag
	w     *recordingWriter
	calls []string
}

func (s *finishingStopper) Stop(source string) (bool, error) {
	s.calls = append(s.calls, source)
	sent, err := Trigger(s.flag, s.w, source)
	s.flag.Finish()
	return sent, err
}

// rearmingInput scripts activity and re-arms the flag on one poll.
type rearmingInput struct {
	polls   int
	hits    map[int]bool
	rearmAt int
	eofAt   int
	flag    *Flag
}

func (in *rearmingInput) Poll(timeout time.Duration) (bool, error) {
	in.polls++
	if in.polls == in.rearmAt {
		in.flag.Reset()
	}
	if in.polls >= in.eofAt {
		return false, io.EOF
	}
	return in.hits[in.polls], nil
}

func TestMonitorPersistentStopsAgainAfterRearm(t *testing.T) {
	var f Flag
	w := &recordingWriter{}
	s := &finishingStopper{flag: &f, w: w}
	in := &rearmingInput{hits: map[int]bool{2: true, 3: true, 6: true}, rearmAt: 5, eofAt: 7, flag: &f}

	m := NewMonitor(&f, in, &recordingWriter{}, time.Millisecond, WithStopper(s), Persistent())
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// poll 3 lands while stopped and is swallowed.
	if len(s.calls) != 2 || s.calls[0] != "keyboard" {
		t.Errorf("stopper calls = %q, want two keyboard stops", s.calls)
	}
	if w.count() != 2 {
		t.Errorf("abort lines = %d, want 2", w.count())
	}
	if f.State() != Stopped {
		t.Errorf("flag = %v, want stopped", f.State())
	}
}

func TestMonitorExitsWhenFlagRaisedElsewhere(t *testing.T) {
	var f Flag
	w := &recordingWriter{}
	m := NewMonitor(&f, &scriptInput{}, w, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	time.Sleep(5 * time.Millisecond)
	f.Request()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("monitor did not exit")
	}
	if w.count() != 0 {
		t.Errorf("monitor wrote %d lines, want 0", w.count())
	}
}

func TestMonitorContextAndInputEnd(t *testing.T) {
	var f Flag
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMonitor(&f, &scriptInput{}, &recordingWriter{}, 0).Run(ctx); err != nil {
		t.Errorf("Run(cancelled) = %v", err)
	}

	m := NewMonitor(&f, &scriptInput{err: io.EOF}, &recordingWriter{}, time.Millisecond)
	if err := m.Run(context.Background()); err != nil {
		t.Errorf("Run(EOF input) = %v", err)
	}
	if f.Requested() {
		t.Error("closed input raised the flag")
	}

	boom := errors.New("boom")
	m = NewMonitor(&f, &scriptInput{err: boom}, &recordingWriter{}, time.Millisecond)
	if err := m.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run(failing input) = %v", err)
	}
}

type rawRecorder struct {
	mu   sync.Mutex
	data []byte
}

func (r *rawRecorder) WriteAll(b []byte) error {
	r.mu.Lock()
	r.data = append(r.data, b...)
	r.mu.Unlock()
	return errors.New("ignored")
}

func TestGuardWritesAndExits(t *testing.T) {
	raw := &rawRecorder{}
	g := NewGuard(raw)
	codes := make(chan int, 1)
	var restored bool
	g.AtExit(func() {
		raw.mu.Lock()
		restored = len(raw.data) > 0
		raw.mu.Unlock()
	})
	g.exit = func(code int) { codes <- code }

	go g.wait()
	g.sigs <- syscall.SIGINT

	select {
	case code := <-codes:
		if code != ExitSignalled {
			t.Errorf("exit code = %d, want %d", code, ExitSignalled)
		}
	case <-time.After(time.Second):
		t.Fatal("guard did not exit")
	}
	raw.mu.Lock()
	defer raw.mu.Unlock()
	if !restored {
		t.Error("AtExit hook did not run after the abort write")
	}
	if string(raw.data) != `["STOP"]`+"\n" {
		t.Errorf("raw write = %q", raw.data)
	}
}

func TestFlagReset(t *testing.T) {
	var f Flag
	f.Request()
	if f.Reset() {
		t.Error("Reset() re-armed a pending request")
	}
	f.Finish()
	if !f.Reset() || f.State() != Running {
		t.Errorf("Reset() after Finish: state %v", f.State())
	}
	if !f.Request() {
		t.Error("Request() after Reset = false")
	}
}
