package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/AzEl/internal/ledger"
	"github.com/cjeanneret/AzEl/internal/logic/motion"
)

// Event kinds.
const (
	KindLog    = "log"
	KindStatus = "status"
	KindMove   = "move"
)

// StatusEvent is one SSE message.
type StatusEvent struct {
	Time     string           `json:"t"`
	Kind     string           `json:"kind"`
	Level    string           `json:"l,omitempty"`
	Msg      string           `json:"msg,omitempty"`
	Pos      *ledger.Position `json:"pos,omitempty"`
	Seen     int              `json:"seen,omitempty"`
	Expected int              `json:"expected,omitempty"`
	Move     *motion.Result   `json:"move,omitempty"`
}

// StatusBroadcaster fans events out to SSE clients. It also implements
// motion.Observer so live positions reach the browser.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	now     func() time.Time
}

func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel of JSON events and its cleanup function.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish sends evt to every client. Slow clients miss events.
func (b *StatusBroadcaster) Publish(evt StatusEvent) {
	evt.Time = b.now().Format(time.RFC3339Nano)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Broadcast sends a log line.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.Publish(StatusEvent{Kind: KindLog, Level: level, Msg: msg})
}

func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

func (b *StatusBroadcaster) OnStatus(pos ledger.Position, seen, expected int) {
	b.Publish(StatusEvent{Kind: KindStatus, Pos: &pos, Seen: seen, Expected: expected})
}

func (b *StatusBroadcaster) OnMove(r motion.Result) {
	b.Publish(StatusEvent{Kind: KindMove, Pos: &r.Final, Seen: r.Seen, Expected: r.Expected, Move: &r})
}

// BroadcastWriter turns the broadcaster into an io.Writer for the debug log.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			w.b.BroadcastMsg(line)
		}
	}
	return len(p), nil
}
