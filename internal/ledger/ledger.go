// Package ledger rebuilds and tracks the cumulative position of both axes
// from the rotating status log.
package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cjeanneret/AzEl/internal/debug"
)

// Header is the first row of every fresh log file.
const Header = "timestamp_us,az,el"

// Position is a cumulative step count per axis.
type Position struct {
	Az int64 `json:"az"`
	El int64 `json:"el"`
}

// Add returns p + o.
func (p Position) Add(o Position) Position {
	return Position{Az: p.Az + o.Az, El: p.El + o.El}
}

// State is what survives a restart: the log index to continue with and the
// last logged position, used as offset for the new device session.
type State struct {
	Index   int
	Offset  Position
	Skipped int // rows that could not be parsed
}

// Apply converts a device-reported position into a cumulative one.
func (s State) Apply(device Position) Position {
	return s.Offset.Add(device)
}

// RecoveryParseError describes a log row skipped during recovery.
type RecoveryParseError struct {
	Path string
	Line int
	Text string
	Err  error
}

func (e *RecoveryParseError) Error() string {
	return fmt.Sprintf("%s:%d: skipped %q: %v", e.Path, e.Line, e.Text, e.Err)
}

func (e *RecoveryParseError) Unwrap() error { return e.Err }

var (
	errFieldCount = errors.New("want timestamp,az,el")
	errPartial    = errors.New("partial line")
)

// Recover scans the log directory, picks the highest index and returns the
// last parsable position it holds. A missing directory or an empty family
// yields the zero State.
func Recover(n Naming) (State, error) {
	entries, err := os.ReadDir(n.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("scan log dir: %w", err)
	}

	best := -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, ok := n.Index(e.Name()); ok && idx > best {
			best = idx
		}
	}
	if best < 0 {
		debug.Verbose("No log in %s, starting at zero", n.Dir)
		return State{}, nil
	}

	path := n.Path(best)
	if _, err := os.Stat(path); err != nil {
		// Only the "<Base>_0" spelling of index 0 exists.
		path = strings.TrimSuffix(path, n.Ext) + "_0" + n.Ext
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, fmt.Errorf("read log: %w", err)
	}

	st := State{Index: best}
	rows := bytes.Split(data, []byte{'\n'})
	for i, row := range rows {
		text := strings.TrimSpace(string(row))
		if text == "" || text == Header {
			continue
		}
		pos, single, err := parseRow(text)
		if err != nil {
			if i == len(rows)-1 {
				// Unterminated and unparsable: a write cut short.
				err = errPartial
			}
			st.skip(&RecoveryParseError{Path: path, Line: i + 1, Text: text, Err: err})
			continue
		}
		if single {
			pos.El = st.Offset.El
		}
		st.Offset = pos
	}

	debug.Info("Resumed from %s: index %d, az=%d el=%d (%d rows skipped)", path, st.Index, st.Offset.Az, st.Offset.El, st.Skipped)
	return st, nil
}

func (s *State) skip(err *RecoveryParseError) {
	s.Skipped++
	debug.Verbose("Recovery: %v", err)
}

// parseRow reads "timestamp,az,el". A legacy single-counter row
// "timestamp,pos" is reported with single set and the value in Az.
func parseRow(text string) (Position, bool, error) {
	fields := strings.Split(text, ",")
	if len(fields) != 2 && len(fields) != 3 {
		return Position{}, false, errFieldCount
	}
	vals := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return Position{}, false, err
		}
		vals[i] = v
	}
	if len(vals) == 2 {
		return Position{Az: vals[1]}, true, nil
	}
	return Position{Az: vals[1], El: vals[2]}, false, nil
}

// Ledger is the live, concurrency-safe view of the cumulative position.
type Ledger struct {
	mu    sync.RWMutex
	state State
	last  Position
}

// New starts a ledger from a recovered state.
func New(st State) *Ledger {
	return &Ledger{state: st, last: st.Offset}
}

// Apply converts a device-reported position into a cumulative one.
func (l *Ledger) Apply(device Position) Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Apply(device)
}

// Update remembers the last logged cumulative position.
func (l *Ledger) Update(pos Position) {
	l.mu.Lock()
	l.last = pos
	l.mu.Unlock()
}

// Position returns the last known cumulative position.
func (l *Ledger) Position() Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}

// State returns the recovered state.
func (l *Ledger) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}
