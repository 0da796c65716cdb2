package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/AzEl/internal/ledger"
)

// MaxDegrees bounds a single move requested over HTTP.
const MaxDegrees = 3600

const maxBodyBytes = 1 << 20

// MoveRequest is the body of POST /move.
type MoveRequest struct {
	AzimuthDeg   float64 `json:"az"`
	ElevationDeg float64 `json:"el"`
	Combined     bool    `json:"combined"` // one command driving both axes
}

// ValidateMove rejects non-finite, oversized or empty requests.
func ValidateMove(req MoveRequest) error {
	for name, v := range map[string]float64{"az": req.AzimuthDeg, "el": req.ElevationDeg} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be a finite number", name)
		}
		if math.Abs(v) > MaxDegrees {
			return fmt.Errorf("%s must be within ±%d degrees", name, MaxDegrees)
		}
	}
	if req.AzimuthDeg == 0 && req.ElevationDeg == 0 {
		return errors.New("nothing to move")
	}
	return nil
}

// MoveFunc executes a move request; it is called from a goroutine.
type MoveFunc func(ctx context.Context, req MoveRequest) error

// StopFunc requests an emergency stop and reports whether this call sent it.
type StopFunc func() (bool, error)

// PositionView is the body of GET /position.
type PositionView struct {
	Steps        ledger.Position `json:"steps"`
	AzimuthDeg   float64         `json:"az_deg"`
	ElevationDeg float64         `json:"el_deg"`
	LogIndex     int             `json:"log_index"`
	Stop         string          `json:"stop"`
}

// PositionFunc returns the current cumulative position.
type PositionFunc func() PositionView

// FormConfig holds the defaults shown by the page.
type FormConfig struct {
	AzimuthDeg   float64 `json:"az"`
	ElevationDeg float64 `json:"el"`
	DelayUs      int     `json:"delay_us"`
	Report       int     `json:"report"`
	ZeroDegrees  string  `json:"zero_degrees"`
}

// Deps are the callbacks wiring the web surface to the controller.
type Deps struct {
	Broadcaster *StatusBroadcaster
	Move        MoveFunc
	Stop        StopFunc
	Position    PositionFunc
	Form        FormConfig
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	deps      Deps
	runningMu sync.Mutex
	running   bool
	staticFS  fs.FS
}

// NewHandlers creates handlers. Missing callbacks answer 503.
func NewHandlers(deps Deps, staticFS fs.FS) *Handlers {
	if deps.Broadcaster == nil {
		deps.Broadcaster = NewStatusBroadcaster()
	}
	return &Handlers{deps: deps, staticFS: staticFS}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the form defaults.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Form)
}

// HandlePosition returns the cumulative position.
func (h *Handlers) HandlePosition(w http.ResponseWriter, r *http.Request) {
	if h.deps.Position == nil {
		http.Error(w, "position not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Position())
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleMove handles POST /move. The move runs in the background; progress
// is published on the status stream.
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MoveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateMove(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.deps.Move == nil {
		http.Error(w, "moves not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "move already in progress", http.StatusConflict)
		return
	}
	h.running = true
	h.runningMu.Unlock()

	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		if err := h.deps.Move(context.Background(), req); err != nil {
			h.deps.Broadcaster.Broadcast("error", "Move failed: "+err.Error())
			log.Printf("move failed: %v", err)
		} else {
			h.deps.Broadcaster.Broadcast("info", "Move complete")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleStop handles POST /stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Stop == nil {
		http.Error(w, "stop not configured", http.StatusServiceUnavailable)
		return
	}
	sent, err := h.deps.Stop()
	if err != nil {
		http.Error(w, "stop failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	status := "already stopping"
	if sent {
		status = "stopping"
		h.deps.Broadcaster.Broadcast("warn", "Emergency stop sent")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.deps.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
