// Package trace emits a Chrome trace event file (chrome://tracing /
// Perfetto format) of the executor and service lifecycle: one
// event per script run and per service state transition, so a run's actual
// concurrency and scheduling can be inspected after the fact.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var start = time.Now()

var (
	sinkMu sync.Mutex
	sink   io.Writer = io.Discard
)

// Sink writes all following Event()s as a Chrome trace event file into w.
func Sink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
	// Start the JSON Array Format; the closing ] is optional, so it is
	// never written, matching the original's streaming-append design.
	w.Write([]byte{'['})
}

// Enable is a convenience function for creating a file in
// $TMPDIR/wireit.traces/prefix.$PID and returns it so the caller can Close
// it once tracing is done (wireit registers this with internal/atexit).
//
// The filename assumes the OS does not frequently re-use the same pid.
func Enable(prefix string) (*os.File, error) {
	fn := filepath.Join(os.TempDir(), "wireit.traces", fmt.Sprintf("%s.%d", prefix, os.Getpid()))
	if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(fn)
	if err != nil {
		return nil, err
	}
	Sink(f)
	return f, nil
}

// PendingEvent is one open Chrome trace "complete event" (ph: "X"),
// covering the timestamp it was opened at until Done is called.
type PendingEvent struct {
	Name           string      `json:"name"` // e.g. the script reference or service state transition
	Categories     string      `json:"cat"`  // event categories (comma-separated)
	Type           string      `json:"ph"`   // event type (single character)
	ClockTimestamp uint64      `json:"ts"`   // tracing clock timestamp (microsecond granularity)
	Duration       uint64      `json:"dur"`
	Pid            uint64      `json:"pid"` // 0 for Event()s (script runs); Instant's pid argument (3 for services)
	Tid            uint64      `json:"tid"` // worker-pool slot index, when applicable
	Args           interface{} `json:"args"`

	start time.Time
}

// Done closes pe, computing its duration from when Event created it, and
// appends it to the current sink.
func (pe *PendingEvent) Done() {
	pe.Duration = uint64(time.Since(pe.start) / time.Microsecond)
	b, err := json.Marshal(pe)
	if err != nil {
		panic(err)
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if _, err := sink.Write(append(b, ',')); err != nil {
		log.Printf("[trace] %v", err)
	}
}

// Event opens a new pending event named name on thread tid (e.g. a worker
// pool slot index, or 0 for events with no natural thread affinity).
func Event(name string, tid int) *PendingEvent {
	return &PendingEvent{
		Name:           name,
		Type:           "X",
		ClockTimestamp: uint64(time.Since(start) / time.Microsecond),
		Tid:            uint64(tid),
		start:          time.Now(),
	}
}

// Instant records a zero-duration event (ph: "i"), used for service state
// transitions rather than durations.
func Instant(name string, pid uint64, args interface{}) {
	ev := &PendingEvent{
		Name:           name,
		Type:           "i",
		ClockTimestamp: uint64(time.Since(start) / time.Microsecond),
		Pid:            pid,
		Args:           args,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		panic(err)
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if _, err := sink.Write(append(b, ',')); err != nil {
		log.Printf("[trace] %v", err)
	}
}
