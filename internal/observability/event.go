// Package observability emits stage transition events to logs, metrics, the
// run database and the terminal.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/stage"
)

// Event is emitted on every stage transition.
type Event struct {
	RunID      string       `json:"runId"`
	Pipeline   string       `json:"pipeline,omitempty"`
	StageID    string       `json:"stageId"`
	Status     stage.Status `json:"status"`
	DurationMs int64        `json:"durationMs"`
	Attempt    int          `json:"attempt"`
	ErrorKind  fault.Kind   `json:"errorKind,omitempty"`
	Message    string       `json:"message,omitempty"`
	Restored   bool         `json:"restored,omitempty"`
	Degraded   bool         `json:"degraded,omitempty"`
	Time       time.Time    `json:"time"`
}

// Sink receives events. Emit must not block for long and must not fail the
// run; implementations log their own errors.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

type multi []Sink

func (m multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ForStage returns the recorded events of one stage of one run.
func (r *Recorder) ForStage(runID, stageID string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.RunID == runID && e.StageID == stageID {
			out = append(out, e)
		}
	}
	return out
}
