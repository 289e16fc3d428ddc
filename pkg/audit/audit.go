// Package audit records every outbound request made by the pipeline. Entries
// are append-only and are never read back by the pipeline itself.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var auditErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offers_audit_errors_total",
	Help: "Total audit entries that could not be written, by sink",
}, []string{"sink"})

// Entry is one outbound call.
type Entry struct {
	Timestamp time.Time     `json:"ts"`
	RunID     string        `json:"run_id,omitempty"`
	Partition string        `json:"partition"`
	Offset    int           `json:"offset"`
	Limit     int           `json:"limit"`
	Attempt   int           `json:"attempt"`
	Status    int           `json:"status"`
	Returned  int           `json:"returned"`
	Total     int           `json:"total"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Recorder appends entries to an audit sink. Implementations must be safe for
// concurrent use and must not fail the caller: write errors are absorbed.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Nop discards entries.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Entry) {}

// Multi fans an entry out to several recorders in order.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(ctx context.Context, e Entry) {
	for _, r := range m {
		r.Record(ctx, e)
	}
}

// Memory keeps entries in memory. Used by tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// Record implements Recorder.
func (m *Memory) Record(_ context.Context, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

// Entries returns a copy of the recorded entries.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ForPartition returns the entries for one partition key.
func (m *Memory) ForPartition(key string) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Partition == key {
			out = append(out, e)
		}
	}
	return out
}

type runIDKey struct{}

// WithRunID attaches a run identifier to ctx; sinks stamp it on entries that
// do not carry one.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run identifier attached to ctx, if any.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

func stamp(ctx context.Context, e Entry) Entry {
	if e.RunID == "" {
		e.RunID = RunIDFromContext(ctx)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	return e
}
