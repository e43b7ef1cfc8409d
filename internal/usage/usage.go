// Package usage tracks per-request token accounting: lock-free counters
// for live numbers plus a batched persistence backend for history.
package usage

import (
	"context"
	"time"

	log "github.com/modelgate/modelgate/internal/logging"
)

// Record is one completed (or failed) request's accounting entry.
type Record struct {
	Backend         string
	ConnectionID    string
	Model           string
	SourceFormat    string
	RequestedAt     time.Time
	Failed          bool
	Streamed        bool
	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64
	CachedTokens    int64
	TotalTokens     int64
	FirstTokenMs    int64
	DurationMs      int64
	FinishReason    string
	Estimated       bool
}

// Tracker is the fire-and-forget sink the request path reports into.
// Failures are swallowed; accounting never blocks or fails a request.
type Tracker struct {
	counters *Counters
	backend  Backend
}

func NewTracker(backend Backend) *Tracker {
	return &Tracker{counters: NewCounters(), backend: backend}
}

// Append records one request. Non-blocking.
func (t *Tracker) Append(record Record) {
	if t == nil {
		return
	}
	t.counters.Record(record.Failed, record.TotalTokens)
	if t.backend != nil {
		t.backend.Enqueue(record)
	}
}

// Snapshot returns live counter values.
func (t *Tracker) Snapshot() CounterSnapshot {
	if t == nil {
		return CounterSnapshot{}
	}
	return t.counters.Snapshot()
}

// Close flushes and stops the backend.
func (t *Tracker) Close(ctx context.Context) {
	if t == nil || t.backend == nil {
		return
	}
	if err := t.backend.Flush(ctx); err != nil {
		log.Warnf("usage: final flush failed: %v", err)
	}
	if err := t.backend.Stop(); err != nil {
		log.Warnf("usage: backend stop failed: %v", err)
	}
}
