// Package audit records one-row-per-dispatch audit entries: thread id,
// listener, outcome, timestamp. It never persists message content — the
// core's non-goal against durable message-history persistence binds
// full payloads, not an operational audit trail.
package audit

import (
	"context"
	"time"
)

// Record is a single dispatch decision, independent of payload content.
type Record struct {
	ThreadID  string
	Listener  string
	Outcome   string // "forward" | "self-iterate" | "respond" | "terminate" | "error" | "timeout" | "budget" | "routing-error" | "routing-rejected"
	Timestamp time.Time
}

// Sink accepts dispatch records. Implementations must not block the pump
// for long; Record should enqueue or fire-and-forget internally.
type Sink interface {
	Record(ctx context.Context, r Record)
}

// NoopSink discards every record; it is the default when no audit DSN
// is configured.
type NoopSink struct{}

func (NoopSink) Record(context.Context, Record) {}

var _ Sink = NoopSink{}
