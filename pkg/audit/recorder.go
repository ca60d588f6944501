package audit

import (
	"context"
	"sync"
	"time"
)

// Recorder persists security events. Implementations must be safe for
// concurrent use; a Record failure must not abort the operation being
// audited, only be surfaced to the caller for counting.
type Recorder interface {
	Record(ctx context.Context, event *SecurityEvent) error
	Close() error
}

// MemoryRecorder keeps events in a bounded ring buffer. It backs tests
// and single-instance deployments without a log path configured.
type MemoryRecorder struct {
	mu     sync.RWMutex
	events []*SecurityEvent
	max    int
}

// NewMemoryRecorder creates a recorder retaining at most max events,
// dropping the oldest first
func NewMemoryRecorder(max int) *MemoryRecorder {
	if max <= 0 {
		max = 1024
	}
	return &MemoryRecorder{max: max}
}

// Record appends the event, stamping it if the caller did not
func (r *MemoryRecorder) Record(ctx context.Context, event *SecurityEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if len(r.events) > r.max {
		r.events = r.events[len(r.events)-r.max:]
	}
	return nil
}

// Events returns a snapshot of the recorded events, oldest first
func (r *MemoryRecorder) Events() []*SecurityEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SecurityEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Close drops the retained events
func (r *MemoryRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	return nil
}

// NopRecorder discards all events
type NopRecorder struct{}

// Record discards the event
func (NopRecorder) Record(ctx context.Context, event *SecurityEvent) error { return nil }

// Close is a no-op
func (NopRecorder) Close() error { return nil }
