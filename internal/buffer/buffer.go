// Package buffer holds records between the pollers that produce them and
// the inserter that persists them.
package buffer

import (
	"sync"

	"tag_ingester/internal/domain"
)

// WorkBuffer is an unordered collection of records awaiting persistence.
// All access to the pending slice happens under mu.
type WorkBuffer struct {
	mu         sync.Mutex
	pending    []domain.Record
	maxPending int
}

// New creates an empty buffer. maxPending bounds how many records Requeue
// may keep; zero means unbounded.
func New(maxPending int) *WorkBuffer {
	return &WorkBuffer{maxPending: maxPending}
}

// Append adds records to the buffer. Safe for concurrent use.
func (b *WorkBuffer) Append(records ...domain.Record) {
	if len(records) == 0 {
		return
	}

	b.mu.Lock()
	b.pending = append(b.pending, records...)
	b.mu.Unlock()
}

// DrainAll returns every record appended since the previous drain and
// leaves the buffer empty. An empty buffer yields nil.
func (b *WorkBuffer) DrainAll() []domain.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	drained := b.pending
	b.pending = nil
	return drained
}

// Requeue puts a batch that failed to persist back into the buffer, ahead
// of records appended since it was drained. When the result would exceed
// maxPending the oldest requeued records are dropped; the number dropped
// is returned.
func (b *WorkBuffer) Requeue(records []domain.Record) int {
	if len(records) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	if b.maxPending > 0 {
		room := b.maxPending - len(b.pending)
		if room < 0 {
			room = 0
		}
		if len(records) > room {
			dropped = len(records) - room
			records = records[dropped:]
		}
	}

	merged := make([]domain.Record, 0, len(records)+len(b.pending))
	merged = append(merged, records...)
	merged = append(merged, b.pending...)
	b.pending = merged

	return dropped
}

// Len returns the number of records currently pending.
func (b *WorkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
