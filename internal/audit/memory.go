package audit

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the in-memory log when no capacity is given.
const DefaultCapacity = 10000

// MemoryLogger keeps the most recent events in a bounded ring. Safe for
// concurrent use.
type MemoryLogger struct {
	mu     sync.RWMutex
	ring   []Event
	next   int
	full   bool
	now    func() time.Time
	nextID func() string
}

var _ Logger = (*MemoryLogger)(nil)

// NewMemoryLogger returns a logger holding at most capacity events.
// Non-positive capacity means DefaultCapacity.
func NewMemoryLogger(capacity int) *MemoryLogger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryLogger{
		ring:   make([]Event, capacity),
		now:    func() time.Time { return time.Now().UTC() },
		nextID: func() string { return uuid.NewString() },
	}
}

// Log stores a copy of event, filling ID and Timestamp when unset.
func (m *MemoryLogger) Log(_ context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = m.nextID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}
	stored := *event
	stored.Fields = slices.Clone(event.Fields)

	m.ring[m.next] = stored
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *MemoryLogger) List(_ context.Context, opts ListOptions) ([]*Event, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset := max(opts.Offset, 0)

	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.next
	if m.full {
		size = len(m.ring)
	}
	out := []*Event{}
	total := 0
	// Walk newest to oldest.
	for i := 0; i < size; i++ {
		idx := (m.next - 1 - i + len(m.ring)) % len(m.ring)
		e := m.ring[idx]
		if opts.Action != "" && e.Action != opts.Action {
			continue
		}
		if opts.Username != "" && e.Username != opts.Username {
			continue
		}
		total++
		if total <= offset || len(out) >= limit {
			continue
		}
		c := e
		c.Fields = slices.Clone(e.Fields)
		out = append(out, &c)
	}
	return out, total, nil
}
