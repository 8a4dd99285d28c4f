package sinks

import (
	"context"
	"sync"

	"github.com/avncodex/indexer/internal/progress"
)

// RingSink retains the most recent progress events in memory so the API can
// serve a live activity feed without a durable store.
type RingSink struct {
	mu     sync.RWMutex
	buf    []progress.Event
	next   int
	filled bool
}

// NewRingSink builds a ring holding up to capacity events (default 256).
func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = 256
	}
	return &RingSink{buf: make([]progress.Event, capacity)}
}

// Consume appends the batch, evicting the oldest events once full.
func (s *RingSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.buf[s.next] = evt
		s.next++
		if s.next == len(s.buf) {
			s.next = 0
			s.filled = true
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *RingSink) Close(context.Context) error {
	return nil
}

// Snapshot returns the retained events oldest-first.
func (s *RingSink) Snapshot() []progress.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.filled {
		return append([]progress.Event(nil), s.buf[:s.next]...)
	}
	out := make([]progress.Event, 0, len(s.buf))
	out = append(out, s.buf[s.next:]...)
	out = append(out, s.buf[:s.next]...)
	return out
}
