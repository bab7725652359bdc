package sentinel

import (
	"context"
	"sync"
	"time"
)

// MemoryEventStore is the default EventStore: a mutex-guarded in-memory ring
// capped at max events. Suitable for single-process deployments that do not
// need history across restarts.
type MemoryEventStore struct {
	mu     sync.RWMutex
	max    int
	events []SecurityEvent
}

// NewMemoryEventStore builds a store capped at max events; max <= 0 falls
// back to DefaultMaxEvents.
func NewMemoryEventStore(max int) *MemoryEventStore {
	if max <= 0 {
		max = DefaultMaxEvents
	}
	return &MemoryEventStore{max: max}
}

func (s *MemoryEventStore) Add(_ context.Context, ev SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if overflow := len(s.events) - s.max; overflow > 0 {
		s.events = append(s.events[:0:0], s.events[overflow:]...)
	}
	return nil
}

// All returns up to limit events, most recent first. limit <= 0 means all
// retained events.
func (s *MemoryEventStore) All(_ context.Context, limit int) ([]SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, time.Time{}), nil
}

// Recent returns up to limit events observed at or after since, most recent
// first.
func (s *MemoryEventStore) Recent(_ context.Context, since time.Time, limit int) ([]SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, since), nil
}

func (s *MemoryEventStore) collect(limit int, since time.Time) []SecurityEvent {
	out := make([]SecurityEvent, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if !since.IsZero() && ev.Timestamp.Before(since) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *MemoryEventStore) CountByType(_ context.Context, t EventType, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, ev := range s.events {
		if ev.Type != t {
			continue
		}
		if !since.IsZero() && ev.Timestamp.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

// Last returns the most recently added event, or nil if the store is empty.
func (s *MemoryEventStore) Last(_ context.Context) (*SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return nil, nil
	}
	ev := s.events[len(s.events)-1]
	return &ev, nil
}

func (s *MemoryEventStore) HealthCheck(_ context.Context) error { return nil }

func (s *MemoryEventStore) Close() error { return nil }

// Len returns the number of retained events.
func (s *MemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
