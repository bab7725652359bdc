package sentinel

// DefaultMaxEvents caps the retained event history.
const DefaultMaxEvents = 500

// EventHistory is the append-only, bounded event history owned by the
// coordinator. Oldest events are evicted once the cap is exceeded. It is
// mutated only by the coordinating task; readers go through the published
// snapshot instead.
type EventHistory struct {
	max    int
	events []SecurityEvent
}

// NewEventHistory builds a history capped at max events; max <= 0 falls back
// to DefaultMaxEvents.
func NewEventHistory(max int) *EventHistory {
	if max <= 0 {
		max = DefaultMaxEvents
	}
	return &EventHistory{max: max}
}

// Append adds a batch oldest-first and truncates to the cap, dropping the
// oldest retained events first.
func (h *EventHistory) Append(batch ...SecurityEvent) {
	h.events = append(h.events, batch...)
	if overflow := len(h.events) - h.max; overflow > 0 {
		h.events = append(h.events[:0:0], h.events[overflow:]...)
	}
}

// Snapshot returns a most-recent-first copy of the retained events.
func (h *EventHistory) Snapshot() []SecurityEvent {
	out := make([]SecurityEvent, len(h.events))
	for i, ev := range h.events {
		out[len(h.events)-1-i] = ev
	}
	return out
}

// Len returns the number of retained events.
func (h *EventHistory) Len() int { return len(h.events) }
