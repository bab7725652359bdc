package sentinel

import (
	"fmt"
	"testing"
	"time"
)

func TestHistoryCapDropsOldest(t *testing.T) {
	h := NewEventHistory(3)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		h.Append(NewSecurityEvent(EventAuthFailed, "203.0.113.7", fmt.Sprintf("attempt %d", i), SeverityMedium, now))
	}

	if h.Len() != 3 {
		t.Fatalf("expected 3 retained events, got %d", h.Len())
	}
	snap := h.Snapshot()
	if snap[0].Detail != "attempt 4" {
		t.Fatalf("expected newest first, got %q", snap[0].Detail)
	}
	if snap[2].Detail != "attempt 2" {
		t.Fatalf("expected oldest retained last, got %q", snap[2].Detail)
	}
}

func TestHistorySnapshotIsACopy(t *testing.T) {
	h := NewEventHistory(10)
	now := time.Now()
	h.Append(NewSecurityEvent(EventNewDevice, "", "New device registered: abc", SeverityLow, now))

	snap := h.Snapshot()
	snap[0].Detail = "mutated"

	if h.Snapshot()[0].Detail != "New device registered: abc" {
		t.Fatal("snapshot mutation leaked into history")
	}
}

func TestHistoryCapWithScoring(t *testing.T) {
	h := NewEventHistory(3)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, sev := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		h.Append(NewSecurityEvent(EventAuthFailed, "203.0.113.7", string(sev), sev, now))
	}

	snap := ThreatScorer{}.Score(h.Snapshot(), now)
	// The low event fell off the cap: 2 + 5 + 10.
	if snap.Score != 17 {
		t.Fatalf("expected score 17 over retained events, got %d", snap.Score)
	}
	if snap.Level != SeverityHigh {
		t.Fatalf("expected high level, got %s", snap.Level)
	}
	if snap.Events[len(snap.Events)-1].Severity != SeverityMedium {
		t.Fatalf("expected medium oldest retained, got %s", snap.Events[len(snap.Events)-1].Severity)
	}
}

func TestHistoryDefaultsCap(t *testing.T) {
	h := NewEventHistory(0)
	now := time.Now()
	for i := 0; i < DefaultMaxEvents+50; i++ {
		h.Append(NewSecurityEvent(EventAuthFailed, "203.0.113.7", "x", SeverityLow, now))
	}
	if h.Len() != DefaultMaxEvents {
		t.Fatalf("expected default cap %d, got %d", DefaultMaxEvents, h.Len())
	}
}
