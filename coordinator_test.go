package sentinel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type scriptedSource struct {
	batches [][]RawEvent
	err     error
}

func (s *scriptedSource) Drain(_ context.Context) ([]RawEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

type recordingSender struct {
	ch chan *AlertPayload
}

func (s *recordingSender) Name() string { return "record" }

func (s *recordingSender) Send(_ context.Context, payload *AlertPayload) error {
	s.ch <- payload
	return nil
}

func failedLoginBatch(ip string, n int) []RawEvent {
	batch := make([]RawEvent, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, RawEvent{
			Topic: TopicLoginInvalid,
			Data:  map[string]string{"remote_addr": ip},
		})
	}
	return batch
}

func newTestCoordinator(clock *fakeClock, source RawEventSource, alerts *NotificationRegistry) (*Coordinator, *MemoryEventStore) {
	store := NewMemoryEventStore(100)
	provider := &fakeProvider{name: "primary", rec: &GeoRecord{Country: "Germany", City: "Berlin"}}
	c := NewCoordinator(CoordinatorOptions{
		Interval: time.Minute,
		Clock:    clock,
		Logger:   zerolog.Nop(),
		Source:   source,
		Monitor:  NewEventMonitor(nil, clock, zerolog.Nop()),
		Detector: NewBruteForceDetector(5, time.Minute, clock),
		Enricher: newTestEnricher(clock, provider),
		History:  NewEventHistory(100),
		Store:    store,
		Bus:      NewLogBusPublisher(zerolog.Nop()),
		Alerts:   alerts,
	})
	return c, store
}

func TestCycleDetectsEnrichesAndPublishes(t *testing.T) {
	clock := newFakeClock()
	source := &scriptedSource{batches: [][]RawEvent{failedLoginBatch("203.0.113.7", 5)}}

	alerts := NewNotificationRegistry(zerolog.Nop())
	rec := &recordingSender{ch: make(chan *AlertPayload, 16)}
	alerts.Register(rec)

	c, store := newTestCoordinator(clock, source, alerts)
	c.Cycle(context.Background())

	snap := c.Snapshot()
	// Five external failures (high, 5 each) plus one brute-force (critical, 10).
	if snap.Score != 35 {
		t.Fatalf("expected score 35, got %d", snap.Score)
	}
	if snap.Level != SeverityCritical {
		t.Fatalf("expected critical level, got %s", snap.Level)
	}
	if snap.TotalEvents != 6 {
		t.Fatalf("expected 6 retained events, got %d", snap.TotalEvents)
	}
	if snap.Events[0].Type != EventBruteForce {
		t.Fatalf("expected brute-force newest, got %s", snap.Events[0].Type)
	}
	for _, ev := range snap.Events {
		if ev.Geo == nil || ev.Geo.City != "Berlin" {
			t.Fatalf("expected every event enriched, got %+v", ev.Geo)
		}
	}

	if store.Len() != 6 {
		t.Fatalf("expected 6 persisted events, got %d", store.Len())
	}

	// Every event is at or above the high threshold, so six alerts fire.
	for i := 0; i < 6; i++ {
		select {
		case <-rec.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for alert %d", i+1)
		}
	}
}

func TestCycleAlertsRespectThreshold(t *testing.T) {
	clock := newFakeClock()
	// A single internal failure grades medium: below the alert threshold.
	source := &scriptedSource{batches: [][]RawEvent{failedLoginBatch("192.168.1.20", 1)}}

	alerts := NewNotificationRegistry(zerolog.Nop())
	rec := &recordingSender{ch: make(chan *AlertPayload, 4)}
	alerts.Register(rec)

	c, _ := newTestCoordinator(clock, source, alerts)
	c.Cycle(context.Background())

	select {
	case payload := <-rec.ch:
		t.Fatalf("expected no alert below threshold, got %+v", payload)
	case <-time.After(100 * time.Millisecond):
	}

	if snap := c.Snapshot(); snap.TotalEvents != 1 {
		t.Fatalf("expected event retained anyway, got %d", snap.TotalEvents)
	}
}

func TestCycleSourceFailureIsEmptyBatch(t *testing.T) {
	clock := newFakeClock()
	source := &scriptedSource{err: errors.New("bus unavailable")}

	c, store := newTestCoordinator(clock, source, nil)
	c.Cycle(context.Background())

	snap := c.Snapshot()
	if snap.Score != 0 || snap.TotalEvents != 0 {
		t.Fatalf("expected quiet snapshot on source failure, got %+v", snap)
	}
	if snap.GeneratedAt.IsZero() {
		t.Fatal("expected snapshot published despite source failure")
	}
	if store.Len() != 0 {
		t.Fatalf("expected nothing persisted, got %d", store.Len())
	}
}

func TestCycleAccumulatesAcrossCycles(t *testing.T) {
	clock := newFakeClock()
	source := &scriptedSource{batches: [][]RawEvent{
		failedLoginBatch("203.0.113.7", 2),
		failedLoginBatch("203.0.113.7", 2),
	}}

	c, _ := newTestCoordinator(clock, source, nil)
	c.Cycle(context.Background())
	clock.advance(10 * time.Second)
	c.Cycle(context.Background())

	snap := c.Snapshot()
	if snap.TotalEvents != 4 {
		t.Fatalf("expected history to accumulate, got %d", snap.TotalEvents)
	}
	if c.LastCycle() != snap.GeneratedAt {
		t.Fatalf("expected last cycle stamp to match snapshot")
	}
}

func TestRunGuardedSkipsOverlappingTick(t *testing.T) {
	clock := newFakeClock()
	c, store := newTestCoordinator(clock, &scriptedSource{batches: [][]RawEvent{failedLoginBatch("203.0.113.7", 1)}}, nil)

	c.inFlight.Store(true)
	c.runGuarded(context.Background())
	if store.Len() != 0 {
		t.Fatal("expected overlapping tick skipped")
	}

	c.inFlight.Store(false)
	c.runGuarded(context.Background())
	if store.Len() != 1 {
		t.Fatalf("expected cycle to run once unblocked, got %d events", store.Len())
	}
}
