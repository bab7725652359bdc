package sentinel

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func authFailed(ip string, now time.Time) SecurityEvent {
	return NewSecurityEvent(EventAuthFailed, ip, "Failed login attempt", SeverityMedium, now)
}

func TestBruteForceTriggersAtThreshold(t *testing.T) {
	clock := newFakeClock()
	d := NewBruteForceDetector(5, time.Minute, clock)

	for i := 0; i < 4; i++ {
		out := d.Classify(authFailed("203.0.113.7", clock.Now()))
		if len(out) != 1 {
			t.Fatalf("failure %d: expected pass-through only, got %d events", i+1, len(out))
		}
		clock.advance(5 * time.Second)
	}

	out := d.Classify(authFailed("203.0.113.7", clock.Now()))
	if len(out) != 2 {
		t.Fatalf("expected pass-through plus detection, got %d events", len(out))
	}
	bf := out[1]
	if bf.Type != EventBruteForce {
		t.Fatalf("expected BRUTE_FORCE, got %s", bf.Type)
	}
	if bf.Severity != SeverityCritical {
		t.Fatalf("expected critical severity, got %s", bf.Severity)
	}
	if bf.IP != "203.0.113.7" {
		t.Fatalf("expected offending IP on detection, got %q", bf.IP)
	}
	if d.TrackedIPs() != 0 {
		t.Fatalf("expected window cleared after detection, still tracking %d IPs", d.TrackedIPs())
	}
}

func TestBruteForceWindowBoundaryExcluded(t *testing.T) {
	clock := newFakeClock()
	d := NewBruteForceDetector(5, time.Minute, clock)

	// Four failures, then wait until the first is exactly one window old.
	// It must no longer count, so the fifth failure does not trigger.
	for i := 0; i < 4; i++ {
		d.Classify(authFailed("198.51.100.9", clock.Now()))
	}
	clock.advance(time.Minute)

	out := d.Classify(authFailed("198.51.100.9", clock.Now()))
	if len(out) != 1 {
		t.Fatalf("expected no detection with expired failures, got %d events", len(out))
	}
}

func TestBruteForceRequiresFullReaccumulation(t *testing.T) {
	clock := newFakeClock()
	d := NewBruteForceDetector(5, time.Minute, clock)

	for i := 0; i < 5; i++ {
		d.Classify(authFailed("203.0.113.7", clock.Now()))
	}

	// After a detection the counter resets: four more failures inside the
	// window stay silent, the fifth triggers again.
	for i := 0; i < 4; i++ {
		clock.advance(time.Second)
		out := d.Classify(authFailed("203.0.113.7", clock.Now()))
		if len(out) != 1 {
			t.Fatalf("failure %d after reset: expected no detection, got %d events", i+1, len(out))
		}
	}
	clock.advance(time.Second)
	out := d.Classify(authFailed("203.0.113.7", clock.Now()))
	if len(out) != 2 {
		t.Fatalf("expected second detection after full reaccumulation, got %d events", len(out))
	}
}

func TestBruteForceTracksIPsIndependently(t *testing.T) {
	clock := newFakeClock()
	d := NewBruteForceDetector(3, time.Minute, clock)

	d.Classify(authFailed("203.0.113.7", clock.Now()))
	d.Classify(authFailed("198.51.100.9", clock.Now()))
	d.Classify(authFailed("203.0.113.7", clock.Now()))
	d.Classify(authFailed("198.51.100.9", clock.Now()))

	out := d.Classify(authFailed("203.0.113.7", clock.Now()))
	if len(out) != 2 {
		t.Fatalf("expected detection for first IP, got %d events", len(out))
	}
	if d.TrackedIPs() != 1 {
		t.Fatalf("expected second IP still tracked, tracking %d", d.TrackedIPs())
	}
}

func TestBruteForceDisabledThreshold(t *testing.T) {
	clock := newFakeClock()
	d := NewBruteForceDetector(0, time.Minute, clock)

	for i := 0; i < 20; i++ {
		out := d.Classify(authFailed("203.0.113.7", clock.Now()))
		if len(out) != 1 {
			t.Fatalf("expected detection disabled, got %d events", len(out))
		}
	}
	if d.TrackedIPs() != 0 {
		t.Fatalf("disabled detector should not track state, tracking %d", d.TrackedIPs())
	}
}

func TestNonAuthEventsPassThrough(t *testing.T) {
	clock := newFakeClock()
	d := NewBruteForceDetector(1, time.Minute, clock)

	ev := NewSecurityEvent(EventNewDevice, "", "New device registered: abc", SeverityLow, clock.Now())
	out := d.Classify(ev)
	if len(out) != 1 || out[0].Type != EventNewDevice {
		t.Fatalf("expected pass-through for non-auth event, got %+v", out)
	}

	// Auth events without a source IP cannot be attributed.
	out = d.Classify(NewSecurityEvent(EventAuthFailed, "", "Failed login attempt", SeverityMedium, clock.Now()))
	if len(out) != 1 {
		t.Fatalf("expected no detection without IP, got %d events", len(out))
	}
}

func TestSweepEvictsExpiredWindows(t *testing.T) {
	clock := newFakeClock()
	d := NewBruteForceDetector(5, time.Minute, clock)

	d.Classify(authFailed("203.0.113.7", clock.Now()))
	d.Classify(authFailed("198.51.100.9", clock.Now()))
	if d.TrackedIPs() != 2 {
		t.Fatalf("expected 2 tracked IPs, got %d", d.TrackedIPs())
	}

	clock.advance(2 * time.Minute)
	d.Sweep()
	if d.TrackedIPs() != 0 {
		t.Fatalf("expected sweep to evict idle IPs, tracking %d", d.TrackedIPs())
	}
}

func TestSetLimitsAppliesOnNextFailure(t *testing.T) {
	clock := newFakeClock()
	d := NewBruteForceDetector(10, time.Minute, clock)

	d.Classify(authFailed("203.0.113.7", clock.Now()))
	d.SetLimits(2, time.Minute)

	out := d.Classify(authFailed("203.0.113.7", clock.Now()))
	if len(out) != 2 {
		t.Fatalf("expected detection under lowered threshold, got %d events", len(out))
	}
}
