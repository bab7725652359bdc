package sentinel

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultFailedLoginThreshold is the failure count that triggers a
	// brute-force detection.
	DefaultFailedLoginThreshold = 5

	// DefaultBruteForceWindow is the sliding window the threshold applies to.
	DefaultBruteForceWindow = 60 * time.Second
)

// BruteForceDetector keeps one sliding window of failure instants per source
// IP and synthesizes a BRUTE_FORCE event when the count inside the window
// reaches the configured threshold. On emission the window is cleared, so a
// new detection requires re-accumulating the full threshold rather than
// decaying by one.
type BruteForceDetector struct {
	mu        sync.Mutex
	clock     Clock
	threshold int
	window    time.Duration
	windows   map[string][]time.Time
}

// NewBruteForceDetector builds a detector. A threshold <= 0 disables
// detection entirely; failed logins then pass through unclassified.
func NewBruteForceDetector(threshold int, window time.Duration, clock Clock) *BruteForceDetector {
	if clock == nil {
		clock = SystemClock()
	}
	return &BruteForceDetector{
		clock:     clock,
		threshold: threshold,
		window:    window,
		windows:   make(map[string][]time.Time),
	}
}

// SetLimits replaces the threshold and window, used on config hot reload.
// Existing window state is kept; the new limits apply from the next failure.
func (d *BruteForceDetector) SetLimits(threshold int, window time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = threshold
	d.window = window
}

// Classify returns the input event plus zero or one synthesized BRUTE_FORCE
// event. Only AUTH_FAILED events carrying a source IP participate; everything
// else passes through unchanged.
func (d *BruteForceDetector) Classify(ev SecurityEvent) []SecurityEvent {
	out := []SecurityEvent{ev}
	if ev.Type != EventAuthFailed || ev.IP == "" {
		return out
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.threshold <= 0 || d.window <= 0 {
		return out
	}

	now := d.clock.Now()
	kept := trimWindow(d.windows[ev.IP], now, d.window)
	kept = append(kept, now)

	if len(kept) >= d.threshold {
		bf := NewSecurityEvent(
			EventBruteForce,
			ev.IP,
			fmt.Sprintf("Brute-force detected: %d attempts in %s", len(kept), d.window),
			SeverityCritical,
			now,
		)
		// Counter reset, not sliding continuation.
		delete(d.windows, ev.IP)
		return append(out, bf)
	}

	d.windows[ev.IP] = kept
	return out
}

// Sweep purges expired instants for every tracked IP and evicts IPs whose
// windows emptied, bounding state growth from one-off failures. Called once
// per coordinator cycle.
func (d *BruteForceDetector) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	for ip, ts := range d.windows {
		kept := trimWindow(ts, now, d.window)
		if len(kept) == 0 {
			delete(d.windows, ip)
			continue
		}
		d.windows[ip] = kept
	}
}

// TrackedIPs returns the number of IPs with live window state.
func (d *BruteForceDetector) TrackedIPs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}

// trimWindow drops instants at or beyond window age. An instant exactly at
// window age is excluded; strictly younger is included.
func trimWindow(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	idx := 0
	for idx < len(ts) && now.Sub(ts[idx]) >= window {
		idx++
	}
	if idx == 0 {
		return ts
	}
	return ts[idx:]
}
