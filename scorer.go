package sentinel

import "time"

// threatThresholds map a score to its level, highest first. Lower bounds are
// inclusive: 0-3 low, 4-9 medium, 10-19 high, >=20 critical.
var threatThresholds = []struct {
	min   int
	level Severity
}{
	{20, SeverityCritical},
	{10, SeverityHigh},
	{4, SeverityMedium},
	{0, SeverityLow},
}

// ThreatScorer aggregates severity-weighted events into a discrete threat
// level. It is a pure function of the retained history; no side state.
type ThreatScorer struct{}

// Score sums per-event severity weights over events and derives the level.
// events must already be most-recent-first; the snapshot reuses the slice.
func (ThreatScorer) Score(events []SecurityEvent, now time.Time) ThreatSnapshot {
	score := 0
	for _, ev := range events {
		score += ev.Severity.Weight()
	}
	return ThreatSnapshot{
		Score:       score,
		Level:       LevelForScore(score),
		Events:      events,
		TotalEvents: len(events),
		GeneratedAt: now.UTC(),
	}
}

// LevelForScore maps a non-negative score to a threat level.
func LevelForScore(score int) Severity {
	for _, t := range threatThresholds {
		if score >= t.min {
			return t.level
		}
	}
	return SeverityLow
}
