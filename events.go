package sentinel

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of security event.
type EventType string

const (
	EventAuthFailed        EventType = "AUTH_FAILED"
	EventBruteForce        EventType = "BRUTE_FORCE"
	EventNewDevice         EventType = "NEW_DEVICE"
	EventSuspiciousService EventType = "SUSPICIOUS_SERVICE"
	EventExternalAccess    EventType = "EXTERNAL_ACCESS"
)

// Severity grades an event. The zero value is not valid; use SeverityLow.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityWeights maps each severity to its threat-score contribution.
var severityWeights = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     5,
	SeverityCritical: 10,
}

// Weight returns the threat-score contribution of s. Unknown severities
// weigh the same as low.
func (s Severity) Weight() int {
	if w, ok := severityWeights[s]; ok {
		return w
	}
	return severityWeights[SeverityLow]
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Weight() >= min.Weight()
}

// GeoRecord holds geolocation data for a source IP. Fields a provider does
// not supply stay empty and are omitted from JSON.
type GeoRecord struct {
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Region      string  `json:"region,omitempty"`
	City        string  `json:"city,omitempty"`
	Org         string  `json:"org,omitempty"`
	ISP         string  `json:"isp,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
}

// LocalGeoRecord is returned for private, loopback, and otherwise
// non-routable source addresses. Never cached and never looked up remotely.
func LocalGeoRecord() GeoRecord {
	return GeoRecord{
		Country:     "Local",
		CountryCode: "LO",
		City:        "Local Network",
		Org:         "Local",
	}
}

// UnknownGeoRecord is returned when every provider in the fallback chain
// failed. It is cached so a failing provider is not hammered within the TTL.
func UnknownGeoRecord() GeoRecord {
	return GeoRecord{
		Country:     "Unknown",
		CountryCode: "??",
		City:        "Unknown",
		Org:         "Unknown",
	}
}

// SecurityEvent is a single security-relevant observation. Events are
// immutable once enriched; Geo is attached exactly once.
type SecurityEvent struct {
	ID        string     `json:"id"`
	Type      EventType  `json:"event_type"`
	IP        string     `json:"ip,omitempty"`
	Severity  Severity   `json:"severity"`
	Detail    string     `json:"detail"`
	Timestamp time.Time  `json:"timestamp"`
	Geo       *GeoRecord `json:"geo,omitempty"`
}

// NewSecurityEvent stamps a fresh event with an ID and creation time.
func NewSecurityEvent(t EventType, ip, detail string, severity Severity, now time.Time) SecurityEvent {
	return SecurityEvent{
		ID:        uuid.NewString(),
		Type:      t,
		IP:        ip,
		Severity:  severity,
		Detail:    detail,
		Timestamp: now.UTC(),
	}
}

// ThreatSnapshot is the published, internally consistent bundle of score,
// level, and event history for one coordinator cycle. It is recomputed
// wholly each cycle, never patched.
type ThreatSnapshot struct {
	Score       int             `json:"score"`
	Level       Severity        `json:"level"`
	Events      []SecurityEvent `json:"events"`
	TotalEvents int             `json:"total_events_loaded"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// AlertPayload is handed to notification senders for events at or above the
// high severity threshold.
type AlertPayload struct {
	EventType EventType  `json:"event_type"`
	IP        string     `json:"ip,omitempty"`
	Geo       *GeoRecord `json:"geo,omitempty"`
	Detail    string     `json:"detail"`
	Severity  Severity   `json:"severity"`
	Timestamp time.Time  `json:"timestamp"`
}

// AlertFromEvent builds the dispatch payload for a single event.
func AlertFromEvent(ev SecurityEvent) *AlertPayload {
	return &AlertPayload{
		EventType: ev.Type,
		IP:        ev.IP,
		Geo:       ev.Geo,
		Detail:    ev.Detail,
		Severity:  ev.Severity,
		Timestamp: ev.Timestamp,
	}
}

// RawEvent is an already-parsed platform event pulled from the raw event
// source once per cycle. Topic names follow the host platform's bus.
type RawEvent struct {
	Topic string            `json:"topic"`
	Data  map[string]string `json:"data,omitempty"`
}
