package sentinel

import (
	"context"
	"time"
)

// RawEventSource supplies the platform events observed since the previous
// cycle. A read failure is logged by the coordinator and treated as an empty
// batch; the next cycle retries.
type RawEventSource interface {
	Drain(ctx context.Context) ([]RawEvent, error)
}

// EventPusher is implemented by sources that accept events injected from
// this process (the HTTP ingest endpoint, tests).
type EventPusher interface {
	Push(raw RawEvent)
}

// EventStore persists processed security events. The retained set is capped;
// implementations drop the oldest rows beyond the cap.
type EventStore interface {
	Add(ctx context.Context, ev SecurityEvent) error
	All(ctx context.Context, limit int) ([]SecurityEvent, error)
	Recent(ctx context.Context, since time.Time, limit int) ([]SecurityEvent, error)
	CountByType(ctx context.Context, t EventType, since time.Time) (int, error)
	Last(ctx context.Context) (*SecurityEvent, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// BusPublisher fires one notification per processed SecurityEvent for the
// host platform's own automation rules.
type BusPublisher interface {
	Publish(ctx context.Context, ev SecurityEvent) error
}

// GeoProvider is a single remote geolocation endpoint. A nil record with a
// non-nil error means the attempt failed and the fallback chain advances.
type GeoProvider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (*GeoRecord, error)
}

// Clock abstracts time so window-boundary and TTL behavior is deterministic
// under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
