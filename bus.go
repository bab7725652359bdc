package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// BusSubject is the subject security events are published on and raw platform
// events consumed from.
const BusSubject = "sentinel.events"

const defaultSourceBuffer = 1024

// ChannelSource is the in-process raw event source. Producers (the HTTP
// ingest endpoint, tests) push parsed platform events; the coordinator drains
// the accumulated batch once per cycle.
type ChannelSource struct {
	mu      sync.Mutex
	pending []RawEvent
	max     int
}

// NewChannelSource builds a source buffering up to max events between drains;
// max <= 0 falls back to a sane default. Overflow drops the oldest pending
// events, never blocks the producer.
func NewChannelSource(max int) *ChannelSource {
	if max <= 0 {
		max = defaultSourceBuffer
	}
	return &ChannelSource{max: max}
}

// Push queues a raw event for the next cycle.
func (s *ChannelSource) Push(ev RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, ev)
	if overflow := len(s.pending) - s.max; overflow > 0 {
		s.pending = append(s.pending[:0:0], s.pending[overflow:]...)
	}
}

// Drain returns everything accumulated since the previous drain and resets
// the buffer.
func (s *ChannelSource) Drain(_ context.Context) ([]RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.pending
	s.pending = nil
	return batch, nil
}

// Pending returns the number of queued events.
func (s *ChannelSource) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// LogBusPublisher is the no-broker publisher: every processed event is
// written to the structured log instead of a bus.
type LogBusPublisher struct {
	logger zerolog.Logger
}

func NewLogBusPublisher(logger zerolog.Logger) *LogBusPublisher {
	return &LogBusPublisher{logger: logger}
}

func (p *LogBusPublisher) Publish(_ context.Context, ev SecurityEvent) error {
	p.logger.Info().
		Str("id", ev.ID).
		Str("event_type", string(ev.Type)).
		Str("severity", string(ev.Severity)).
		Str("ip", ev.IP).
		Str("detail", ev.Detail).
		Msg("security event")
	return nil
}

// NATSBus publishes processed security events to a NATS subject so other
// services can react to them.
type NATSBus struct {
	nc      *nats.Conn
	subject string
}

// NewNATSBus connects to the given NATS URL. An empty subject falls back to
// BusSubject.
func NewNATSBus(url, subject string) (*NATSBus, error) {
	if subject == "" {
		subject = BusSubject
	}
	nc, err := nats.Connect(url,
		nats.Name("sentinel"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBus{nc: nc, subject: subject}, nil
}

func (b *NATSBus) Publish(_ context.Context, ev SecurityEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return nil
}

func (b *NATSBus) Close() {
	b.nc.Drain()
}

// NATSSource consumes raw platform events from a NATS subject and exposes
// them as a per-cycle batch. Messages that fail to decode are dropped with a
// log line.
type NATSSource struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	ch     chan *nats.Msg
	logger zerolog.Logger
}

// NewNATSSource subscribes to subject on the given NATS URL. An empty
// subject falls back to BusSubject.
func NewNATSSource(url, subject string, logger zerolog.Logger) (*NATSSource, error) {
	if subject == "" {
		subject = BusSubject
	}
	nc, err := nats.Connect(url,
		nats.Name("sentinel-source"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	ch := make(chan *nats.Msg, defaultSourceBuffer)
	sub, err := nc.ChanSubscribe(subject, ch)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return &NATSSource{nc: nc, sub: sub, ch: ch, logger: logger}, nil
}

// Drain returns every message buffered since the previous drain without
// blocking for more.
func (s *NATSSource) Drain(_ context.Context) ([]RawEvent, error) {
	var batch []RawEvent
	for {
		select {
		case msg := <-s.ch:
			var raw RawEvent
			if err := json.Unmarshal(msg.Data, &raw); err != nil {
				s.logger.Warn().Err(err).Msg("dropping undecodable bus message")
				continue
			}
			batch = append(batch, raw)
		default:
			return batch, nil
		}
	}
}

func (s *NATSSource) Close() {
	s.sub.Unsubscribe()
	s.nc.Close()
}
