package sentinel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultScanInterval is the cycle period of the coordinator.
	DefaultScanInterval = 60 * time.Second

	// DefaultAlertThreshold is the minimum severity dispatched to the
	// notification channels.
	DefaultAlertThreshold = SeverityHigh

	// enrichConcurrency bounds in-flight geo lookups within one cycle.
	enrichConcurrency = 8
)

// CoordinatorOptions wires the pipeline stages together. Source, Monitor,
// Detector, Enricher, History, and Store are required; Bus and Alerts may be
// nil.
type CoordinatorOptions struct {
	Interval       time.Duration
	AlertThreshold Severity
	Clock          Clock
	Logger         zerolog.Logger
	Metrics        *Metrics

	Source   RawEventSource
	Monitor  *EventMonitor
	Detector *BruteForceDetector
	Enricher *GeoEnricher
	History  *EventHistory
	Store    EventStore
	Bus      BusPublisher
	Alerts   *NotificationRegistry
}

// Coordinator runs the periodic scan cycle: drain the raw source, classify,
// detect brute force, enrich, retain, score, and publish. At most one cycle
// is in flight; a tick that lands mid-cycle is skipped, not queued.
type Coordinator struct {
	opts   CoordinatorOptions
	scorer ThreatScorer

	inFlight atomic.Bool

	mu        sync.RWMutex
	snapshot  ThreatSnapshot
	lastCycle time.Time
}

// NewCoordinator builds a coordinator; zero Interval falls back to
// DefaultScanInterval and an empty AlertThreshold to DefaultAlertThreshold.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultScanInterval
	}
	if opts.AlertThreshold == "" {
		opts.AlertThreshold = DefaultAlertThreshold
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	c := &Coordinator{opts: opts}
	c.snapshot = c.scorer.Score(nil, opts.Clock.Now())
	return c
}

// Run executes cycles until ctx is cancelled. The first cycle starts
// immediately; later ones follow the ticker.
func (c *Coordinator) Run(ctx context.Context) {
	c.opts.Logger.Info().
		Dur("interval", c.opts.Interval).
		Str("alert_threshold", string(c.opts.AlertThreshold)).
		Msg("coordinator started")

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.runGuarded(ctx)
	for {
		select {
		case <-ctx.Done():
			c.opts.Logger.Info().Msg("coordinator stopped")
			return
		case <-ticker.C:
			c.runGuarded(ctx)
		}
	}
}

// runGuarded enforces the at-most-one-in-flight rule.
func (c *Coordinator) runGuarded(ctx context.Context) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.opts.Metrics.TickSkipped()
		c.opts.Logger.Warn().Msg("previous cycle still running, skipping tick")
		return
	}
	defer c.inFlight.Store(false)
	c.Cycle(ctx)
}

// Cycle runs one full scan pass. Exported so callers can trigger an
// out-of-band scan; concurrent use is serialized by Run's guard only.
func (c *Coordinator) Cycle(ctx context.Context) {
	start := c.opts.Clock.Now()

	raws, err := c.opts.Source.Drain(ctx)
	if err != nil {
		// A failed read costs one cycle of visibility, nothing more.
		c.opts.Metrics.SourceFailure()
		c.opts.Metrics.ComponentHealth("source", false)
		c.opts.Logger.Error().Err(err).Msg("raw event source read failed, treating batch as empty")
		raws = nil
	} else {
		c.opts.Metrics.ComponentHealth("source", true)
	}

	var fresh []SecurityEvent
	for _, raw := range raws {
		ev := c.opts.Monitor.Classify(raw)
		if ev == nil {
			continue
		}
		fresh = append(fresh, c.opts.Detector.Classify(*ev)...)
	}
	c.opts.Detector.Sweep()

	c.enrich(ctx, fresh)

	c.opts.History.Append(fresh...)
	snap := c.scorer.Score(c.opts.History.Snapshot(), c.opts.Clock.Now())

	c.mu.Lock()
	c.snapshot = snap
	c.lastCycle = snap.GeneratedAt
	c.mu.Unlock()
	c.opts.Metrics.Snapshot(snap)

	c.dispatch(ctx, fresh)

	elapsed := c.opts.Clock.Now().Sub(start)
	c.opts.Metrics.CycleDone(elapsed.Seconds())
	if len(fresh) > 0 || snap.Score > 0 {
		c.opts.Logger.Info().
			Int("new_events", len(fresh)).
			Int("retained", snap.TotalEvents).
			Int("score", snap.Score).
			Str("level", string(snap.Level)).
			Dur("elapsed", elapsed).
			Msg("scan cycle complete")
	}
}

// enrich attaches geo data to every event that does not already carry it.
// Lookups run concurrently; each goroutine writes a distinct index.
func (c *Coordinator) enrich(ctx context.Context, batch []SecurityEvent) {
	if c.opts.Enricher == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i := range batch {
		if batch[i].Geo != nil {
			continue
		}
		i := i
		g.Go(func() error {
			rec := c.opts.Enricher.Lookup(gctx, batch[i].IP)
			batch[i].Geo = &rec
			return nil
		})
	}
	// Lookup never fails outward, so the group error is always nil.
	_ = g.Wait()
}

// dispatch persists, publishes, and alerts on the cycle's new events.
func (c *Coordinator) dispatch(ctx context.Context, fresh []SecurityEvent) {
	storeHealthy, busHealthy := true, true
	for _, ev := range fresh {
		c.opts.Metrics.Event(ev)

		if err := c.opts.Store.Add(ctx, ev); err != nil {
			storeHealthy = false
			c.opts.Logger.Error().Str("id", ev.ID).Err(err).Msg("failed to persist event")
		}
		if c.opts.Bus != nil {
			if err := c.opts.Bus.Publish(ctx, ev); err != nil {
				busHealthy = false
				c.opts.Logger.Error().Str("id", ev.ID).Err(err).Msg("failed to publish event")
			}
		}
		if c.opts.Alerts != nil && ev.Severity.AtLeast(c.opts.AlertThreshold) {
			c.opts.Alerts.Dispatch(AlertFromEvent(ev))
		}
	}
	c.opts.Metrics.ComponentHealth("store", storeHealthy)
	if c.opts.Bus != nil {
		c.opts.Metrics.ComponentHealth("bus", busHealthy)
	}
}

// Snapshot returns the most recently published snapshot.
func (c *Coordinator) Snapshot() ThreatSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LastCycle returns when the last cycle published, zero before the first.
func (c *Coordinator) LastCycle() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCycle
}
