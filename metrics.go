package sentinel

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the prometheus instrumentation for the pipeline. All
// methods are safe on a nil receiver so components can run uninstrumented
// in tests.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal    *prometheus.CounterVec
	geoLookups     *prometheus.CounterVec
	geoCacheHits   prometheus.Counter
	threatScore    prometheus.Gauge
	threatLevel    *prometheus.GaugeVec
	cycleDuration  prometheus.Histogram
	skippedTicks   prometheus.Counter
	sourceFailures prometheus.Counter
	componentUp    *prometheus.GaugeVec
}

// NewMetrics builds and registers the collector set on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_events_total",
			Help: "Processed security events by type and severity.",
		}, []string{"type", "severity"}),
		geoLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_geo_lookups_total",
			Help: "Remote geolocation attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		geoCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_geo_cache_hits_total",
			Help: "Geolocation lookups served from the TTL cache.",
		}),
		threatScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_threat_score",
			Help: "Current aggregate threat score over the retained history.",
		}),
		threatLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_threat_level",
			Help: "Current threat level (1 for the active level, 0 otherwise).",
		}, []string{"level"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_cycle_duration_seconds",
			Help:    "Coordinator cycle duration.",
			Buckets: prometheus.DefBuckets,
		}),
		skippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_skipped_ticks_total",
			Help: "Ticks skipped because the previous cycle was still running.",
		}),
		sourceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_source_failures_total",
			Help: "Raw event source read failures (cycle treated as empty).",
		}),
		componentUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_component_up",
			Help: "Component health (1 healthy, 0 degraded).",
		}, []string{"component"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		m.eventsTotal,
		m.geoLookups,
		m.geoCacheHits,
		m.threatScore,
		m.threatLevel,
		m.cycleDuration,
		m.skippedTicks,
		m.sourceFailures,
		m.componentUp,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Event(ev SecurityEvent) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(ev.Type), string(ev.Severity)).Inc()
}

func (m *Metrics) GeoLookup(provider, outcome string) {
	if m == nil {
		return
	}
	m.geoLookups.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) GeoCacheHit() {
	if m == nil {
		return
	}
	m.geoCacheHits.Inc()
}

func (m *Metrics) Snapshot(snap ThreatSnapshot) {
	if m == nil {
		return
	}
	m.threatScore.Set(float64(snap.Score))
	for _, level := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		val := 0.0
		if level == snap.Level {
			val = 1.0
		}
		m.threatLevel.WithLabelValues(string(level)).Set(val)
	}
}

func (m *Metrics) CycleDone(seconds float64) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(seconds)
}

func (m *Metrics) TickSkipped() {
	if m == nil {
		return
	}
	m.skippedTicks.Inc()
}

func (m *Metrics) SourceFailure() {
	if m == nil {
		return
	}
	m.sourceFailures.Inc()
}

func (m *Metrics) ComponentHealth(component string, healthy bool) {
	if m == nil {
		return
	}
	val := 0.0
	if healthy {
		val = 1.0
	}
	m.componentUp.WithLabelValues(component).Set(val)
}
