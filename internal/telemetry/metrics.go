package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pinbox"

// Metrics holds the resolver and worker counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Resolutions     *prometheus.CounterVec
	GeocodeLookups  *prometheus.CounterVec
	Validations     *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	EventsConsumed  *prometheus.CounterVec
	Revalidations   *prometheus.CounterVec
	ValidateLatency prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. Tests pass a
// fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Settled location resolution attempts",
			},
			[]string{"source", "outcome"},
		),
		GeocodeLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "geocode_lookups_total",
				Help:      "Geocoding lookups by outcome",
			},
			[]string{"direction", "outcome"},
		),
		Validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "serviceability_validations_total",
				Help:      "Backend serviceability validations by result",
			},
			[]string{"result"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Sessions currently holding a resolver",
			},
		),
		EventsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_consumed_total",
				Help:      "location.resolved events handled by the worker",
			},
			[]string{"status"},
		),
		Revalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revalidations_total",
				Help:      "Background pincode re-checks by result",
			},
			[]string{"result"},
		),
		ValidateLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "serviceability_validate_seconds",
				Help:      "Backend serviceability call duration",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.Resolutions,
			m.GeocodeLookups,
			m.Validations,
			m.SessionsActive,
			m.EventsConsumed,
			m.Revalidations,
			m.ValidateLatency,
		)
	}
	return m
}

func (m *Metrics) ResolutionSettled(source, outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) GeocodeLookup(direction, outcome string) {
	if m == nil {
		return
	}
	m.GeocodeLookups.WithLabelValues(direction, outcome).Inc()
}

func (m *Metrics) ValidationDone(result string, seconds float64) {
	if m == nil {
		return
	}
	m.Validations.WithLabelValues(result).Inc()
	m.ValidateLatency.Observe(seconds)
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) EventConsumed(status string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(status).Inc()
}

func (m *Metrics) Revalidated(result string) {
	if m == nil {
		return
	}
	m.Revalidations.WithLabelValues(result).Inc()
}
