package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Tally/internal/event"
)

const namespace = "tally"

// Outcome labels for instruction metrics.
const (
	OutcomeOK       = "ok"       // OutcomeOK marks a committed instruction
	OutcomeRejected = "rejected" // OutcomeRejected marks a program error
	OutcomeInvalid  = "invalid"  // OutcomeInvalid marks a malformed or unauthenticated instruction
	OutcomeFailed   = "failed"   // OutcomeFailed marks an infrastructure failure
)

// Metrics holds the node's Prometheus collectors on a private registry.
type Metrics struct {
	registry     *prometheus.Registry     // registry exposes only this node's collectors
	instructions *prometheus.CounterVec   // instructions counts executions by function and outcome
	latency      *prometheus.HistogramVec // latency observes execution time by function
	events       *prometheus.CounterVec   // events counts published events by name
	subscribers  prometheus.Gauge         // subscribers tracks connected feed clients
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instructions_total",
			Help:      "Instructions executed, by function and outcome.",
		}, []string{"function", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instruction_duration_seconds",
			Help:      "Instruction execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"function"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published, by name.",
		}, []string{"event"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_subscribers",
			Help:      "Connected event feed subscribers.",
		}),
	}

	m.registry.MustRegister(
		m.instructions,
		m.latency,
		m.events,
		m.subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveInstruction records one instruction execution.
func (m *Metrics) ObserveInstruction(function, outcome string, elapsed time.Duration) {
	m.instructions.WithLabelValues(function, outcome).Inc()
	m.latency.WithLabelValues(function).Observe(elapsed.Seconds())
}

// SetSubscribers sets the number of connected feed subscribers.
func (m *Metrics) SetSubscribers(n int) {
	m.subscribers.Set(float64(n))
}

// Publish counts ev, making Metrics usable as an event sink.
func (m *Metrics) Publish(ev event.Event) {
	m.events.WithLabelValues(ev.Name()).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
