package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaycore/smsqueue/internal/service"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	EntriesEnqueued  prometheus.Counter
	DispatchAttempts prometheus.Counter
	EntriesDelivered prometheus.Counter
	EntriesFailed    *prometheus.CounterVec
	EntriesRetried   prometheus.Counter
	EntriesCancelled prometheus.Counter
	EntriesSwept     prometheus.Counter
	Callbacks        *prometheus.CounterVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntriesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_entries_enqueued_total",
			Help: "Total number of entries accepted from producers.",
		}),
		DispatchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_dispatch_attempts_total",
			Help: "Total number of sends attempted against the SMS gateway.",
		}),
		EntriesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_entries_delivered_total",
			Help: "Total number of entries confirmed delivered.",
		}),
		EntriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_entries_failed_total",
			Help: "Total number of terminally failed entries by failure class.",
		}, []string{"class"}),
		EntriesRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_entries_retried_total",
			Help: "Total number of transient failures returned to pending for retry.",
		}),
		EntriesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_entries_cancelled_total",
			Help: "Total number of pending entries cancelled by recipient cascade.",
		}),
		EntriesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_entries_swept_total",
			Help: "Total number of stalled in-flight entries resolved by the sweeper.",
		}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_delivery_callbacks_total",
			Help: "Total number of delivery callbacks received by outcome, including unknown_ref.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.EntriesEnqueued,
		m.DispatchAttempts,
		m.EntriesDelivered,
		m.EntriesFailed,
		m.EntriesRetried,
		m.EntriesCancelled,
		m.EntriesSwept,
		m.Callbacks,
	)

	return m
}

// ServiceHooks returns the metric callbacks expected by service.MetricHooks.
// Centralises the prometheus observation calls so the service layer stays
// metrics-agnostic.
func (m *Metrics) ServiceHooks() service.MetricHooks {
	return service.MetricHooks{
		OnEnqueued:   func(count int) { m.EntriesEnqueued.Add(float64(count)) },
		OnDispatched: m.DispatchAttempts.Inc,
		OnDelivered:  m.EntriesDelivered.Inc,
		OnRetried:    m.EntriesRetried.Inc,
		OnFailed:     func(class string) { m.EntriesFailed.WithLabelValues(class).Inc() },
		OnCancelled:  func(count int64) { m.EntriesCancelled.Add(float64(count)) },
		OnCallback:   func(outcome string) { m.Callbacks.WithLabelValues(outcome).Inc() },
	}
}

// SweeperHook returns the callback the stall sweeper invokes per resolved entry.
func (m *Metrics) SweeperHook() func() {
	return m.EntriesSwept.Inc
}
