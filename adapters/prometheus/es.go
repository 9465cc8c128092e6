package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tstuttard/eventsourcing/core/es"
	"github.com/tstuttard/eventsourcing/core/metrics"
)

type esMetrics struct {
	storeReadDuration    *prometheus.HistogramVec
	storeAppendDuration  *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	sessionCommitDuration prometheus.Histogram
	sessionsOpen          prometheus.Gauge

	handlerDuration *prometheus.HistogramVec
	handlerFailures *prometheus.CounterVec
}

// NewESMetrics registers the persistence metrics with reg.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	aggLabel := []string{"aggregate_type"}
	evLabel := []string{"event_type"}

	m := &esMetrics{
		storeReadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_read_duration_seconds",
			Help:      "Event store stream read latency in seconds.",
			Buckets:   defaultBuckets,
		}, aggLabel),
		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_append_duration_seconds",
			Help:      "Event store append latency in seconds.",
			Buckets:   defaultBuckets,
		}, aggLabel),
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Events appended to the store.",
		}, aggLabel),
		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_conflicts_total",
			Help:      "Appends or prechecks rejected for a stale expected version.",
		}, aggLabel),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_map_hits_total",
			Help:      "Repository finds served from the session identity map.",
		}, aggLabel),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_map_misses_total",
			Help:      "Repository finds that replayed a stream.",
		}, aggLabel),
		sessionCommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_submit_duration_seconds",
			Help:      "Session SubmitChanges latency in seconds.",
			Buckets:   defaultBuckets,
		}),
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Sessions opened and not yet closed.",
		}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_handler_duration_seconds",
			Help:      "Domain event handler latency in seconds.",
			Buckets:   defaultBuckets,
		}, evLabel),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_handler_failures_total",
			Help:      "Domain event handlers that returned an error.",
		}, evLabel),
	}

	reg.MustRegister(
		m.storeReadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.cacheHits,
		m.cacheMisses,
		m.sessionCommitDuration,
		m.sessionsOpen,
		m.handlerDuration,
		m.handlerFailures,
	)
	return m
}

func (m *esMetrics) StoreReadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeReadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheHit(aggType string)  { m.cacheHits.WithLabelValues(aggType).Inc() }
func (m *esMetrics) CacheMiss(aggType string) { m.cacheMisses.WithLabelValues(aggType).Inc() }

func (m *esMetrics) SessionCommitDuration() metrics.Timer { return newTimer(m.sessionCommitDuration) }
func (m *esMetrics) SessionsOpen() metrics.Gauge          { return m.sessionsOpen }

func (m *esMetrics) HandlerDuration(eventType string) metrics.Timer {
	return newTimer(m.handlerDuration.WithLabelValues(eventType))
}

func (m *esMetrics) HandlerFailed(eventType string) {
	m.handlerFailures.WithLabelValues(eventType).Inc()
}

var _ es.ESMetrics = (*esMetrics)(nil)
