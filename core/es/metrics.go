package es

import "github.com/tstuttard/eventsourcing/core/metrics"

// ESMetrics defines the instrumentation points of the persistence core.
// Implementations must be safe for concurrent use.
type ESMetrics interface {
	// Store operations
	StoreReadDuration(aggType string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)
	ConcurrencyConflict(aggType string)

	// Identity map
	CacheHit(aggType string)
	CacheMiss(aggType string)

	// Sessions
	SessionCommitDuration() metrics.Timer
	SessionsOpen() metrics.Gauge

	// Bus
	HandlerDuration(eventType string) metrics.Timer
	HandlerFailed(eventType string)
}

// nopESMetrics is a no-op implementation of ESMetrics.
type nopESMetrics struct{}

func (nopESMetrics) StoreReadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)               {}
func (nopESMetrics) ConcurrencyConflict(string)               {}

func (nopESMetrics) CacheHit(string)  {}
func (nopESMetrics) CacheMiss(string) {}

func (nopESMetrics) SessionCommitDuration() metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SessionsOpen() metrics.Gauge          { return metrics.NopGauge() }

func (nopESMetrics) HandlerDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) HandlerFailed(string)                 {}

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }
