// Package metrics holds the instrument interfaces the persistence core
// reports through. Backends such as adapters/prometheus implement them.
package metrics

import "time"

type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge may go up and down. Add accepts negative deltas.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
}

// Timer is started on creation and records once, on ObserveDuration:
//
//	defer m.StoreAppendDuration("class").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// StartTimer returns a Timer that hands the elapsed time to observe.
func StartTimer(observe func(time.Duration)) Timer {
	return &stopwatch{start: time.Now(), observe: observe}
}

type stopwatch struct {
	start   time.Time
	observe func(time.Duration)
}

func (s *stopwatch) ObserveDuration() {
	if s.observe != nil {
		s.observe(time.Since(s.start))
	}
}

type nop struct{}

func (nop) Inc()             {}
func (nop) Dec()             {}
func (nop) Set(float64)      {}
func (nop) Add(float64)      {}
func (nop) ObserveDuration() {}

func NopCounter() Counter { return nop{} }
func NopGauge() Gauge     { return nop{} }
func NopTimer() Timer     { return nop{} }
