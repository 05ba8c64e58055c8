// Package metrics exposes Prometheus instrumentation for live query operators.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "livequery"

// Recorder records operator activity. A nil Recorder is valid and records nothing.
type Recorder struct {
	events *prometheus.CounterVec
	resets *prometheus.CounterVec
	loads  *prometheus.HistogramVec
	errors *prometheus.CounterVec
}

// NewRecorder creates a recorder and registers its collectors. Collectors already registered
// with reg are reused.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operator_events_total",
			Help:      "Number of source change events handled by operators.",
		}, []string{"operator", "type"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operator_resets_total",
			Help:      "Number of full reloads performed by operators.",
		}, []string{"operator"}),
		loads: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operator_load_duration_seconds",
			Help:      "Latency of initial loads and full reloads.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operator"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operator_errors_total",
			Help:      "Number of failed incremental updates.",
		}, []string{"operator"}),
	}

	var err error
	if r.events, err = register(reg, r.events); err != nil {
		return nil, err
	}
	if r.resets, err = register(reg, r.resets); err != nil {
		return nil, err
	}
	if r.loads, err = register(reg, r.loads); err != nil {
		return nil, err
	}
	if r.errors, err = register(reg, r.errors); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Event counts a handled change event.
func (r *Recorder) Event(operator, eventType string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(operator, eventType).Inc()
}

// Reset counts a full reload.
func (r *Recorder) Reset(operator string) {
	if r == nil {
		return
	}
	r.resets.WithLabelValues(operator).Inc()
}

// ObserveLoad records the duration of a load.
func (r *Recorder) ObserveLoad(operator string, d time.Duration) {
	if r == nil {
		return
	}
	r.loads.WithLabelValues(operator).Observe(d.Seconds())
}

// Error counts a failed update.
func (r *Recorder) Error(operator string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(operator).Inc()
}
