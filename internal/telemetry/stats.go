// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is the SDK's runtime counters and latency histograms. It is
// registered under its own prometheus.Registry (never the global default
// registry) so an embedding process's own metrics are never polluted, and
// exposes that registry for the debug server's /debug/metrics route. The
// counters and histograms are not pushed to the backend; only the config
// echo is.
type Stats struct {
	Registry *prometheus.Registry

	evaluations     *prometheus.CounterVec
	exceptions      prometheus.Counter
	httpErrors      *prometheus.CounterVec
	queueOverflows  *prometheus.CounterVec
	listenerPanics  prometheus.Counter
	validationError prometheus.Counter
	latencies       *prometheus.HistogramVec

	mu         sync.Mutex
	configEcho map[string]interface{}
}

// NewStats builds and registers the SDK's collectors on a fresh registry.
func NewStats() *Stats {
	reg := prometheus.NewRegistry()

	s := &Stats{
		Registry: reg,
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flagkit",
			Name:      "evaluations_total",
			Help:      "Number of flag evaluations processed by the SDK, by feature.",
		}, []string{"feature"}),
		exceptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flagkit",
			Name:      "exceptions_total",
			Help:      "Number of exceptions recovered internally by the SDK.",
		}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flagkit",
			Name:      "http_errors_total",
			Help:      "Number of non-2xx HTTP responses received, by endpoint.",
		}, []string{"endpoint"}),
		queueOverflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flagkit",
			Name:      "queue_overflow_total",
			Help:      "Number of dropped entries due to a full internal queue, by queue name.",
		}, []string{"queue"}),
		listenerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flagkit",
			Name:      "impression_listener_panics_total",
			Help:      "Number of panics recovered from the host's impression listener.",
		}),
		validationError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flagkit",
			Name:      "event_validation_errors_total",
			Help:      "Number of Track() calls rejected by validation.",
		}),
		latencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flagkit",
			Name:      "operation_latency_seconds",
			Help:      "Latency of SDK operations, by operation name.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"operation"}),
	}

	reg.MustRegister(s.evaluations, s.exceptions, s.httpErrors, s.queueOverflows,
		s.listenerPanics, s.validationError, s.latencies)

	return s
}

func (s *Stats) IncEvaluation(feature string) {
	s.evaluations.WithLabelValues(feature).Inc()
}

func (s *Stats) IncException() {
	s.exceptions.Inc()
}

func (s *Stats) IncHTTPError(endpoint string) {
	s.httpErrors.WithLabelValues(endpoint).Inc()
}

func (s *Stats) IncQueueOverflow(queue string) {
	s.queueOverflows.WithLabelValues(queue).Inc()
}

func (s *Stats) IncListenerPanic() {
	s.listenerPanics.Inc()
}

func (s *Stats) IncValidationError() {
	s.validationError.Inc()
}

// Observe records how long operation took, for the latency histograms.
func (s *Stats) Observe(operation string, d time.Duration) {
	s.latencies.WithLabelValues(operation).Observe(d.Seconds())
}

// Time is a convenience wrapper: defer stats.Time("evaluate")().
func (s *Stats) Time(operation string) func() {
	start := time.Now()
	return func() {
		s.Observe(operation, time.Since(start))
	}
}

// SetConfigEcho records the config snapshot, set once at startup, that
// every telemetry flush sends.
func (s *Stats) SetConfigEcho(cfg map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configEcho = cfg
}

// ConfigEcho returns the last config snapshot set via SetConfigEcho.
func (s *Stats) ConfigEcho() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configEcho
}
