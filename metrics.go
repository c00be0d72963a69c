package restruct

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus counters for extraction requests. A nil *Metrics
// records nothing.
type Metrics struct {
	attemptsTotal      *prometheus.CounterVec
	attemptDuration    *prometheus.HistogramVec
	tokensTotal        *prometheus.CounterVec
	requestsTotal      *prometheus.CounterVec
	attemptsPerRequest prometheus.Histogram
}

// NewMetrics registers the collectors on reg under namespace. A nil reg
// creates unregistered collectors.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Extraction attempts by the stage they ended in",
			},
			[]string{"mode", "stage"},
		),
		attemptDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Time from model request to verdict for one attempt",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),
		tokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens consumed across all attempts",
			},
			[]string{"kind"},
		),
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Extraction requests by outcome",
			},
			[]string{"mode", "outcome"},
		),
		attemptsPerRequest: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempts_per_request",
				Help:      "Number of attempts a request needed",
				Buckets:   prometheus.LinearBuckets(1, 1, 6),
			},
		),
	}
}

func (m *Metrics) observeAttempt(mode Mode, a Attempt) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(mode.String(), a.Stage.String()).Inc()
	m.attemptDuration.WithLabelValues(mode.String()).Observe(a.Duration.Seconds())
	m.tokensTotal.WithLabelValues("input").Add(float64(a.Usage.InputTokens))
	m.tokensTotal.WithLabelValues("output").Add(float64(a.Usage.OutputTokens))
}

func (m *Metrics) observeRequest(mode Mode, h *AttemptHistory, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.requestsTotal.WithLabelValues(mode.String(), outcome).Inc()
	m.attemptsPerRequest.Observe(float64(h.Len()))
}
