package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels runs that reached the completed state.
	OutcomeSuccess = "success"
	// OutcomeError labels runs that ended in the error state.
	OutcomeError = "error"
	// OutcomeCancelled labels runs stopped by a cancel request.
	OutcomeCancelled = "cancelled"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertscope",
			Name:      "analyses_total",
			Help:      "Total number of analysis runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "alertscope",
			Name:      "analysis_seconds",
			Help:      "Full pipeline latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 180},
		},
	)

	connectorQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertscope",
			Name:      "connector_queries_total",
			Help:      "Connector query attempts, partitioned by backend type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	reasoningRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertscope",
			Name:      "reasoning_requests_total",
			Help:      "Reasoning oracle calls, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches alertscope collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		connectorQueriesTotal,
		reasoningRequestsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records a pipeline run duration and outcome label.
func ObserveAnalysis(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeCancelled:
	default:
		outcome = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// ObserveConnectorQuery counts one connector query attempt.
func ObserveConnectorQuery(backendType, outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	connectorQueriesTotal.WithLabelValues(backendType, outcome).Inc()
}

// ObserveReasoningRequest counts one oracle call.
func ObserveReasoningRequest(outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	reasoningRequestsTotal.WithLabelValues(outcome).Inc()
}
