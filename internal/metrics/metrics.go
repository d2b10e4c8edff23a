// Package metrics provides Prometheus metrics for the deployment pipeline.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "deployd"

// Submission outcomes.
const (
	OutcomeAccepted     = "accepted"
	OutcomeReplayed     = "replayed"
	OutcomeConflict     = "conflict"
	OutcomePrecondition = "precondition"
	OutcomeRejected     = "rejected"
)

var (
	// SubmissionsTotal counts submitted requests.
	// Labels: kind (create, update), outcome
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "submissions_total",
			Help:      "Total number of task submissions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// TransitionsTotal counts task status transitions.
	// Labels: from, to
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "transitions_total",
			Help:      "Total number of task status transitions",
		},
		[]string{"from", "to"},
	)

	// TasksInFlight is the number of tasks that have not reached a terminal state.
	TasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "tasks_in_flight",
			Help:      "Number of accepted tasks not yet completed or failed",
		},
	)

	// StageDuration tracks how long each pipeline stage takes.
	// Labels: stage (generate, publish, notify), result (success, error)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage", "result"},
	)

	// NotifyDeliveries counts evaluation callbacks by result.
	// Labels: result (delivered, undelivered)
	NotifyDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Total number of evaluation callbacks by delivery result",
		},
		[]string{"result"},
	)

	// NotifyAttempts tracks attempts used per callback.
	NotifyAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "attempts",
			Help:      "Number of HTTP attempts used per evaluation callback",
			Buckets:   prometheus.LinearBuckets(1, 1, 6),
		},
	)

	// SecretsRedacted counts secrets removed from generated files.
	SecretsRedacted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "secrets",
			Name:      "redacted_total",
			Help:      "Total number of secrets redacted from generated files before publishing",
		},
	)
)

// Kind returns the submission kind label for a round.
func Kind(round int) string {
	if round <= 1 {
		return "create"
	}
	return "update"
}

// RecordSubmission records the outcome of a submission.
func RecordSubmission(round int, outcome string) {
	SubmissionsTotal.WithLabelValues(Kind(round), outcome).Inc()
	if outcome == OutcomeAccepted {
		TasksInFlight.Inc()
	}
}

// RecordTransition records a status change. Terminal targets leave the in-flight gauge.
func RecordTransition(from, to string, terminal bool) {
	TransitionsTotal.WithLabelValues(strings.ToLower(from), strings.ToLower(to)).Inc()
	if terminal {
		TasksInFlight.Dec()
	}
}

// ObserveStage records the duration of a pipeline stage.
func ObserveStage(stage string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	StageDuration.WithLabelValues(stage, result).Observe(d.Seconds())
}

// RecordNotify records an evaluation callback outcome.
func RecordNotify(delivered bool, attempts int) {
	if delivered {
		NotifyDeliveries.WithLabelValues("delivered").Inc()
	} else {
		NotifyDeliveries.WithLabelValues("undelivered").Inc()
	}
	NotifyAttempts.Observe(float64(attempts))
}
