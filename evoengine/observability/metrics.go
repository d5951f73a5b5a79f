// Package observability provides Prometheus metrics instrumentation for the
// evolution pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// EVOLUTION METRICS
// =============================================================================

var (
	evolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evolvecore_evolutions_total",
			Help: "Total number of evolution tasks by terminal status",
		},
		[]string{"tier", "status"}, // status: completed, rejected, reverted, paused, error, ...
	)

	evolutionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evolvecore_evolution_duration_seconds",
			Help:    "End-to-end evolution task duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"tier"},
	)
)

// =============================================================================
// PHASE METRICS
// =============================================================================

var (
	phaseExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evolvecore_phase_executions_total",
			Help: "Total number of pipeline phase executions",
		},
		[]string{"phase", "status"}, // phase: sandbox, perception, review, commit, monitor, visual
	)

	phaseDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evolvecore_phase_duration_seconds",
			Help:    "Pipeline phase duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"phase"},
	)
)

// =============================================================================
// REVIEWER METRICS
// =============================================================================

var (
	reviewerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evolvecore_reviewer_calls_total",
			Help: "Total number of reviewer gate evaluations",
		},
		[]string{"reviewer", "verdict"}, // verdict: approved, rejected, error
	)

	reviewerDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evolvecore_reviewer_duration_seconds",
			Help:    "Reviewer gate duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"reviewer"},
	)
)

// =============================================================================
// RECOVERY METRICS
// =============================================================================

var recoveryActionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "evolvecore_recovery_actions_total",
		Help: "Total number of post-commit recovery actions",
	},
	[]string{"action"}, // action: auto_revert, pause_evolution, escalate_to_human
)

// =============================================================================
// TECTONIC METRICS
// =============================================================================

var (
	tectonicShiftsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evolvecore_tectonic_shifts_total",
			Help: "Total number of tectonic optimization runs",
		},
		[]string{"status"}, // status: success, failure
	)

	tectonicImprovement = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evolvecore_tectonic_improvement",
			Help:    "Fractional primary-metric improvement per tectonic shift",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 2},
		},
	)
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evolvecore_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evolvecore_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordEvolution records one finished evolution task.
// This should be called when the task reaches a terminal status.
func RecordEvolution(tier string, status string, durationMS int) {
	evolutionsTotal.WithLabelValues(tier, status).Inc()
	evolutionDurationSeconds.WithLabelValues(tier).Observe(float64(durationMS) / 1000.0)
}

// RecordPhase records one pipeline phase execution.
// This should be called after the phase completes.
func RecordPhase(phase string, status string, durationMS int) {
	phaseExecutionsTotal.WithLabelValues(phase, status).Inc()
	phaseDurationSeconds.WithLabelValues(phase).Observe(float64(durationMS) / 1000.0)
}

// RecordReviewerCall records one reviewer gate evaluation.
func RecordReviewerCall(reviewer string, verdict string, durationMS int) {
	reviewerCallsTotal.WithLabelValues(reviewer, verdict).Inc()
	reviewerDurationSeconds.WithLabelValues(reviewer).Observe(float64(durationMS) / 1000.0)
}

// RecordRecoveryAction records one post-commit recovery decision.
func RecordRecoveryAction(action string) {
	recoveryActionsTotal.WithLabelValues(action).Inc()
}

// RecordTectonicShift records one tectonic optimization run.
func RecordTectonicShift(success bool, improvement float64) {
	status := "failure"
	if success {
		status = "success"
	}
	tectonicShiftsTotal.WithLabelValues(status).Inc()
	if improvement > 0 {
		tectonicImprovement.Observe(improvement)
	}
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}
