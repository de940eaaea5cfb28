package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Admission decisions by token kind, operation and result code",
		},
		[]string{"kind", "operation", "result"},
	)

	admissionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admission_decision_duration_seconds",
			Help:    "Time to reach an admission decision",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"kind", "operation"},
	)

	lifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_lifecycle_transitions_total",
			Help: "Applied ticket state transitions",
		},
		[]string{"from", "to"},
	)

	cleanupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_runs_total",
			Help: "Cleanup runs by mode and outcome",
		},
		[]string{"mode", "status"},
	)

	cleanupDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_deleted_rows_total",
			Help: "Rows removed by cleanup",
		},
		[]string{"table"},
	)

	cleanupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cleanup_duration_seconds",
			Help:    "Duration of cleanup batches",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	settlementsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_settlements_consumed_total",
			Help: "payments.settled messages handled",
		},
		[]string{"status", "outcome"},
	)
)

const (
	KindTicket    = "ticket"
	KindWristband = "wristband"

	OpValidate = "validate"
	OpCheckIn  = "check_in"

	ResultOK = "OK"
)

// TrackAdmission records one verification outcome. An empty code counts as OK.
func TrackAdmission(kind, operation, code string, elapsed time.Duration) {
	if code == "" {
		code = ResultOK
	}
	admissionDecisions.WithLabelValues(kind, operation, code).Inc()
	admissionLatency.WithLabelValues(kind, operation).Observe(elapsed.Seconds())
}

func TrackTransition(from, to string) {
	lifecycleTransitions.WithLabelValues(from, to).Inc()
}

// TrackCleanup records a finished cleanup batch.
func TrackCleanup(mode string, err error, deletedTickets, deletedHolders int, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	cleanupRuns.WithLabelValues(mode, status).Inc()
	cleanupDeleted.WithLabelValues("tickets").Add(float64(deletedTickets))
	cleanupDeleted.WithLabelValues("ticket_holders").Add(float64(deletedHolders))
	cleanupDuration.Observe(elapsed.Seconds())
}

func TrackOrphanPurge(transactions int) {
	cleanupDeleted.WithLabelValues("transactions").Add(float64(transactions))
}

func TrackSettlement(status, outcome string) {
	settlementsConsumed.WithLabelValues(status, outcome).Inc()
}
