package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_outcomes_total",
		Help: "Orders by terminal outcome and rejection reason.",
	}, []string{"status", "reason"})

	ReservationRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_retries_total",
		Help: "Protocol retries by cause.",
	}, []string{"cause"})

	ReservationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservation_duration_seconds",
		Help:    "Time from order receipt to outcome.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	CompensationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compensation_attempts_total",
		Help: "Restore attempts by result.",
	}, []string{"result"})

	CompensationStuck = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "compensation_stuck",
		Help: "Compensations that exceeded the alert threshold and are still retrying.",
	})

	ReconcilerStalePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_stale_pending",
		Help: "Pending orders older than the stale threshold found by the last sweep.",
	})

	LedgerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_requests_total",
		Help: "Inventory service ledger calls by method and result.",
	}, []string{"method", "result"})
)
