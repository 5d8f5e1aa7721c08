// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "checkins_total",
		Help:      "Check-in attempts by method and outcome.",
	}, []string{"method", "outcome"})

	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "oracle_calls_total",
		Help:      "Vision oracle calls by operation and result.",
	}, []string{"op", "result"})

	OracleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "oracle_call_seconds",
		Help:      "Vision oracle call latency including retries.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"op"})

	OracleRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "oracle_throttled_total",
		Help:      "Throttling responses from the vision oracle that triggered a retry.",
	}, []string{"op"})

	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "enrollments_total",
		Help:      "Face registrations by outcome.",
	}, []string{"outcome"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sweep_runs_total",
		Help:      "Sweeper runs by trigger.",
	}, []string{"trigger"})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sessions_closed_total",
		Help:      "Sessions closed by reason.",
	}, []string{"reason"})

	AbsencesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "absences_recorded_total",
		Help:      "Absence records written by the sweeper.",
	})
)

// ObserveOracle records one oracle call.
func ObserveOracle(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	OracleCalls.WithLabelValues(op, result).Inc()
	OracleLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
