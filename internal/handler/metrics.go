package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReportsTotal counts handled reports by stage and result.
	// Labels: stage (logged, learned, remediated), result (ok, failed, skipped)
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mender",
			Subsystem: "handler",
			Name:      "reports_total",
			Help:      "Total number of handled error reports by pipeline stage and result",
		},
		[]string{"stage", "result"},
	)

	// HandleDuration tracks how long HandleError takes end to end.
	HandleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mender",
			Subsystem: "handler",
			Name:      "handle_duration_seconds",
			Help:      "Duration of HandleError in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// InternalPanics counts panics recovered inside HandleError.
	InternalPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mender",
			Subsystem: "handler",
			Name:      "internal_panics_total",
			Help:      "Total number of panics recovered inside the error handler",
		},
	)

	// PatternsTotal is the number of known patterns at the last Statistics call.
	PatternsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mender",
			Subsystem: "patterns",
			Name:      "total",
			Help:      "Number of learned error patterns",
		},
	)

	// AvgSuccessRate is the mean success rate of attempted patterns.
	AvgSuccessRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mender",
			Subsystem: "patterns",
			Name:      "avg_success_rate",
			Help:      "Mean remediation success rate over patterns with at least one attempt",
		},
	)

	// ApplicationsTotal is the number of recorded remediation attempts.
	ApplicationsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mender",
			Subsystem: "patterns",
			Name:      "applications",
			Help:      "Number of recorded remediation attempts across all patterns",
		},
	)
)

func recordStage(stage string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	ReportsTotal.WithLabelValues(stage, result).Inc()
}

func recordSkipped(stage string) {
	ReportsTotal.WithLabelValues(stage, "skipped").Inc()
}

func updatePatternMetrics(s *Statistics) {
	PatternsTotal.Set(float64(s.TotalPatterns))
	AvgSuccessRate.Set(s.AvgSuccessRate)
	ApplicationsTotal.Set(float64(s.TotalApplications))
}
