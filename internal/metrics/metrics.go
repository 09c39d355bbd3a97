package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionDecisions counts minimum-data-spread outcomes by result ("admitted", "denied").
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surveillance_admission_decisions_total",
		Help: "Minimum data spread admission decisions by result",
	}, []string{"result"})

	ModelRunsRequested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surveillance_model_runs_requested_total",
		Help: "Model runs dispatched by trigger",
	}, []string{"trigger"})

	ModelRunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surveillance_model_runs_completed_total",
		Help: "Model run completion events handled by status",
	}, []string{"status"})

	BatchedOccurrences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "surveillance_batched_occurrences_total",
		Help: "Occurrences given validation parameters by post-run batching",
	})

	ValidationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surveillance_validation_outcomes_total",
		Help: "Validation gate outcomes by resulting status",
	}, []string{"status"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surveillance_validation_cache_lookups_total",
		Help: "Validation parameter cache lookups by parameter and result",
	}, []string{"parameter", "result"})

	WeightingRefreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "surveillance_weighting_refresh_duration_seconds",
		Help:    "Duration of weighting refresh passes",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"pass"})

	ScheduledJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "surveillance_scheduled_job_runs_total",
		Help: "Scheduled job executions by job and result",
	}, []string{"job", "result"})

	CompletionQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "surveillance_completion_queue_depth",
		Help: "Completion events waiting for the single worker",
	})
)
