// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluatorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drawcheck_evaluator_duration_seconds",
		Help:    "Duration of one rule evaluation on one page",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 20},
	}, []string{"rule"})

	EvaluatorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drawcheck_evaluator_failures_total",
		Help: "Rule evaluations that errored, panicked or timed out",
	}, []string{"rule", "reason"})

	FindingsPerRevision = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "drawcheck_findings_per_revision",
		Help:    "Clustered findings per analysed revision",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	AutomaticDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drawcheck_automatic_decisions_total",
		Help: "Automatic ledger decisions by kind",
	}, []string{"kind"})

	JudgeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drawcheck_judge_latency_seconds",
		Help:    "Vision judge call latency",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
	}, []string{"op"})

	JudgeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drawcheck_judge_errors_total",
		Help: "Vision judge calls that failed after retries",
	}, []string{"op"})

	JobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drawcheck_jobs_total",
		Help: "Finished analysis jobs by final status",
	}, []string{"status"})
)
