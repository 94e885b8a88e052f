package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts finished runs.
	// Labels: domain, outcome (completed, blocked, error)
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crucible",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total pipeline runs by domain and outcome",
		},
		[]string{"domain", "outcome"},
	)

	// stageDuration observes wall time per stage.
	// Labels: stage
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crucible",
			Subsystem: "engine",
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each pipeline stage",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// iterationsPerRun observes reflection budget consumption.
	iterationsPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "crucible",
			Subsystem: "engine",
			Name:      "iterations_per_run",
			Help:      "Reflection iterations consumed per run",
			Buckets:   prometheus.LinearBuckets(0, 1, 6),
		},
	)
)
