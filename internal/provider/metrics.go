package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts Generate calls.
	// Labels: family, outcome (success, error, unconfigured)
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crucible",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total provider generate calls by family and outcome",
		},
		[]string{"family", "outcome"},
	)

	// routesTotal counts routing decisions.
	// Labels: family (a backend family, or "offline")
	routesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crucible",
			Subsystem: "provider",
			Name:      "routes_total",
			Help:      "Total routing decisions by selected backend family",
		},
		[]string{"family"},
	)
)
