package governance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// checksTotal counts policy check results.
	// Labels: outcome (allow, deny), reason
	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crucible",
			Subsystem: "governance",
			Name:      "checks_total",
			Help:      "Total governance policy checks by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	// hitlTotal counts HITL gate consultations.
	// Labels: outcome (allow, deny), severity
	hitlTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crucible",
			Subsystem: "governance",
			Name:      "hitl_total",
			Help:      "Total HITL gate consultations by outcome and severity",
		},
		[]string{"outcome", "severity"},
	)
)
