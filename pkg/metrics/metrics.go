package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvitationsCreated counts invitations issued, labelled by invited role.
	InvitationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebook_invitations_created_total",
			Help: "Total number of invitations created",
		},
		[]string{"role"},
	)

	// InvitationOutcomes counts terminal invitation transitions (accepted|expired|revoked).
	InvitationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebook_invitation_outcomes_total",
			Help: "Total number of invitation state transitions to a terminal state",
		},
		[]string{"outcome"},
	)

	// GuardianChanges counts access-graph mutations (add|remove|set_primary).
	GuardianChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebook_guardian_changes_total",
			Help: "Total number of guardian relationship mutations",
		},
		[]string{"action"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gradebook_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
