package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebridge_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// Invitations counts create calls by kind and outcome (created|existing|error).
	Invitations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebridge_invitations_total",
			Help: "Invitation create requests by kind and outcome",
		},
		[]string{"kind", "result"},
	)

	// InvitationTransitions counts terminal transitions (accepted|cancelled|expired).
	InvitationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebridge_invitation_transitions_total",
			Help: "Invitation state transitions out of pending",
		},
		[]string{"status"},
	)

	// InvitationsExpired counts rows moved to expired by the sweep job.
	InvitationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carebridge_invitations_expired_total",
			Help: "Invitations expired by the background sweep",
		},
	)

	// ProviderLinks counts link calls by resolver branch (existing|reactivated|created).
	ProviderLinks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebridge_provider_links_total",
			Help: "Provider link requests by resolution branch",
		},
		[]string{"branch"},
	)

	// MaintenanceRuns counts background job runs by job and result (success|failure).
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebridge_maintenance_runs_total",
			Help: "Maintenance job runs by job and result",
		},
		[]string{"job", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carebridge_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
