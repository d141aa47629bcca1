package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Core authentication and session metrics.
var (
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Authentication attempts by outcome.",
		},
		[]string{"outcome"}, // ok | invalid_credentials | locked | rate_limited | error
	)

	TokenValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_validations_total",
			Help: "Token validations by result.",
		},
		[]string{"result"}, // ok | expired | malformed | revoked | wrong_type
	)

	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_refreshes_total",
			Help: "Refresh-token rotations by result.",
		},
		[]string{"result"}, // ok | rejected | replay
	)

	Revocations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_revocations_total",
		Help: "Tokens pushed into the revocation registry.",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auth_active_sessions",
		Help: "Sessions currently active.",
	})

	AuthzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_authz_decisions_total",
			Help: "Authorization checks by decision.",
		},
		[]string{"decision"}, // granted | denied
	)

	AuditEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_events_total",
		Help: "Security events recorded by the audit sink.",
	})

	AuditPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_publish_failures_total",
		Help: "Security events the external sink failed to accept.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		LoginAttempts,
		TokenValidations,
		TokenRefreshes,
		Revocations,
		ActiveSessions,
		AuthzDecisions,
		AuditEvents,
		AuditPublishFailures,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
