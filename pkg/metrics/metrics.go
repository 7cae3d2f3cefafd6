package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "talentbase", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "talentbase", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	AuthResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "talentbase", Name: "auth_resolutions_total", Help: "Authenticator outcomes by adapter (http, socket) and result code."},
		[]string{"adapter", "result"},
	)
	SessionRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "talentbase", Name: "session_refreshes_total", Help: "Upstream session refresh attempts by outcome (hit, refreshed, failed)."},
		[]string{"outcome"},
	)
	LoginThrottleBlocks = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "talentbase", Name: "login_throttle_blocks_total", Help: "Logins rejected by the failed-attempt throttle."},
	)
	DecryptFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "talentbase", Name: "session_decrypt_failures_total", Help: "Stored credentials that failed authenticated decryption."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(AuthResolutions)
	reg.MustRegister(SessionRefreshes)
	reg.MustRegister(LoginThrottleBlocks)
	reg.MustRegister(DecryptFailures)
}
