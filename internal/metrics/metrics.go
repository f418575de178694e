// Package metrics provides Prometheus metrics for the Bullhorn gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// OAuthGrantTotal counts token endpoint calls by grant type.
	OAuthGrantTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bullhorn_gateway",
			Subsystem: "oauth",
			Name:      "grants_total",
			Help:      "Total number of OAuth token grants requested",
		},
		[]string{"grant", "result"},
	)

	// SessionExchangeTotal counts BhRestToken exchanges by login endpoint kind.
	SessionExchangeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bullhorn_gateway",
			Subsystem: "session",
			Name:      "exchanges_total",
			Help:      "Total number of REST session exchanges",
		},
		[]string{"endpoint", "result"},
	)

	// QueryTotal counts vendor REST queries.
	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bullhorn_gateway",
			Subsystem: "rest",
			Name:      "queries_total",
			Help:      "Total number of Bullhorn REST queries",
		},
		[]string{"entity", "result"},
	)

	// MaintainerState exposes the current maintainer state as a one-hot gauge.
	MaintainerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bullhorn_gateway",
			Subsystem: "maintainer",
			Name:      "state",
			Help:      "Current token maintainer state (1 for the active state)",
		},
		[]string{"state"},
	)

	// MaintainerTickTotal counts maintainer ticks by outcome.
	MaintainerTickTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bullhorn_gateway",
			Subsystem: "maintainer",
			Name:      "ticks_total",
			Help:      "Total number of maintainer ticks",
		},
		[]string{"result"},
	)

	// HTTPRequestDuration observes served request latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bullhorn_gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests served by the gateway",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		OAuthGrantTotal,
		SessionExchangeTotal,
		QueryTotal,
		MaintainerState,
		MaintainerTickTotal,
		HTTPRequestDuration,
	)
}

func result(success bool) string {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// IncrementOAuthGrant increments the grant counter.
func IncrementOAuthGrant(grant string, success bool) {
	OAuthGrantTotal.WithLabelValues(grant, result(success)).Inc()
}

// IncrementSessionExchange increments the session exchange counter.
func IncrementSessionExchange(endpoint string, success bool) {
	SessionExchangeTotal.WithLabelValues(endpoint, result(success)).Inc()
}

// IncrementQuery increments the REST query counter.
func IncrementQuery(entity string, success bool) {
	QueryTotal.WithLabelValues(entity, result(success)).Inc()
}

// IncrementMaintainerTick increments the tick counter.
func IncrementMaintainerTick(success bool) {
	MaintainerTickTotal.WithLabelValues(result(success)).Inc()
}

// SetMaintainerState marks current as the active state among all.
func SetMaintainerState(current string, all []string) {
	for _, s := range all {
		val := 0.0
		if s == current {
			val = 1.0
		}
		MaintainerState.WithLabelValues(s).Set(val)
	}
}
