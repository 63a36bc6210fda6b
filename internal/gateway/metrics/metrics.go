// Package metrics exposes the gateway's Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/b24gate/pkg/b24"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records gateway activity. All methods are safe on a nil
// receiver so components can run without metrics in tests.
type Collector struct {
	authOutcomes    *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	renewals        *prometheus.CounterVec
	keeperRefreshes *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "b24gate_auth_total",
			Help: "Resolved requests by authentication mode and result.",
		}, []string{"mode", "result"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "b24gate_upstream_request_duration_seconds",
			Help:    "Latency of platform requests by method and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "outcome"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "b24gate_credential_renewals_total",
			Help: "Credential renewals seen by the listener, by result.",
		}, []string{"result"}),
		keeperRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "b24gate_keeper_refreshes_total",
			Help: "Proactive credential refreshes by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.authOutcomes,
		c.upstreamLatency,
		c.renewals,
		c.keeperRefreshes,
	)

	return c
}

// RecordAuth counts one resolver decision.
func (c *Collector) RecordAuth(mode, result string) {
	if c == nil {
		return
	}
	c.authOutcomes.WithLabelValues(mode, result).Inc()
}

// ObserveUpstream matches b24.CallObserver.
func (c *Collector) ObserveUpstream(method string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.upstreamLatency.WithLabelValues(method, outcome(err)).Observe(elapsed.Seconds())
}

// RecordRenewal counts a listener result: applied, stale or failed.
func (c *Collector) RecordRenewal(result string) {
	if c == nil {
		return
	}
	c.renewals.WithLabelValues(result).Inc()
}

// RecordKeeperRefresh counts a keeper refresh: ok or failed.
func (c *Collector) RecordKeeperRefresh(result string) {
	if c == nil {
		return
	}
	c.keeperRefreshes.WithLabelValues(result).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, b24.ErrRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}

// Handler serves the registry for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
