// Package metrics exposes Prometheus collectors for the daemon's cycle
// and event counts, served on an internal localhost-only endpoint.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bm_daemon_cycles_total",
		Help: "Total number of launch cycles executed.",
	})
	WebhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bm_daemon_webhook_events_total",
		Help: "Webhook deliveries received, by outcome.",
	}, []string{"outcome"})
	PollErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bm_daemon_poll_errors_total",
		Help: "Poll attempts that failed (transport or non-2xx).",
	})
	MemberSpawnFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bm_daemon_member_spawn_failures_total",
		Help: "Member launches that failed to spawn.",
	})
)

var registered atomic.Bool

// Register adds all collectors to r. Idempotent: safe to call more
// than once.
func Register(r prometheus.Registerer) error {
	if !registered.CompareAndSwap(false, true) {
		return nil
	}
	for _, c := range []prometheus.Collector{CyclesTotal, WebhookEventsTotal, PollErrorsTotal, MemberSpawnFailuresTotal} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the promhttp handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
