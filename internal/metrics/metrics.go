// Package metrics defines the Prometheus collectors shared by the L1
// store, the secondary-store client, the UDS server and the subscriber
// loop. Registration targets the default Prometheus registry; serving
// them over HTTP is left to an external collaborator.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Tier labels used across the Hit/Error vectors.
const (
	TierL1        = "l1"
	TierSecondary = "secondary"
)

// Op labels used on the server-facing counters.
const (
	OpGetLabel = "get"
	OpSetLabel = "set"
)

// The unit is ms.
var latencyBuckets = []float64{1, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// Set bundles the counters and histogram a Synapse process registers once
// at startup and shares across every component.
type Set struct {
	Hit      *prometheus.CounterVec
	Miss     *prometheus.CounterVec
	Error    *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
	Evicted  prometheus.Counter
	Backoffs prometheus.Counter
}

// New builds a Set named after appName and registers it against reg.
// Registration failures are logged, not fatal (e.g. in tests that
// construct more than one server in the same process).
func New(appName string, reg prometheus.Registerer) *Set {
	s := &Set{
		Hit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_synapse_hit_total", appName),
			Help: "cache hits, labelled by tier",
		}, []string{"tier"}),
		Miss: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_synapse_miss_total", appName),
			Help: "cache misses, labelled by tier",
		}, []string{"tier"}),
		Error: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_synapse_error_total", appName),
			Help: "operation errors, labelled by where they occurred",
		}, []string{"when"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_synapse_latency_ms", appName),
			Help:    "operation latency in ms, labelled by op",
			Buckets: latencyBuckets,
		}, []string{"op"}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_synapse_l1_evicted_total", appName),
			Help: "entries removed from the L1 capacity index, by capacity eviction or by cleanup of expired or unstorable keys",
		}),
		Backoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_synapse_subscriber_backoff_total", appName),
			Help: "number of times the subscriber loop entered a reconnect backoff",
		}),
	}

	for _, c := range []prometheus.Collector{s.Hit, s.Miss, s.Error, s.Latency, s.Evicted, s.Backoffs} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("failed to register metric collector")
		}
	}
	return s
}

// Unregister removes every collector in s from reg. Used by tests that
// construct multiple Sets within one process.
func (s *Set) Unregister(reg prometheus.Registerer) {
	reg.Unregister(s.Hit)
	reg.Unregister(s.Miss)
	reg.Unregister(s.Error)
	reg.Unregister(s.Latency)
	reg.Unregister(s.Evicted)
	reg.Unregister(s.Backoffs)
}
