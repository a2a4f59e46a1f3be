// Package metrics instruments the replica with Prometheus collectors and
// serves them over an HTTP /metrics endpoint. Observability is ambient
// stack: spec.md's non-goals exclude business features, not this.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector a replica process exposes.
type Registry struct {
	registry *prometheus.Registry

	OrdersByStatus   *prometheus.CounterVec
	Elections        prometheus.Counter
	ReplicationPulls prometheus.Counter
	LogLength        prometheus.Gauge
	IsLeader         prometheus.Gauge
	OffersSent       prometheus.Counter
	ReapedEntities   *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		OrdersByStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodmesh",
			Name:      "orders_total",
			Help:      "Orders transitioned into a terminal or intermediate status, by status.",
		}, []string{"status"}),
		Elections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foodmesh",
			Name:      "elections_total",
			Help:      "Ring leader elections initiated by this replica.",
		}),
		ReplicationPulls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foodmesh",
			Name:      "replication_pulls_total",
			Help:      "Replication pulls issued to this replica's predecessor.",
		}),
		LogLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "foodmesh",
			Name:      "log_length",
			Help:      "Current number of entries retained in the local operation log.",
		}),
		IsLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "foodmesh",
			Name:      "is_leader",
			Help:      "1 if this replica currently believes itself to be the leader, else 0.",
		}),
		OffersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foodmesh",
			Name:      "courier_offers_sent_total",
			Help:      "NewOfferToDeliver messages sent to candidate couriers.",
		}),
		ReapedEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodmesh",
			Name:      "reaped_entities_total",
			Help:      "Entities removed by the reaper, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(r.OrdersByStatus, r.Elections, r.ReplicationPulls, r.LogLength, r.IsLeader, r.OffersSent, r.ReapedEntities)
	return r
}

// Handler returns the HTTP handler a replica's /metrics endpoint serves.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
