// Package metrics exposes prometheus collectors for the transfer engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records transfer outcomes. A nil *Collector is a valid no-op so
// tests can construct services without metrics plumbing.
type Collector struct {
	registry       *prometheus.Registry
	transfersTotal *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	transfersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "banknode_transfers_total",
			Help: "Transfers processed, by direction (local, outbound, inbound) and outcome (completed, failed, rejected).",
		},
		[]string{"direction", "outcome"},
	)
	registry.MustRegister(transfersTotal)
	return &Collector{registry: registry, transfersTotal: transfersTotal}
}

// RecordTransfer counts one transfer outcome.
func (c *Collector) RecordTransfer(direction, outcome string) {
	if c == nil {
		return
	}
	c.transfersTotal.WithLabelValues(direction, outcome).Inc()
}

// Handler serves the /metrics endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
