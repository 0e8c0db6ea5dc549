package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for shipment consolidation.
type Metrics struct {
	ShipmentsCreated prometheus.Counter
	Departures       prometheus.Counter
	Arrivals         prometheus.Counter
	Unlinks          prometheus.Counter
}

// New creates and registers consolidation metrics.
func New() *Metrics {
	return &Metrics{
		ShipmentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_shipments_created_total",
			Help: "Total number of shipments created by consolidation",
		}),
		Departures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_shipment_departures_total",
			Help: "Total number of shipments marked departed",
		}),
		Arrivals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_shipment_arrivals_total",
			Help: "Total number of shipments marked arrived",
		}),
		Unlinks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_shipment_unlinks_total",
			Help: "Total number of packages unlinked before departure",
		}),
	}
}
