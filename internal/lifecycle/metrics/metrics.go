package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for package lifecycle operations.
type Metrics struct {
	PackagesCreated prometheus.Counter
	Transitions     *prometheus.CounterVec
	Exceptions      prometheus.Counter
}

// New creates and registers lifecycle metrics.
func New() *Metrics {
	return &Metrics{
		PackagesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_packages_created_total",
			Help: "Total number of packages created at intake",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_package_transitions_total",
			Help: "Total number of package status transitions by target state",
		}, []string{"target"}),
		Exceptions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_package_exceptions_total",
			Help: "Total number of packages marked exception",
		}),
	}
}
