package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for code issuance and verification.
type Metrics struct {
	CodesIssued     prometheus.Counter
	CodesReissued   prometheus.Counter
	Verifications   *prometheus.CounterVec
	Lockouts        prometheus.Counter
	IssueCollisions prometheus.Counter
}

// New creates and registers release metrics.
func New() *Metrics {
	return &Metrics{
		CodesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_release_codes_issued_total",
			Help: "Total number of release codes issued",
		}),
		CodesReissued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_release_codes_reissued_total",
			Help: "Total number of administrative code reissues",
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_verifications_total",
			Help: "Total number of verification attempts by outcome",
		}, []string{"outcome"}),
		Lockouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_verification_lockouts_total",
			Help: "Total number of lockouts triggered by failed verifications",
		}),
		IssueCollisions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_release_code_collisions_total",
			Help: "Total number of code generation retries due to active-code collisions",
		}),
	}
}
