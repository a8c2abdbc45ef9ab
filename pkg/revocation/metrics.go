package revocation

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	repositoryLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dytrust",
			Subsystem: "revocation",
			Name:      "repository_lookups_total",
			Help:      "Repository cache lookups by result (hit, miss, stale, error).",
		},
		[]string{"result"},
	)
	repositoryWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dytrust",
			Subsystem: "revocation",
			Name:      "repository_writes_total",
			Help:      "Repository cache writes by operation (insert, update, remove).",
		},
		[]string{"op"},
	)
	onlineFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dytrust",
			Subsystem: "revocation",
			Name:      "online_fetches_total",
			Help:      "Online revocation fetches by result (success, empty, error).",
		},
		[]string{"result"},
	)
)

// RegisterMetrics registers the revocation counters with reg. Registering
// twice is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{repositoryLookups, repositoryWrites, onlineFetches} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
