// Package dytrust validates certificate chains at a control time: chain
// building, trust anchors, extension consistency, name constraints, the
// certificate policy tree and revocation status.
package dytrust

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/yuxki/dytrust/pkg/revocation"
)

var (
	initOnce sync.Once
	errInit  error
)

// Init performs the process-wide initialization: it registers the
// revocation metrics with reg. It must be called once by the application
// before serving metrics; later calls return the result of the first one.
func Init(reg prometheus.Registerer) error {
	initOnce.Do(func() {
		errInit = revocation.RegisterMetrics(reg)
	})
	return errInit
}
