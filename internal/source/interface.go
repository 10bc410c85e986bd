package source

import (
	"context"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"
)

// Source is a pluggable producer of metrics. Collect may perform I/O and is
// expected to honor ctx cancellation so a hung source cannot stall a
// collection cycle.
type Source interface {
	Name() string
	Collect(ctx context.Context) ([]metric.Metric, error)
	IsAvailable() bool

	// Health tracking: a source becomes unhealthy after a configurable
	// number of consecutive collection errors and stays excluded from
	// collection cycles until ResetHealth is called.
	RecordError(err error)
	IsHealthy() bool
	ResetHealth()
}
