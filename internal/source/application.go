package source

import (
	"context"
	"sync"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"
)

const ApplicationSourceName = "application"

// ApplicationSource exposes application-level counters and gauges. Business
// code increments named counters; each collection cycle snapshots them.
type ApplicationSource struct {
	BaseSource

	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
}

func NewApplicationSource(errorThreshold int) *ApplicationSource {
	return &ApplicationSource{
		BaseSource: NewBaseSource(ApplicationSourceName, errorThreshold),
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
	}
}

func (*ApplicationSource) IsAvailable() bool {
	return true
}

// Inc increments the named counter by one
func (s *ApplicationSource) Inc(name string) {
	s.Add(name, 1)
}

// Add increments the named counter by delta
func (s *ApplicationSource) Add(name string, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += delta
}

// SetGauge records the current value of the named gauge
func (s *ApplicationSource) SetGauge(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[name] = value
}

func (s *ApplicationSource) Collect(ctx context.Context) ([]metric.Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]metric.Metric, 0, len(s.counters)+len(s.gauges))
	for name, value := range s.counters {
		out = append(out, metric.New(name, value, "count", metric.KindCounter, s.Name(), nil, nil))
	}
	for name, value := range s.gauges {
		out = append(out, metric.New(name, value, "value", metric.KindGauge, s.Name(), nil, nil))
	}
	return out, nil
}
