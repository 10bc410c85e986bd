package source

import (
	"context"
	"runtime"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"
)

const SystemSourceName = "system"

// SystemSource reports process resource statistics from the Go runtime:
// heap usage, GC activity and goroutine count.
type SystemSource struct {
	BaseSource
}

func NewSystemSource(errorThreshold int) *SystemSource {
	return &SystemSource{
		BaseSource: NewBaseSource(SystemSourceName, errorThreshold),
	}
}

func (*SystemSource) IsAvailable() bool {
	return true
}

func (s *SystemSource) Collect(ctx context.Context) ([]metric.Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	name := s.Name()
	return []metric.Metric{
		metric.New("memory_heap_alloc_bytes", float64(ms.HeapAlloc), "bytes", metric.KindGauge, name, nil, nil),
		metric.New("memory_heap_sys_bytes", float64(ms.HeapSys), "bytes", metric.KindGauge, name, nil, nil),
		metric.New("memory_total_alloc_bytes", float64(ms.TotalAlloc), "bytes", metric.KindCounter, name, nil, nil),
		metric.New("gc_cycles_total", float64(ms.NumGC), "count", metric.KindCounter, name, nil, nil),
		metric.New("gc_pause_total_ms", float64(ms.PauseTotalNs)/1e6, "ms", metric.KindCounter, name, nil, nil),
		metric.New("goroutines", float64(runtime.NumGoroutine()), "count", metric.KindGauge, name, nil, nil),
		metric.New("cpu_cores", float64(runtime.NumCPU()), "count", metric.KindGauge, name, nil, nil),
	}, nil
}
