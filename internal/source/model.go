package source

import (
	"context"
	"sync"
	"time"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/logger"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"
)

const (
	ModelSourceName        = "ai_model"
	defaultTimingQueueSize = 1000
)

type inferenceTiming struct {
	model    string
	duration time.Duration
	success  bool
}

// ModelTimingSource turns externally observed model-inference timings into
// timer metrics. Observations queue up between collection cycles; the queue
// is bounded and drops the oldest observation on overflow.
type ModelTimingSource struct {
	BaseSource

	mu       sync.Mutex
	queue    []inferenceTiming
	maxQueue int
}

func NewModelTimingSource(errorThreshold, maxQueue int) *ModelTimingSource {
	if maxQueue <= 0 {
		maxQueue = defaultTimingQueueSize
	}
	return &ModelTimingSource{
		BaseSource: NewBaseSource(ModelSourceName, errorThreshold),
		maxQueue:   maxQueue,
	}
}

func (*ModelTimingSource) IsAvailable() bool {
	return true
}

// ObserveInference records one model invocation for the next collection cycle
func (s *ModelTimingSource) ObserveInference(model string, duration time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, inferenceTiming{model: model, duration: duration, success: success})
	if len(s.queue) > s.maxQueue {
		s.queue = s.queue[1:]
		logger.Debug().
			Str("error_code", string(ErrQueueFull)).
			Str("model", model).
			Int("max_queue", s.maxQueue).
			Msg("Timing queue full, dropping oldest observation")
	}
}

func (s *ModelTimingSource) Collect(ctx context.Context) ([]metric.Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	out := make([]metric.Metric, 0, len(pending))
	for _, obs := range pending {
		out = append(out, metric.New(
			"inference_duration_ms",
			float64(obs.duration.Milliseconds()),
			"ms",
			metric.KindTimer,
			s.Name(),
			map[string]string{"model": obs.model},
			map[string]any{"success": obs.success},
		))
	}
	return out, nil
}
