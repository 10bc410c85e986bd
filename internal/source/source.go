package source

import (
	"sync"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/logger"
)

// DefaultErrorThreshold is the number of consecutive collection errors after
// which a source is considered unhealthy.
const DefaultErrorThreshold = 5

// BaseSource carries the name and health state shared by all source
// implementations. Embed it and implement Collect/IsAvailable.
type BaseSource struct {
	name      string
	threshold int

	mu        sync.Mutex
	errCount  int
	lastError error
}

func NewBaseSource(name string, errorThreshold int) BaseSource {
	if errorThreshold <= 0 {
		errorThreshold = DefaultErrorThreshold
	}
	return BaseSource{
		name:      name,
		threshold: errorThreshold,
	}
}

func (b *BaseSource) Name() string {
	return b.name
}

// RecordError increments the consecutive-error counter. Crossing the
// threshold marks the source unhealthy.
func (b *BaseSource) RecordError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errCount++
	b.lastError = err

	if b.errCount == b.threshold {
		logger.Warn().
			Str("source", b.name).
			Int("consecutive_errors", b.errCount).
			Err(err).
			Msg("Metric source marked unhealthy")
	}
}

func (b *BaseSource) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errCount < b.threshold
}

// ResetHealth clears the error counter, re-admitting the source to
// collection cycles.
func (b *BaseSource) ResetHealth() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errCount = 0
	b.lastError = nil
}

// LastError returns the most recent collection error, if any
func (b *BaseSource) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}
