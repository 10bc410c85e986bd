package buffer

import (
	"sync"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/logger"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"
)

const DefaultMaxSize = 10000

// Buffer stages raw metrics between collection and batch persistence. It is
// bounded: when an Add would exceed the limit, the oldest entries are dropped
// so producers never block.
type Buffer struct {
	mu      sync.Mutex
	items   []metric.Metric
	maxSize int
	dropped uint64
}

func New(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Buffer{
		items:   make([]metric.Metric, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends metrics, evicting the oldest entries on overflow
func (b *Buffer) Add(metrics []metric.Metric) {
	if len(metrics) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, metrics...)
	if overflow := len(b.items) - b.maxSize; overflow > 0 {
		b.items = b.items[overflow:]
		b.dropped += uint64(overflow)
		logger.Warn().
			Int("dropped", overflow).
			Int("max_size", b.maxSize).
			Msg("Metric buffer overflow, oldest entries dropped")
	}
}

// Drain atomically swaps out the buffered metrics and returns them. A
// concurrent Add lands either entirely in the returned slice or entirely in
// the fresh buffer, never split.
func (b *Buffer) Drain() []metric.Metric {
	b.mu.Lock()
	defer b.mu.Unlock()

	drained := b.items
	b.items = make([]metric.Metric, 0, b.maxSize)
	return drained
}

// Len returns the number of currently buffered metrics
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns the cumulative count of metrics evicted on overflow
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
