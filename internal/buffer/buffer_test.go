package buffer_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/buffer"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeMetrics(prefix string, n int) []metric.Metric {
	out := make([]metric.Metric, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, metric.New(fmt.Sprintf("%s_%d", prefix, i), float64(i), "count", metric.KindCounter, "test", nil, nil))
	}
	return out
}

func TestAddWithinCapacity(t *testing.T) {
	b := buffer.New(10)
	b.Add(makeMetrics("m", 5))

	assert.Equal(t, 5, b.Len())
	assert.Equal(t, uint64(0), b.Dropped())
}

func TestOverflowDropsOldest(t *testing.T) {
	b := buffer.New(5)
	b.Add(makeMetrics("first", 3))
	b.Add(makeMetrics("second", 4))

	assert.Equal(t, 5, b.Len())
	assert.Equal(t, uint64(2), b.Dropped(), "total added minus max size")

	drained := b.Drain()
	require.Len(t, drained, 5)
	// The two oldest entries from the first batch are gone
	assert.Equal(t, "first_2", drained[0].Name)
	assert.Equal(t, "second_3", drained[4].Name)
}

func TestDrainEmptiesBuffer(t *testing.T) {
	b := buffer.New(10)
	b.Add(makeMetrics("m", 4))

	drained := b.Drain()
	assert.Len(t, drained, 4)
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Drain())
}

func TestDrainIsAtomicWithConcurrentAdd(t *testing.T) {
	const (
		producers = 8
		batches   = 50
		batchSize = 4
	)

	b := buffer.New(producers * batches * batchSize)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < batches; i++ {
				b.Add(makeMetrics(fmt.Sprintf("p%d_b%d", p, i), batchSize))
			}
		}(p)
	}

	stop := make(chan struct{})
	drainedCount := make(chan int, 1)
	go func() {
		total := 0
		for {
			total += len(b.Drain())
			select {
			case <-stop:
				total += len(b.Drain())
				drainedCount <- total
				return
			default:
			}
		}
	}()

	wg.Wait()
	close(stop)

	total := <-drainedCount
	assert.Equal(t, producers*batches*batchSize, total, "no metric lost or duplicated across drains")
	assert.Equal(t, uint64(0), b.Dropped())
}
