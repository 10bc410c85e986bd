package source_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthThreshold(t *testing.T) {
	s := source.NewSystemSource(5)
	errCollect := errors.New("collect failed")

	for i := 0; i < 4; i++ {
		s.RecordError(errCollect)
		assert.True(t, s.IsHealthy(), "healthy below the threshold")
	}

	s.RecordError(errCollect)
	assert.False(t, s.IsHealthy(), "unhealthy at the threshold")

	s.ResetHealth()
	assert.True(t, s.IsHealthy(), "healthy again after reset")
	assert.NoError(t, s.LastError())
}

func TestSystemSourceCollect(t *testing.T) {
	s := source.NewSystemSource(0)

	metrics, err := s.Collect(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, metrics)

	byName := map[string]metric.Metric{}
	for _, m := range metrics {
		assert.Equal(t, source.SystemSourceName, m.Source)
		assert.True(t, m.Kind.Valid())
		byName[m.Name] = m
	}
	assert.Contains(t, byName, "memory_heap_alloc_bytes")
	assert.Contains(t, byName, "goroutines")
	assert.GreaterOrEqual(t, byName["cpu_cores"].Value, 1.0)
}

func TestSystemSourceCollectCancelled(t *testing.T) {
	s := source.NewSystemSource(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Collect(ctx)
	assert.Error(t, err)
}

func TestApplicationSourceCounters(t *testing.T) {
	s := source.NewApplicationSource(0)
	s.Inc("documents_analyzed")
	s.Inc("documents_analyzed")
	s.Add("bytes_processed", 512)
	s.SetGauge("queue_depth", 7)

	metrics, err := s.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, metrics, 3)

	values := map[string]float64{}
	kinds := map[string]metric.Kind{}
	for _, m := range metrics {
		values[m.Name] = m.Value
		kinds[m.Name] = m.Kind
	}
	assert.Equal(t, 2.0, values["documents_analyzed"])
	assert.Equal(t, 512.0, values["bytes_processed"])
	assert.Equal(t, 7.0, values["queue_depth"])
	assert.Equal(t, metric.KindCounter, kinds["documents_analyzed"])
	assert.Equal(t, metric.KindGauge, kinds["queue_depth"])
}

func TestModelTimingSourceDrainsQueue(t *testing.T) {
	s := source.NewModelTimingSource(0, 10)
	s.ObserveInference("summarizer", 120*time.Millisecond, true)
	s.ObserveInference("classifier", 80*time.Millisecond, false)

	metrics, err := s.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, metrics, 2)

	assert.Equal(t, "inference_duration_ms", metrics[0].Name)
	assert.Equal(t, 120.0, metrics[0].Value)
	assert.Equal(t, metric.KindTimer, metrics[0].Kind)
	assert.Equal(t, "summarizer", metrics[0].Tags["model"])
	assert.Equal(t, false, metrics[1].Metadata["success"])

	// Queue was drained
	metrics, err = s.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, metrics)
}

func TestModelTimingSourceBoundedQueue(t *testing.T) {
	s := source.NewModelTimingSource(0, 3)
	for i := 0; i < 5; i++ {
		s.ObserveInference("m", time.Duration(i)*time.Millisecond, true)
	}

	metrics, err := s.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, metrics, 3)
	assert.Equal(t, 2.0, metrics[0].Value, "oldest observations dropped")
}
