package collector_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/collector"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource produces canned metrics or a canned failure
type fakeSource struct {
	source.BaseSource
	metrics   []metric.Metric
	err       error
	panicking bool
	calls     atomic.Int64
}

func newFakeSource(name string, values ...float64) *fakeSource {
	s := &fakeSource{BaseSource: source.NewBaseSource(name, 5)}
	for _, v := range values {
		s.metrics = append(s.metrics, metric.New(name+"_value", v, "count", metric.KindGauge, name, nil, nil))
	}
	return s
}

func (*fakeSource) IsAvailable() bool { return true }

func (s *fakeSource) Collect(context.Context) ([]metric.Metric, error) {
	s.calls.Add(1)
	if s.panicking {
		panic("source exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.metrics, nil
}

func TestRegisterReplacesDuplicate(t *testing.T) {
	c := collector.New(100, time.Second)
	first := newFakeSource("dup", 1)
	second := newFakeSource("dup", 2)

	c.Register(first)
	c.Register(second)

	assert.Len(t, c.Sources(), 1)
	got, ok := c.Source("dup")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestUnregisterAbsentReturnsFalse(t *testing.T) {
	c := collector.New(100, time.Second)
	assert.False(t, c.Unregister("missing"))

	c.Register(newFakeSource("present", 1))
	assert.True(t, c.Unregister("present"))
	assert.False(t, c.Unregister("present"))
}

func TestCollectAllIsolatesFailures(t *testing.T) {
	c := collector.New(100, time.Second)
	healthy := newFakeSource("good", 1, 2)
	failing := newFakeSource("bad")
	failing.err = errors.New("boom")
	panicky := newFakeSource("worse")
	panicky.panicking = true

	c.Register(healthy)
	c.Register(failing)
	c.Register(panicky)

	collected := c.CollectAll(context.Background())
	assert.Len(t, collected, 2, "healthy source still collected")
	assert.Error(t, failing.LastError())
	assert.Error(t, panicky.LastError())
}

func TestCollectAllSkipsUnhealthySources(t *testing.T) {
	c := collector.New(100, time.Second)
	failing := newFakeSource("flaky")
	failing.err = errors.New("down")
	c.Register(failing)

	for i := 0; i < 5; i++ {
		c.CollectAll(context.Background())
	}
	require.False(t, failing.IsHealthy())
	assert.NotContains(t, c.HealthySources(), "flaky")

	callsBefore := failing.calls.Load()
	c.CollectAll(context.Background())
	assert.Equal(t, callsBefore, failing.calls.Load(), "unhealthy source not invoked")

	failing.err = nil
	failing.ResetHealth()
	failing.metrics = []metric.Metric{metric.New("flaky_value", 1, "count", metric.KindGauge, "flaky", nil, nil)}
	collected := c.CollectAll(context.Background())
	assert.Len(t, collected, 1, "included again after health reset")
}

func TestCallbacksReceiveBatchesAndPanicsAreContained(t *testing.T) {
	c := collector.New(100, time.Second)
	c.Register(newFakeSource("src", 1, 2, 3))

	var received atomic.Int64
	c.AddCallback(func(batch []metric.Metric) {
		received.Add(int64(len(batch)))
	})
	c.AddCallback(func([]metric.Metric) {
		panic("callback exploded")
	})

	assert.NotPanics(t, func() {
		c.CollectAll(context.Background())
	})
	assert.Equal(t, int64(3), received.Load())
}

func TestRecentAndBySource(t *testing.T) {
	c := collector.New(4, time.Second)
	c.Register(newFakeSource("a", 1, 2))
	c.Register(newFakeSource("b", 3))

	c.CollectAll(context.Background())
	c.CollectAll(context.Background())

	recent := c.Recent(0)
	assert.Len(t, recent, 4, "history bounded by ring size")

	fromA := c.BySource("a", 0)
	for _, m := range fromA {
		assert.Equal(t, "a", m.Source)
	}
	assert.NotEmpty(t, fromA)

	one := c.Recent(1)
	require.Len(t, one, 1)
}

func TestPeriodicCollection(t *testing.T) {
	c := collector.New(100, time.Second)
	src := newFakeSource("tick", 1)
	c.Register(src)

	c.StartPeriodic(context.Background(), 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	c.StopPeriodic()

	calls := src.calls.Load()
	assert.Greater(t, calls, int64(1), "collected repeatedly")

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, src.calls.Load(), "no collection after stop")
}
