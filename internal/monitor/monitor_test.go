package monitor_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/collector"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/config"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path string) error {
	return os.WriteFile(path, []byte("placeholder"), 0o644)
}

func writeFileWith(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func newTestMonitor(t *testing.T) *monitor.Monitor {
	t.Helper()
	cfg := config.Default()
	cfg.StoragePath = t.TempDir()
	cfg.CollectionInterval = 1
	return monitor.New(cfg, collector.New(100, time.Second))
}

func TestLifecycleIdempotence(t *testing.T) {
	m := newTestMonitor(t)
	assert.Equal(t, monitor.StateStopped, m.State())

	assert.True(t, m.Stop(), "stop while stopped is a no-op returning true")
	assert.Equal(t, monitor.StateStopped, m.State())

	require.True(t, m.Start())
	assert.Equal(t, monitor.StateRunning, m.State())
	assert.True(t, m.Start(), "start while running is a no-op returning true")
	assert.Equal(t, monitor.StateRunning, m.State())

	assert.True(t, m.Stop())
	assert.Equal(t, monitor.StateStopped, m.State())
	assert.True(t, m.Stop())
}

func TestStartFailureTransitionsToError(t *testing.T) {
	cfg := config.Default()
	// A file where the storage directory should be makes storage init fail
	base := t.TempDir()
	blocked := filepath.Join(base, "blocked")
	require.NoError(t, writeFile(blocked))
	cfg.StoragePath = filepath.Join(blocked, "data")

	m := monitor.New(cfg, collector.New(100, time.Second))
	assert.False(t, m.Start())
	assert.Equal(t, monitor.StateError, m.State())
	assert.NotEmpty(t, m.LastError())
}

func TestTrackOperationRecordsOneSample(t *testing.T) {
	m := newTestMonitor(t)

	tr := m.TrackOperation("application", "analyze_document")
	time.Sleep(5 * time.Millisecond)
	tr.End()

	stats := m.ComponentPerformance("application", 1)
	assert.Equal(t, 1, stats.TotalOperations)
	assert.Equal(t, 1.0, stats.SuccessRate)
	assert.Positive(t, stats.AvgDurationMS)
}

func TestTrackReturnsOriginalError(t *testing.T) {
	m := newTestMonitor(t)
	sentinel := errors.New("analysis failed")

	err := m.Track("application", "analyze_document", func() error {
		return sentinel
	})
	assert.Same(t, sentinel, err, "measurement never masks the caller's error")

	stats := m.ComponentPerformance("application", 1)
	assert.Equal(t, 1, stats.TotalOperations)
	assert.Equal(t, 0.0, stats.SuccessRate)
}

func TestTrackRecordsSampleOnPanic(t *testing.T) {
	m := newTestMonitor(t)

	assert.PanicsWithValue(t, "boom", func() {
		_ = m.Track("application", "explode", func() error {
			panic("boom")
		})
	})

	stats := m.ComponentPerformance("application", 1)
	assert.Equal(t, 1, stats.TotalOperations, "exactly one sample despite the panic")
	assert.Equal(t, 0.0, stats.SuccessRate)
}

func TestEndWithErrorPassthrough(t *testing.T) {
	m := newTestMonitor(t)
	sentinel := errors.New("still the same error")

	tr := m.TrackOperation("application", "op")
	got := tr.EndWithError(sentinel)
	assert.Same(t, sentinel, got)

	tr2 := m.TrackOperation("application", "op")
	assert.NoError(t, tr2.EndWithError(nil))

	stats := m.ComponentPerformance("application", 1)
	assert.Equal(t, 2, stats.TotalOperations)
	assert.Equal(t, 0.5, stats.SuccessRate)
}

func TestComponentPerformanceEndToEnd(t *testing.T) {
	m := newTestMonitor(t)
	for _, d := range []float64{100, 200, 300} {
		m.RecordMetric("application", "handle_request", d, true, nil)
	}

	stats := m.ComponentPerformance("application", 1)
	assert.Equal(t, 3, stats.TotalOperations)
	assert.Equal(t, 200.0, stats.AvgDurationMS)
	assert.Equal(t, 100.0, stats.MinDurationMS)
	assert.Equal(t, 300.0, stats.MaxDurationMS)
	assert.Equal(t, 1.0, stats.SuccessRate)
	assert.Equal(t, 300.0, stats.P95DurationMS, "nearest rank over three samples")
	assert.Equal(t, 300.0, stats.P99DurationMS)
}

func TestComponentPerformanceEmpty(t *testing.T) {
	m := newTestMonitor(t)
	stats := m.ComponentPerformance("absent", 1)
	assert.Zero(t, stats.TotalOperations)
	assert.Zero(t, stats.AvgDurationMS)
}

func TestSystemHealth(t *testing.T) {
	m := newTestMonitor(t)

	health := m.SystemHealth()
	assert.Equal(t, "no_data", health.Status)

	m.RecordMetric("application", "op", 50, true, nil)
	m.RecordMetric("application", "op", 150, true, nil)

	health = m.SystemHealth()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Operations)
	assert.Equal(t, 100.0, health.AvgDurationMS)
	assert.Equal(t, 0.0, health.ErrorRate)
	assert.InDelta(t, 0.4, health.Throughput, 1e-9, "two operations over five minutes, per minute")
}

func TestSystemHealthDegraded(t *testing.T) {
	m := newTestMonitor(t)
	// Half the operations fail: well above the default error-rate threshold
	m.RecordMetric("application", "op", 10, true, nil)
	m.RecordMetric("application", "op", 10, false, nil)

	health := m.SystemHealth()
	assert.Contains(t, []string{"degraded", "critical"}, health.Status)
	assert.Equal(t, 0.5, health.ErrorRate)
}

func TestBottlenecks(t *testing.T) {
	m := newTestMonitor(t)

	// 10 operations, exactly 3 above 1000ms
	m.RecordMetric("export", "export_pdf", 1500, true, nil)
	m.RecordMetric("export", "export_pdf", 2500, true, nil)
	m.RecordMetric("ai", "ai_analysis", 4000, true, nil)
	for i := 0; i < 7; i++ {
		m.RecordMetric("application", "fast_op", 50, true, nil)
	}

	got := m.Bottlenecks(1000)
	require.Len(t, got, 2, "grouped by component.operation")

	assert.Equal(t, "ai.ai_analysis", got[0].Key, "ranked by count times average duration")
	assert.Equal(t, 1, got[0].Occurrences)
	assert.Equal(t, 4000.0, got[0].Impact)
	assert.NotEmpty(t, got[0].Suggestions)

	assert.Equal(t, "export.export_pdf", got[1].Key)
	assert.Equal(t, 2, got[1].Occurrences)
	assert.Equal(t, 2000.0, got[1].AvgDurationMS)
	assert.Equal(t, 4000.0, got[1].Impact)
}

func TestBottlenecksTieBreaksAreStable(t *testing.T) {
	m := newTestMonitor(t)
	m.RecordMetric("a", "slow_query", 2000, true, nil)

	got := m.Bottlenecks(1000)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Suggestions[0], "indices")
}

func TestPerformanceTrends(t *testing.T) {
	m := newTestMonitor(t)
	m.RecordMetric("application", "op", 100, true, nil)
	m.RecordMetric("application", "op", 300, false, nil)

	points := m.PerformanceTrends(1)
	require.NotEmpty(t, points)
	last := points[len(points)-1]
	assert.Equal(t, 2, last.Operations)
	assert.Equal(t, 200.0, last.AvgDurationMS)
	assert.Equal(t, 0.5, last.SuccessRate)
}

func TestMetricCallbacks(t *testing.T) {
	m := newTestMonitor(t)

	var got []monitor.Sample
	id := m.AddMetricCallback(func(s monitor.Sample) {
		got = append(got, s)
	})
	panicID := m.AddMetricCallback(func(monitor.Sample) {
		panic("callback exploded")
	})

	assert.NotPanics(t, func() {
		m.RecordMetric("application", "op", 10, true, nil)
	})
	require.Len(t, got, 1)
	assert.Equal(t, "op", got[0].Operation)

	assert.True(t, m.RemoveMetricCallback(id))
	assert.False(t, m.RemoveMetricCallback(id), "second removal reports absence")
	assert.True(t, m.RemoveMetricCallback(panicID))

	m.RecordMetric("application", "op", 10, true, nil)
	assert.Len(t, got, 1, "removed callback no longer invoked")
}

func TestStatusCallbackRegistration(t *testing.T) {
	m := newTestMonitor(t)
	id := m.AddStatusCallback(func(monitor.Status) {})
	assert.True(t, m.RemoveStatusCallback(id))
	assert.False(t, m.RemoveStatusCallback("unknown"))
}

func TestExportImportConfiguration(t *testing.T) {
	m := newTestMonitor(t)
	path := filepath.Join(t.TempDir(), "config", "monitoring.toml")

	require.True(t, m.ExportConfiguration(path))
	assert.True(t, m.ImportConfiguration(path))
}

func TestImportConfigurationFailure(t *testing.T) {
	m := newTestMonitor(t)

	assert.False(t, m.ImportConfiguration(filepath.Join(t.TempDir(), "missing.toml")))
	assert.NotEmpty(t, m.LastError())

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, writeFileWith(bad, "not [valid toml"))
	assert.False(t, m.ImportConfiguration(bad))
}

func TestConfigureRejectsInvalid(t *testing.T) {
	m := newTestMonitor(t)
	cfg := config.Default()
	cfg.CollectionInterval = 0
	assert.Error(t, m.Configure(cfg))
}

func TestStatusSnapshot(t *testing.T) {
	m := newTestMonitor(t)
	m.RecordMetric("application", "op", 10, true, nil)

	status := m.Status()
	assert.Equal(t, monitor.StateStopped, status.State)
	assert.Equal(t, uint64(1), status.MetricsCollected)
	assert.Empty(t, status.LastError)

	require.True(t, m.Start())
	defer m.Stop()

	status = m.Status()
	assert.Equal(t, monitor.StateRunning, status.State)
}
