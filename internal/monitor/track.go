package monitor

import (
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/logger"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"
)

// Tracker is the scoped handle returned by TrackOperation. Exactly one
// sample is recorded per handle, through End or EndWithError.
type Tracker struct {
	m         *Monitor
	id        string
	component string
	operation string
	start     time.Time
	startHeap uint64
	startCPU  float64
	finished  bool
}

// TrackOperation captures start time, heap usage and CPU time, returning a
// handle that records one sample on release.
func (m *Monitor) TrackOperation(component, operation string) *Tracker {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return &Tracker{
		m:         m,
		id:        uuid.NewString(),
		component: component,
		operation: operation,
		start:     time.Now(),
		startHeap: ms.HeapAlloc,
		startCPU:  processCPUMillis(),
	}
}

// End records the sample as successful
func (t *Tracker) End() {
	t.finish(true, nil)
}

// EndWithError records the sample as failed and hands the caller's error
// straight back, so measurement never masks the original failure.
func (t *Tracker) EndWithError(err error) error {
	t.finish(err == nil, nil)
	return err
}

func (t *Tracker) finish(success bool, metadata map[string]any) {
	if t.finished {
		return
	}
	t.finished = true

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	memoryMB := (float64(ms.HeapAlloc) - float64(t.startHeap)) / (1024 * 1024)
	cpuMS := processCPUMillis() - t.startCPU
	durationMS := float64(time.Since(t.start).Microseconds()) / 1000

	t.m.record(Sample{
		ID:         t.id,
		Timestamp:  time.Now(),
		Component:  t.component,
		Operation:  t.operation,
		DurationMS: durationMS,
		MemoryMB:   memoryMB,
		CPUTimeMS:  cpuMS,
		Success:    success,
		Metadata:   metadata,
	})
}

// Track runs fn inside a tracked scope. The sample is recorded whether fn
// returns an error or panics, and the original error or panic always
// propagates to the caller.
func (m *Monitor) Track(component, operation string, fn func() error) error {
	t := m.TrackOperation(component, operation)

	defer func() {
		if r := recover(); r != nil {
			t.finish(false, map[string]any{"panic": true})
			panic(r)
		}
	}()

	err := fn()
	t.finish(err == nil, nil)
	return err
}

// RecordMetric is the manual recording path, with the same storage and
// alerting semantics as scoped tracking.
func (m *Monitor) RecordMetric(component, operation string, durationMS float64, success bool, metadata map[string]any) {
	m.record(Sample{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Component:  component,
		Operation:  operation,
		DurationMS: durationMS,
		Success:    success,
		Metadata:   metadata,
	})
}

// record is the single sink for operation samples: it feeds the in-memory
// analytics window, stages a raw metric for persistence, checks alert
// thresholds and fans out to metric callbacks.
func (m *Monitor) record(s Sample) {
	m.mu.Lock()
	m.samples = append(m.samples, s)
	if overflow := len(m.samples) - m.cfg.MaxMetricsHistory; overflow > 0 {
		m.samples = m.samples[overflow:]
	}
	m.metricsCollected++
	cfg := m.cfg
	m.mu.Unlock()

	meta := map[string]any{
		"operation_id": s.ID,
		"success":      s.Success,
	}
	if s.MemoryMB != 0 {
		meta["memory_delta_mb"] = s.MemoryMB
	}
	if s.CPUTimeMS != 0 {
		meta["cpu_time_ms"] = s.CPUTimeMS
	}
	for k, v := range s.Metadata {
		meta[k] = v
	}

	raw := metric.New(
		s.Operation+"_duration_ms",
		s.DurationMS,
		"ms",
		metric.KindTimer,
		s.Component,
		map[string]string{"operation": s.Operation},
		meta,
	)
	raw.Timestamp = s.Timestamp
	m.buf.Add([]metric.Metric{raw})

	m.checkThresholds(s, cfg.ResponseTimeThresholdMS, cfg.MemoryThresholdMB, cfg.ErrorRateThreshold)
	m.notifyMetric(s)
}

// checkThresholds logs threshold breaches and tracks the rolling error rate
// over the component's last few samples.
func (m *Monitor) checkThresholds(s Sample, durationThreshold, memoryThreshold, errorRateThreshold float64) {
	if durationThreshold > 0 && s.DurationMS > durationThreshold {
		logger.Warn().
			Str("component", s.Component).
			Str("operation", s.Operation).
			Float64("duration_ms", s.DurationMS).
			Float64("threshold_ms", durationThreshold).
			Msg("Operation exceeded duration threshold")
		m.mu.Lock()
		m.alertsGenerated++
		m.mu.Unlock()
	}

	if memoryThreshold > 0 && s.MemoryMB > memoryThreshold {
		logger.Warn().
			Str("component", s.Component).
			Str("operation", s.Operation).
			Float64("memory_mb", s.MemoryMB).
			Float64("threshold_mb", memoryThreshold).
			Msg("Operation exceeded memory threshold")
		m.mu.Lock()
		m.alertsGenerated++
		m.mu.Unlock()
	}

	if errorRateThreshold <= 0 {
		return
	}

	m.mu.Lock()
	var seen, failed int
	for i := len(m.samples) - 1; i >= 0 && seen < recentErrorWindow; i-- {
		if m.samples[i].Component != s.Component {
			continue
		}
		seen++
		if !m.samples[i].Success {
			failed++
		}
	}
	m.mu.Unlock()

	if seen == 0 {
		return
	}
	rate := float64(failed) / float64(seen)
	if rate > errorRateThreshold {
		logger.Error().
			Str("component", s.Component).
			Float64("error_rate", rate).
			Float64("threshold", errorRateThreshold).
			Int("window", seen).
			Msg("Component error rate above threshold")
		m.mu.Lock()
		m.alertsGenerated++
		m.mu.Unlock()
	}
}

// processCPUMillis returns cumulative user+system CPU time for the process
func processCPUMillis() float64 {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	user := float64(ru.Utime.Sec)*1000 + float64(ru.Utime.Usec)/1000
	sys := float64(ru.Stime.Sec)*1000 + float64(ru.Stime.Usec)/1000
	return user + sys
}
