package monitor

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/aggregator"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/buffer"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/collector"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/config"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/errors"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/logger"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/storage"
)

const (
	// stopJoinTimeout bounds how long Stop waits for background loops.
	// Stop proceeds to Stopped even when a join times out.
	stopJoinTimeout = 10 * time.Second

	recentErrorWindow = 10
)

// StatusCallback receives a status snapshot from the health-poll loop
type StatusCallback func(Status)

// MetricCallback receives every recorded operation sample
type MetricCallback func(Sample)

// Monitor is the top-level facade over collection, buffering, persistence
// and aggregation. It owns the lifecycle of the collector and aggregator and
// exposes the recording and query APIs.
type Monitor struct {
	mu        sync.Mutex
	state     State
	lastError string
	startedAt time.Time
	cfg       config.Config

	col  *collector.Collector
	buf  *buffer.Buffer
	repo *storage.Repository
	agg  *aggregator.Aggregator

	samples          []Sample
	metricsCollected uint64
	alertsGenerated  uint64
	errorCount       uint64
	lastCollection   time.Time

	statusCallbacks map[string]StatusCallback
	metricCallbacks map[string]MetricCallback

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// New builds a monitor around an externally constructed collector. Sources
// are registered on the collector by the composition root; the monitor never
// reaches into concrete source types.
func New(cfg config.Config, col *collector.Collector) *Monitor {
	m := &Monitor{
		state:           StateStopped,
		cfg:             cfg,
		col:             col,
		buf:             buffer.New(cfg.MaxMetricsHistory),
		statusCallbacks: make(map[string]StatusCallback),
		metricCallbacks: make(map[string]MetricCallback),
	}
	col.AddCallback(m.onCollected)
	return m
}

// State returns the current lifecycle state
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent recorded failure description
func (m *Monitor) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Start brings the monitor to Running: it opens storage, wires the collector
// into the buffer and launches the aggregator, periodic collection and the
// health-poll loop. Calling Start while Running is a no-op returning true;
// while Stopping it returns false without side effects. A failed start
// transitions to Error.
func (m *Monitor) Start() bool {
	m.mu.Lock()
	switch m.state {
	case StateRunning:
		m.mu.Unlock()
		return true
	case StateStopping, StateStarting:
		m.mu.Unlock()
		return false
	}
	m.state = StateStarting
	cfg := m.cfg
	m.mu.Unlock()

	repo, err := storage.NewRepository(storage.Config{DBPath: cfg.DBPath()})
	if err != nil {
		m.failStart(err)
		return false
	}

	agg := aggregator.New(m.buf, repo, cfg.RetentionDays, cfg.MaxMetricsPerBatch)

	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.repo = repo
	m.agg = agg
	m.healthCancel = cancel
	m.healthDone = make(chan struct{})
	m.state = StateRunning
	m.startedAt = time.Now()
	m.lastError = ""
	done := m.healthDone
	m.mu.Unlock()

	agg.Start(ctx)
	m.col.StartPeriodic(ctx, time.Duration(cfg.CollectionInterval)*time.Second)
	go m.healthLoop(ctx, done)

	logger.Info().
		Int("collection_interval_s", cfg.CollectionInterval).
		Str("storage_path", cfg.StoragePath).
		Msg("Performance monitor started")
	return true
}

func (m *Monitor) failStart(err error) {
	m.mu.Lock()
	m.state = StateError
	m.lastError = err.Error()
	m.errorCount++
	m.mu.Unlock()
	logger.Error().Err(err).Msg("Performance monitor failed to start")
}

// Stop brings the monitor to Stopped. It signals every loop, joins with a
// bounded timeout, flushes buffered metrics and closes storage. Stop always
// reaches Stopped, even when a join times out. Calling Stop while Stopped is
// a no-op returning true.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	switch m.state {
	case StateStopped:
		m.mu.Unlock()
		return true
	case StateStopping:
		m.mu.Unlock()
		return false
	}
	m.state = StateStopping
	cancel := m.healthCancel
	healthDone := m.healthDone
	repo := m.repo
	agg := m.agg
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	joined := make(chan struct{})
	go func() {
		defer close(joined)
		m.col.StopPeriodic()
		if agg != nil {
			agg.Stop()
		}
		if healthDone != nil {
			<-healthDone
		}
	}()

	select {
	case <-joined:
	case <-time.After(stopJoinTimeout):
		logger.Warn().Dur("timeout", stopJoinTimeout).Msg("Worker join timed out, abandoning loops")
	}

	if agg != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		agg.Flush(flushCtx)
		flushCancel()
	}
	if repo != nil {
		if err := repo.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
			m.mu.Lock()
			m.lastError = err.Error()
			m.errorCount++
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	m.state = StateStopped
	m.repo = nil
	m.agg = nil
	m.healthCancel = nil
	m.healthDone = nil
	m.mu.Unlock()

	logger.Info().Msg("Performance monitor stopped")
	return true
}

// Configure replaces the monitoring configuration. When the storage path
// changes the new directory is created immediately; a running monitor keeps
// its open store until the next restart.
func (m *Monitor) Configure(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		m.mu.Lock()
		m.lastError = err.Error()
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	pathChanged := cfg.StoragePath != m.cfg.StoragePath
	m.cfg = cfg
	m.mu.Unlock()

	if pathChanged {
		if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
			return errors.New().Wrap(errors.ErrInvalidConfig, err)
		}
		logger.Info().Str("storage_path", cfg.StoragePath).Msg("Storage path updated")
	}
	return nil
}

// ExportConfiguration writes the active configuration to a TOML file
func (m *Monitor) ExportConfiguration(path string) bool {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	if err := config.Save(cfg, path); err != nil {
		m.recordFailure(err)
		return false
	}
	logger.Info().Str("path", path).Msg("Configuration exported")
	return true
}

// ImportConfiguration loads a configuration file and applies it. Missing or
// malformed files yield false and set LastError; the call never panics.
func (m *Monitor) ImportConfiguration(path string) bool {
	cfg, err := config.LoadFile(path)
	if err != nil {
		m.recordFailure(err)
		return false
	}
	if err := m.Configure(cfg); err != nil {
		m.recordFailure(err)
		return false
	}
	logger.Info().Str("path", path).Msg("Configuration imported")
	return true
}

func (m *Monitor) recordFailure(err error) {
	m.mu.Lock()
	m.lastError = err.Error()
	m.errorCount++
	m.mu.Unlock()
	logger.Warn().Err(err).Msg("Monitor operation failed")
}

// Status computes a point-in-time snapshot; nothing here is persisted
func (m *Monitor) Status() Status {
	m.mu.Lock()
	status := Status{
		State:            m.state,
		MetricsCollected: m.metricsCollected,
		AlertsGenerated:  m.alertsGenerated,
		LastCollection:   m.lastCollection,
		ErrorCount:       m.errorCount,
		LastError:        m.lastError,
	}
	if m.state == StateRunning {
		status.Uptime = time.Since(m.startedAt)
	}
	repo := m.repo
	m.mu.Unlock()

	status.ActiveSources = m.col.HealthySources()

	if repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if stats, err := repo.Stats(ctx); err == nil {
			status.StorageUsageMB = float64(stats.SizeBytes) / (1024 * 1024)
		}
		cancel()
	}
	return status
}

// AddStatusCallback registers a status callback and returns its handle
func (m *Monitor) AddStatusCallback(cb StatusCallback) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.statusCallbacks[id] = cb
	return id
}

// RemoveStatusCallback unregisters a status callback by handle
func (m *Monitor) RemoveStatusCallback(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statusCallbacks[id]; !ok {
		return false
	}
	delete(m.statusCallbacks, id)
	return true
}

// AddMetricCallback registers a per-sample callback and returns its handle
func (m *Monitor) AddMetricCallback(cb MetricCallback) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.metricCallbacks[id] = cb
	return id
}

// RemoveMetricCallback unregisters a metric callback by handle
func (m *Monitor) RemoveMetricCallback(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.metricCallbacks[id]; !ok {
		return false
	}
	delete(m.metricCallbacks, id)
	return true
}

// onCollected stages collector batches for persistence and updates counters.
// Batches arriving while the monitor is not running are dropped.
func (m *Monitor) onCollected(batch []metric.Metric) {
	m.mu.Lock()
	running := m.state == StateRunning
	if running {
		m.metricsCollected += uint64(len(batch))
		m.lastCollection = time.Now()
	}
	m.mu.Unlock()

	if running {
		m.buf.Add(batch)
	}
}

// healthLoop periodically recomputes status and fans it out to status
// callbacks. Errors in callbacks are contained per iteration.
func (m *Monitor) healthLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.mu.Lock()
	interval := time.Duration(m.cfg.CollectionInterval) * time.Second
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := m.Status()
			m.notifyStatus(status)
		}
	}
}

func (m *Monitor) notifyStatus(status Status) {
	m.mu.Lock()
	callbacks := make([]StatusCallback, 0, len(m.statusCallbacks))
	for _, cb := range m.statusCallbacks {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Interface("panic", r).Msg("Status callback panicked")
				}
			}()
			cb(status)
		}()
	}
}

func (m *Monitor) notifyMetric(sample Sample) {
	m.mu.Lock()
	callbacks := make([]MetricCallback, 0, len(m.metricCallbacks))
	for _, cb := range m.metricCallbacks {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Interface("panic", r).Msg("Metric callback panicked")
				}
			}()
			cb(sample)
		}()
	}
}
