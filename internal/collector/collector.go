package collector

import (
	"context"
	"sync"
	"time"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/errors"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/logger"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/source"
)

const (
	// DefaultHistorySize bounds the in-memory ring of recent metrics
	DefaultHistorySize = 1000
	// DefaultSourceBudget is the per-source time budget within one cycle
	DefaultSourceBudget = 5 * time.Second
)

// Callback receives every batch of successfully collected metrics. Panics in
// callbacks are recovered and logged, never propagated.
type Callback func([]metric.Metric)

// Collector owns the registry of metric sources and a bounded ring of the
// most recently collected metrics. A failing source never aborts collection
// of the others; it only degrades that source's health.
type Collector struct {
	sourceBudget time.Duration

	mu        sync.Mutex
	sources   map[string]source.Source
	history   []metric.Metric
	maxItems  int
	callbacks []Callback

	loopMu   sync.Mutex
	loopStop context.CancelFunc
	loopDone chan struct{}
}

func New(historySize int, sourceBudget time.Duration) *Collector {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if sourceBudget <= 0 {
		sourceBudget = DefaultSourceBudget
	}
	return &Collector{
		sourceBudget: sourceBudget,
		sources:      make(map[string]source.Source),
		history:      make([]metric.Metric, 0, historySize),
		maxItems:     historySize,
	}
}

// Register adds a source to the registry. Registering a duplicate name logs
// a warning and replaces the previous source.
func (c *Collector) Register(src source.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := src.Name()
	if _, exists := c.sources[name]; exists {
		logger.Warn().Str("source", name).Msg("Source already registered, replacing")
	}
	c.sources[name] = src
	logger.Debug().Str("source", name).Msg("Registered metric source")
}

// Unregister removes a source by name, returning false when absent
func (c *Collector) Unregister(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sources[name]; !exists {
		return false
	}
	delete(c.sources, name)
	logger.Debug().Str("source", name).Msg("Unregistered metric source")
	return true
}

// Source looks up a registered source by its logical name
func (c *Collector) Source(name string) (source.Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.sources[name]
	return src, ok
}

// Sources returns the names of all registered sources
func (c *Collector) Sources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	return names
}

// HealthySources returns the names of sources currently admitted to
// collection cycles
func (c *Collector) HealthySources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.sources))
	for name, src := range c.sources {
		if src.IsHealthy() && src.IsAvailable() {
			names = append(names, name)
		}
	}
	return names
}

// AddCallback registers a callback invoked with each collected batch
func (c *Collector) AddCallback(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// CollectAll runs one collection cycle over every healthy, available source.
// Per-source failures are recorded against that source's health and logged;
// CollectAll itself never returns an error.
func (c *Collector) CollectAll(ctx context.Context) []metric.Metric {
	c.mu.Lock()
	sources := make([]source.Source, 0, len(c.sources))
	for _, src := range c.sources {
		sources = append(sources, src)
	}
	c.mu.Unlock()

	var collected []metric.Metric
	for _, src := range sources {
		if !src.IsHealthy() {
			logger.Debug().Str("source", src.Name()).Msg("Skipping unhealthy source")
			continue
		}
		if !src.IsAvailable() {
			logger.Debug().Str("source", src.Name()).Msg("Skipping unavailable source")
			continue
		}

		metrics, err := c.collectOne(ctx, src)
		if err != nil {
			src.RecordError(err)
			logger.Warn().Str("source", src.Name()).Err(err).Msg("Source collection failed")
			continue
		}
		collected = append(collected, metrics...)
	}

	if len(collected) > 0 {
		c.appendHistory(collected)
		c.notify(collected)
	}
	return collected
}

// collectOne isolates a single source behind its time budget and a panic
// recovery, so one misbehaving source cannot take down the cycle.
func (c *Collector) collectOne(ctx context.Context, src source.Source) (metrics []metric.Metric, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.sourceBudget)
	defer cancel()

	errFactory := errors.New()
	defer func() {
		if r := recover(); r != nil {
			metrics = nil
			err = errFactory.WithData(source.ErrCollectFailed, r)
		}
	}()

	return src.Collect(ctx)
}

func (c *Collector) appendHistory(metrics []metric.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, metrics...)
	if overflow := len(c.history) - c.maxItems; overflow > 0 {
		c.history = c.history[overflow:]
	}
}

func (c *Collector) notify(metrics []metric.Metric) {
	c.mu.Lock()
	callbacks := make([]Callback, len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Interface("panic", r).Msg("Metric callback panicked")
				}
			}()
			cb(metrics)
		}()
	}
}

// Recent returns up to n of the most recently collected metrics
func (c *Collector) Recent(n int) []metric.Metric {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n <= 0 || n > len(c.history) {
		n = len(c.history)
	}
	out := make([]metric.Metric, n)
	copy(out, c.history[len(c.history)-n:])
	return out
}

// BySource returns up to n of the most recent metrics from one source
func (c *Collector) BySource(name string, n int) []metric.Metric {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []metric.Metric
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Source != name {
			continue
		}
		out = append(out, c.history[i])
		if n > 0 && len(out) == n {
			break
		}
	}
	// Restore chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// StartPeriodic runs CollectAll on a ticker until the context is cancelled
// or StopPeriodic is called. Cancellation is observed within one interval.
func (c *Collector) StartPeriodic(ctx context.Context, interval time.Duration) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.loopStop != nil {
		logger.Warn().Msg("Periodic collection already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.loopStop = cancel
	c.loopDone = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Info().Dur("interval", interval).Msg("Periodic collection started")
		for {
			select {
			case <-loopCtx.Done():
				logger.Info().Msg("Periodic collection stopped")
				return
			case <-ticker.C:
				c.CollectAll(loopCtx)
			}
		}
	}(c.loopDone)
}

// StopPeriodic cancels the periodic loop and waits for it to exit
func (c *Collector) StopPeriodic() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.loopStop == nil {
		return
	}
	c.loopStop()
	<-c.loopDone
	c.loopStop = nil
	c.loopDone = nil
}
