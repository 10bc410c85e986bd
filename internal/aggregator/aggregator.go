package aggregator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/buffer"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/logger"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/metric"
	"github.com/kmoon0001/spec-kit-analyzer-sub006/internal/storage"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultAggregationInterval is the drain-and-aggregate tick
	DefaultAggregationInterval = 5 * time.Second
	// DefaultCleanupInterval is the retention-cleanup tick
	DefaultCleanupInterval = time.Hour
	// DefaultBatchSize caps the rows inserted per storage transaction
	DefaultBatchSize = 1000

	aggregationBackoff = time.Second
	cleanupBackoff     = 5 * time.Minute
)

// Aggregator owns two background loops sharing the buffer and store: one
// drains raw metrics and computes rolling aggregates at three granularities,
// the other enforces retention.
type Aggregator struct {
	buf           *buffer.Buffer
	repo          *storage.Repository
	retentionDays int
	batchSize     int
	aggInterval   time.Duration
	cleanupTick   time.Duration

	mu      sync.Mutex
	lastRun map[metric.Level]time.Time

	cancel context.CancelFunc
	group  *errgroup.Group
}

func New(buf *buffer.Buffer, repo *storage.Repository, retentionDays, batchSize int) *Aggregator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Aggregator{
		buf:           buf,
		repo:          repo,
		retentionDays: retentionDays,
		batchSize:     batchSize,
		aggInterval:   DefaultAggregationInterval,
		cleanupTick:   DefaultCleanupInterval,
		lastRun:       make(map[metric.Level]time.Time),
	}
}

// Start launches both loops. They run until the context is cancelled or
// Stop is called.
func (a *Aggregator) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	g, gctx := errgroup.WithContext(loopCtx)
	a.group = g

	g.Go(func() error {
		return a.aggregationLoop(gctx)
	})
	g.Go(func() error {
		return a.cleanupLoop(gctx)
	})

	logger.Info().
		Dur("aggregation_interval", a.aggInterval).
		Dur("cleanup_interval", a.cleanupTick).
		Int("retention_days", a.retentionDays).
		Msg("Aggregator started")
}

// Stop signals both loops and waits for them to observe the cancellation,
// which happens within one tick interval.
func (a *Aggregator) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	if err := a.group.Wait(); err != nil {
		logger.Debug().Err(err).Msg("Aggregator loop exited with error")
	}
	a.cancel = nil
	logger.Info().Msg("Aggregator stopped")
}

// Flush drains any remaining buffered metrics into storage. Called on
// shutdown after the loops have stopped.
func (a *Aggregator) Flush(ctx context.Context) {
	pending := a.buf.Drain()
	if len(pending) == 0 {
		return
	}
	stored, err := a.storeRawChunked(ctx, pending)
	if err != nil {
		logger.Error().Err(err).Int("pending", len(pending)).Msg("Final flush failed")
		return
	}
	logger.Info().Int("stored", stored).Msg("Flushed remaining metrics")
}

func (a *Aggregator) aggregationLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.aggInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.RunCycle(ctx, time.Now()); err != nil {
				logger.Error().Err(err).Msg("Aggregation cycle failed, backing off")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(aggregationBackoff):
				}
			}
		}
	}
}

func (a *Aggregator) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cleanupTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rawDeleted, aggDeleted, err := a.repo.Cleanup(ctx, a.retentionDays)
			if err != nil {
				logger.Error().Err(err).Msg("Retention cleanup failed, backing off")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(cleanupBackoff):
				}
				continue
			}
			logger.Info().
				Int64("raw_deleted", rawDeleted).
				Int64("aggregated_deleted", aggDeleted).
				Msg("Retention cleanup completed")
		}
	}
}

// RunCycle executes one aggregation tick at the given wall-clock instant:
// drain the buffer into raw storage, then recompute aggregates for every
// granularity whose window has elapsed since its last run. Windows are
// wall-clock-relative [now−window, now), not calendar-aligned.
func (a *Aggregator) RunCycle(ctx context.Context, now time.Time) error {
	if pending := a.buf.Drain(); len(pending) > 0 {
		stored, err := a.storeRawChunked(ctx, pending)
		if err != nil {
			return err
		}
		logger.Debug().Int("stored", stored).Msg("Persisted raw metrics")
	}

	for _, level := range metric.AggregationLevels() {
		if !a.due(level, now) {
			continue
		}
		if err := a.aggregateWindow(ctx, now, level); err != nil {
			return err
		}
		a.markRun(level, now)
	}
	return nil
}

func (a *Aggregator) due(level metric.Level, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastRun[level]
	return !ok || now.Sub(last) >= level.Window()
}

func (a *Aggregator) markRun(level metric.Level, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastRun[level] = now
}

type groupKey struct {
	name   string
	source string
}

// aggregateWindow recomputes one granularity over [now−window, now) and
// persists all resulting rows in a single batch.
func (a *Aggregator) aggregateWindow(ctx context.Context, now time.Time, level metric.Level) error {
	start := now.Add(-level.Window())

	raw, err := a.repo.QueryRaw(ctx, start, now, "", "")
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	groups := make(map[groupKey][]metric.Metric)
	order := make([]groupKey, 0)
	for _, m := range raw {
		key := groupKey{name: m.Name, source: m.Source}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}

	batch := make([]metric.Aggregated, 0, len(groups))
	for _, key := range order {
		batch = append(batch, summarize(key, groups[key], level, now))
	}

	var stored int
	for start := 0; start < len(batch); start += a.batchSize {
		n, err := a.repo.StoreAggregated(ctx, batch[start:min(start+a.batchSize, len(batch))])
		stored += n
		if err != nil {
			return err
		}
	}
	logger.Debug().
		Str("level", level.String()).
		Int("groups", stored).
		Msg("Aggregates computed")
	return nil
}

// storeRawChunked persists metrics in transactions of at most batchSize rows.
// Chunks committed before a failure stay persisted; the failing chunk rolls
// back as a unit.
func (a *Aggregator) storeRawChunked(ctx context.Context, pending []metric.Metric) (int, error) {
	var stored int
	for start := 0; start < len(pending); start += a.batchSize {
		n, err := a.repo.StoreRaw(ctx, pending[start:min(start+a.batchSize, len(pending))])
		stored += n
		if err != nil {
			return stored, err
		}
	}
	return stored, nil
}

// summarize computes count, min, max, avg, sum and sample standard deviation
// for one (name, source) group. StdDev is exactly 0.0 for a single value.
// Tags and metadata merge last-write-wins in query order, which the store
// fixes as timestamp then insertion order.
func summarize(key groupKey, group []metric.Metric, level metric.Level, windowEnd time.Time) metric.Aggregated {
	agg := metric.Aggregated{
		Timestamp: windowEnd,
		Name:      key.name,
		Source:    key.source,
		Level:     level,
		Count:     int64(len(group)),
		Min:       math.Inf(1),
		Max:       math.Inf(-1),
	}

	var tags map[string]string
	var metadata map[string]any
	for _, m := range group {
		agg.Sum += m.Value
		agg.Min = math.Min(agg.Min, m.Value)
		agg.Max = math.Max(agg.Max, m.Value)
		for k, v := range m.Tags {
			if tags == nil {
				tags = make(map[string]string)
			}
			tags[k] = v
		}
		for k, v := range m.Metadata {
			if metadata == nil {
				metadata = make(map[string]any)
			}
			metadata[k] = v
		}
	}
	agg.Avg = agg.Sum / float64(agg.Count)
	agg.Tags = tags
	agg.Metadata = metadata

	if agg.Count > 1 {
		var sq float64
		for _, m := range group {
			d := m.Value - agg.Avg
			sq += d * d
		}
		agg.StdDev = math.Sqrt(sq / float64(agg.Count-1))
	}
	return agg
}
