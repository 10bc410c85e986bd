package monitor

import (
	"math"
	"sort"
	"strings"
	"time"
)

const healthWindow = 5 * time.Minute

// SystemHealth summarizes the last five minutes of recorded operations. It
// never fails: with no data it returns an explicit empty snapshot so
// dashboards degrade gracefully.
func (m *Monitor) SystemHealth() HealthSnapshot {
	now := time.Now()
	start := now.Add(-healthWindow)

	m.mu.Lock()
	cfg := m.cfg
	var window []Sample
	for _, s := range m.samples {
		if !s.Timestamp.Before(start) {
			window = append(window, s)
		}
	}
	m.mu.Unlock()

	snapshot := HealthSnapshot{
		Status:      "no_data",
		WindowStart: start,
		WindowEnd:   now,
	}
	if len(window) == 0 {
		return snapshot
	}

	var totalDuration float64
	var failures int
	for _, s := range window {
		totalDuration += s.DurationMS
		if !s.Success {
			failures++
		}
	}

	snapshot.Operations = len(window)
	snapshot.AvgDurationMS = totalDuration / float64(len(window))
	snapshot.ErrorRate = float64(failures) / float64(len(window))
	snapshot.Throughput = float64(len(window)) / healthWindow.Minutes()

	switch {
	case snapshot.ErrorRate > cfg.ErrorRateThreshold*2 ||
		(cfg.ResponseTimeThresholdMS > 0 && snapshot.AvgDurationMS > cfg.ResponseTimeThresholdMS*2):
		snapshot.Status = "critical"
	case snapshot.ErrorRate > cfg.ErrorRateThreshold ||
		(cfg.ResponseTimeThresholdMS > 0 && snapshot.AvgDurationMS > cfg.ResponseTimeThresholdMS):
		snapshot.Status = "degraded"
	default:
		snapshot.Status = "healthy"
	}
	return snapshot
}

// ComponentPerformance computes statistics for one component over the given
// lookback in hours. Percentiles use nearest-rank on the sorted durations.
func (m *Monitor) ComponentPerformance(component string, hours int) ComponentStats {
	start := time.Now().Add(-time.Duration(hours) * time.Hour)

	m.mu.Lock()
	var window []Sample
	for _, s := range m.samples {
		if s.Component == component && !s.Timestamp.Before(start) {
			window = append(window, s)
		}
	}
	m.mu.Unlock()

	stats := ComponentStats{Component: component}
	if len(window) == 0 {
		return stats
	}

	durations := make([]float64, 0, len(window))
	var successes int
	var totalDuration, totalMemory float64
	stats.MinDurationMS = math.Inf(1)
	for _, s := range window {
		durations = append(durations, s.DurationMS)
		totalDuration += s.DurationMS
		totalMemory += s.MemoryMB
		stats.MinDurationMS = math.Min(stats.MinDurationMS, s.DurationMS)
		stats.MaxDurationMS = math.Max(stats.MaxDurationMS, s.DurationMS)
		if s.Success {
			successes++
		}
	}
	sort.Float64s(durations)

	stats.TotalOperations = len(window)
	stats.SuccessRate = float64(successes) / float64(len(window))
	stats.AvgDurationMS = totalDuration / float64(len(window))
	stats.AvgMemoryMB = totalMemory / float64(len(window))
	stats.OpsPerHour = float64(len(window)) / float64(hours)
	stats.P95DurationMS = nearestRank(durations, 95)
	stats.P99DurationMS = nearestRank(durations, 99)
	return stats
}

// nearestRank returns the p-th percentile of a sorted series
func nearestRank(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// PerformanceTrends buckets the lookback window into hours and reports
// operation count, average duration and success rate per bucket.
func (m *Monitor) PerformanceTrends(hours int) []TrendPoint {
	start := time.Now().Add(-time.Duration(hours) * time.Hour)

	m.mu.Lock()
	var window []Sample
	for _, s := range m.samples {
		if !s.Timestamp.Before(start) {
			window = append(window, s)
		}
	}
	m.mu.Unlock()

	type bucket struct {
		count     int
		successes int
		duration  float64
	}
	buckets := make(map[time.Time]*bucket)
	for _, s := range window {
		hour := s.Timestamp.Truncate(time.Hour)
		b, ok := buckets[hour]
		if !ok {
			b = &bucket{}
			buckets[hour] = b
		}
		b.count++
		b.duration += s.DurationMS
		if s.Success {
			b.successes++
		}
	}

	points := make([]TrendPoint, 0, len(buckets))
	for hour, b := range buckets {
		points = append(points, TrendPoint{
			HourStart:     hour,
			Operations:    b.count,
			AvgDurationMS: b.duration / float64(b.count),
			SuccessRate:   float64(b.successes) / float64(b.count),
		})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].HourStart.Before(points[j].HourStart)
	})
	return points
}

// Bottlenecks groups operations whose duration exceeded the threshold by
// component.operation and ranks them descending by occurrence count times
// average duration.
func (m *Monitor) Bottlenecks(thresholdMS float64) []Bottleneck {
	m.mu.Lock()
	var exceeders []Sample
	for _, s := range m.samples {
		if s.DurationMS > thresholdMS {
			exceeders = append(exceeders, s)
		}
	}
	m.mu.Unlock()

	type group struct {
		count    int
		duration float64
		max      float64
		op       string
	}
	groups := make(map[string]*group)
	for _, s := range exceeders {
		key := s.Component + "." + s.Operation
		g, ok := groups[key]
		if !ok {
			g = &group{op: s.Operation}
			groups[key] = g
		}
		g.count++
		g.duration += s.DurationMS
		g.max = math.Max(g.max, s.DurationMS)
	}

	out := make([]Bottleneck, 0, len(groups))
	for key, g := range groups {
		avg := g.duration / float64(g.count)
		out = append(out, Bottleneck{
			Key:           key,
			Occurrences:   g.count,
			AvgDurationMS: avg,
			MaxDurationMS: g.max,
			Impact:        float64(g.count) * avg,
			Suggestions:   remediationHints(g.op),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Impact > out[j].Impact
	})
	return out
}

// remediationHints returns canned suggestions keyed by substring match on
// the operation name.
func remediationHints(operation string) []string {
	op := strings.ToLower(operation)
	switch {
	case strings.Contains(op, "export"):
		return []string{
			"Move export generation to a background worker",
			"Stream output instead of building it in memory",
		}
	case strings.Contains(op, "ai_analysis"), strings.Contains(op, "inference"), strings.Contains(op, "model"):
		return []string{
			"Batch inference requests where latency allows",
			"Cache repeated prompts and model outputs",
			"Consider a smaller or quantized model for this path",
		}
	case strings.Contains(op, "database"), strings.Contains(op, "query"), strings.Contains(op, "storage"):
		return []string{
			"Check indices on the queried columns",
			"Batch writes inside a single transaction",
		}
	case strings.Contains(op, "upload"), strings.Contains(op, "document"):
		return []string{
			"Process documents in chunks",
			"Validate size limits before parsing",
		}
	default:
		return []string{
			"Profile this operation to find the dominant cost",
		}
	}
}
