package monitor

import "time"

// State is the monitor lifecycle state
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

func (s State) String() string {
	return string(s)
}

// Sample is one recorded operation measurement kept in the in-memory
// analytics window.
type Sample struct {
	ID         string
	Timestamp  time.Time
	Component  string
	Operation  string
	DurationMS float64
	MemoryMB   float64
	CPUTimeMS  float64
	Success    bool
	Metadata   map[string]any
}

// Status is a point-in-time view of the monitor, computed on demand
type Status struct {
	State            State
	Uptime           time.Duration
	MetricsCollected uint64
	AlertsGenerated  uint64
	LastCollection   time.Time
	ActiveSources    []string
	StorageUsageMB   float64
	ErrorCount       uint64
	LastError        string
}

// HealthSnapshot summarizes the last five minutes of recorded operations
type HealthSnapshot struct {
	Status        string
	WindowStart   time.Time
	WindowEnd     time.Time
	Operations    int
	AvgDurationMS float64
	ErrorRate     float64
	// Throughput is operations per minute, averaged over the snapshot window
	Throughput float64
}

// ComponentStats summarizes one component over a lookback window
type ComponentStats struct {
	Component       string
	TotalOperations int
	SuccessRate     float64
	MinDurationMS   float64
	AvgDurationMS   float64
	MaxDurationMS   float64
	P95DurationMS   float64
	P99DurationMS   float64
	AvgMemoryMB     float64
	OpsPerHour      float64
}

// TrendPoint is one hourly bucket of the performance trend series
type TrendPoint struct {
	HourStart     time.Time
	Operations    int
	AvgDurationMS float64
	SuccessRate   float64
}

// Bottleneck is an operation whose durations exceed the threshold, ranked
// by occurrence count times average duration.
type Bottleneck struct {
	Key           string
	Occurrences   int
	AvgDurationMS float64
	MaxDurationMS float64
	Impact        float64
	Suggestions   []string
}
