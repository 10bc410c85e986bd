package metric

import "time"

// Kind classifies how a metric value should be interpreted.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
	KindTimer     Kind = "timer"
)

// Valid returns whether the kind is one of the known metric kinds
func (k Kind) Valid() bool {
	switch k {
	case KindCounter, KindGauge, KindHistogram, KindTimer:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}

// Level identifies the granularity of an aggregated statistic.
type Level string

const (
	LevelRaw    Level = "raw"
	LevelShort  Level = "short"
	LevelMedium Level = "medium"
	LevelLong   Level = "long"
)

// AggregationLevels lists the derived granularities in ascending window order
func AggregationLevels() []Level {
	return []Level{LevelShort, LevelMedium, LevelLong}
}

// Window returns the tumbling window covered by one aggregate at this level.
// Raw metrics have no window.
func (l Level) Window() time.Duration {
	switch l {
	case LevelShort:
		return time.Minute
	case LevelMedium:
		return 5 * time.Minute
	case LevelLong:
		return time.Hour
	default:
		return 0
	}
}

// Valid returns whether the level is one of the known aggregation levels
func (l Level) Valid() bool {
	switch l {
	case LevelRaw, LevelShort, LevelMedium, LevelLong:
		return true
	default:
		return false
	}
}

func (l Level) String() string {
	return string(l)
}

// Metric is a single timestamped measurement. Instances are immutable once
// created; New copies the tag and metadata maps so later mutation by the
// caller cannot leak in.
type Metric struct {
	Timestamp time.Time
	Name      string
	Value     float64
	Unit      string
	Kind      Kind
	Source    string
	Tags      map[string]string
	Metadata  map[string]any
}

// New creates a metric stamped with the current time
func New(name string, value float64, unit string, kind Kind, source string, tags map[string]string, metadata map[string]any) Metric {
	return Metric{
		Timestamp: time.Now(),
		Name:      name,
		Value:     value,
		Unit:      unit,
		Kind:      kind,
		Source:    source,
		Tags:      copyTags(tags),
		Metadata:  copyMetadata(metadata),
	}
}

// Aggregated is a derived statistic over one (name, source) group within a
// tumbling window. Timestamp is the window end.
type Aggregated struct {
	Timestamp time.Time
	Name      string
	Source    string
	Level     Level
	Count     int64
	Min       float64
	Max       float64
	Avg       float64
	Sum       float64
	StdDev    float64
	Tags      map[string]string
	Metadata  map[string]any
}

func copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func copyMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
