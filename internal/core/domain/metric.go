package domain

import "time"

// MetricKind identifies how a metric sample should be interpreted.
type MetricKind string

const (
	MetricCounter   MetricKind = "counter"
	MetricGauge     MetricKind = "gauge"
	MetricHistogram MetricKind = "histogram"
	MetricTimer     MetricKind = "timer"
)

// Metric is one observed sample. The health monitor keeps a bounded
// time-ordered history per metric name.
type Metric struct {
	Name  string            `json:"name"`
	Kind  MetricKind        `json:"kind"`
	Value float64           `json:"value"`
	At    time.Time         `json:"at"`
	Tags  map[string]string `json:"tags,omitempty"`
}
