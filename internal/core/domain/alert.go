package domain

import "time"

// AlertSeverity orders alerts from least to most urgent.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is raised by the health monitor when an anomaly is detected. IDs are
// deterministic per (metric, anomaly type) so repeated observations of the
// same condition dedupe instead of stacking.
type Alert struct {
	ID           string        `json:"id"`
	Severity     AlertSeverity `json:"severity"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Metric       string        `json:"metric"`
	CurrentValue float64       `json:"current_value"`
	Threshold    float64       `json:"threshold"`
	TriggeredAt  time.Time     `json:"triggered_at"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
}

// Active reports whether the alert has not been resolved yet.
func (a Alert) Active() bool {
	return a.ResolvedAt == nil
}
