// Package health samples metrics, detects threshold and trend anomalies,
// raises deduplicated auto-expiring alerts and aggregates everything into a
// single health score.
package health

import (
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// SystemStatus represents the overall health state of the system.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusWarning  SystemStatus = "warning"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Report is the synchronous health status snapshot.
type Report struct {
	Status       SystemStatus       `json:"status"`
	Score        int                `json:"score"`
	ActiveAlerts []domain.Alert     `json:"active_alerts"`
	Metrics      map[string]float64 `json:"metrics"`
	CheckedAt    time.Time          `json:"checked_at"`
}

// Threshold holds per-metric static alert levels. Trend enables
// short-vs-long window anomaly detection for the metric.
type Threshold struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
	Trend    bool    `yaml:"trend"`
}

// scoreFor folds active alerts and resource gauges into a [0,100] score.
func scoreFor(alerts []domain.Alert, latest map[string]float64) int {
	score := 100
	for _, a := range alerts {
		switch a.Severity {
		case domain.SeverityCritical:
			score -= 20
		case domain.SeverityError:
			score -= 10
		case domain.SeverityWarning:
			score -= 5
		}
	}

	for _, name := range []string{"cpu.usage", "memory.usage"} {
		switch v := latest[name]; {
		case v > 95:
			score -= 25
		case v > 80:
			score -= 10
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func statusFor(score int) SystemStatus {
	switch {
	case score >= 90:
		return StatusHealthy
	case score >= 70:
		return StatusWarning
	case score >= 50:
		return StatusDegraded
	default:
		return StatusCritical
	}
}
