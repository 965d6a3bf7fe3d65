package health

import (
	"fmt"
	"math"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// anomalyType distinguishes detection paths; it is part of the deterministic
// alert id, so identical conditions dedupe.
type anomalyType string

const (
	anomalyThresholdWarning  anomalyType = "threshold_warning"
	anomalyThresholdCritical anomalyType = "threshold_critical"
	anomalyRapidIncrease     anomalyType = "rapid_increase"
	anomalyInstability       anomalyType = "instability"
)

type anomaly struct {
	metric    string
	typ       anomalyType
	severity  domain.AlertSeverity
	current   float64
	threshold float64
	title     string
	desc      string
}

// detectLocked scans every metric history for threshold violations and, for
// trend-enabled metrics, short-vs-long window anomalies. Caller holds m.mu.
func (m *Monitor) detectLocked() []anomaly {
	var out []anomaly
	now := m.now()
	maxAge := 2 * m.cfg.CollectInterval

	for name, samples := range m.history {
		if len(samples) == 0 {
			continue
		}
		last := samples[len(samples)-1]
		current := last.Value
		th, hasThreshold := m.cfg.Thresholds[name]

		// A sample older than two collection intervals means collection for
		// this metric has stopped; judging the stale value would keep
		// re-raising the same alert forever.
		if hasThreshold && now.Sub(last.At) <= maxAge {
			switch {
			case th.Critical > 0 && current >= th.Critical:
				out = append(out, anomaly{
					metric:    name,
					typ:       anomalyThresholdCritical,
					severity:  domain.SeverityCritical,
					current:   current,
					threshold: th.Critical,
					title:     fmt.Sprintf("%s above critical threshold", name),
					desc:      fmt.Sprintf("%s is %.2f, critical threshold %.2f", name, current, th.Critical),
				})
			case th.Warning > 0 && current >= th.Warning:
				out = append(out, anomaly{
					metric:    name,
					typ:       anomalyThresholdWarning,
					severity:  domain.SeverityWarning,
					current:   current,
					threshold: th.Warning,
					title:     fmt.Sprintf("%s above warning threshold", name),
					desc:      fmt.Sprintf("%s is %.2f, warning threshold %.2f", name, current, th.Warning),
				})
			}
		}

		if !hasThreshold || !th.Trend {
			continue
		}

		shortMean, shortStd, shortN := windowStats(samples, now.Add(-m.cfg.TrendShort))
		longMean, _, longN := windowStats(samples, now.Add(-m.cfg.TrendLong))
		if shortN < 2 || longN < 2 || longMean <= 0 {
			continue
		}

		// Rapid increase: recent mean well above the long-term mean, with a
		// floor so noise near zero does not trip it.
		if shortMean/longMean > m.cfg.TrendRatio && shortMean > m.cfg.TrendFloor {
			out = append(out, anomaly{
				metric:    name,
				typ:       anomalyRapidIncrease,
				severity:  domain.SeverityError,
				current:   shortMean,
				threshold: longMean * m.cfg.TrendRatio,
				title:     fmt.Sprintf("%s rising rapidly", name),
				desc: fmt.Sprintf("%s short-window mean %.2f vs long-window mean %.2f (ratio %.2f)",
					name, shortMean, longMean, shortMean/longMean),
			})
		}

		// Instability: short-window deviation large relative to the
		// long-term mean.
		if shortStd > longMean*0.5 && shortMean > m.cfg.TrendFloor {
			out = append(out, anomaly{
				metric:    name,
				typ:       anomalyInstability,
				severity:  domain.SeverityWarning,
				current:   shortStd,
				threshold: longMean * 0.5,
				title:     fmt.Sprintf("%s unstable", name),
				desc: fmt.Sprintf("%s short-window stddev %.2f vs long-window mean %.2f",
					name, shortStd, longMean),
			})
		}
	}

	return out
}

// windowStats returns mean, standard deviation and sample count of the
// samples taken at or after since.
func windowStats(samples []domain.Metric, since time.Time) (mean, std float64, n int) {
	var sum float64
	for _, s := range samples {
		if s.At.Before(since) {
			continue
		}
		sum += s.Value
		n++
	}
	if n == 0 {
		return 0, 0, 0
	}
	mean = sum / float64(n)

	var sq float64
	for _, s := range samples {
		if s.At.Before(since) {
			continue
		}
		d := s.Value - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(n))
	return mean, std, n
}
