package health

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// alertID is deterministic per (metric, anomaly type) so the same condition
// maps to the same alert across evaluation passes.
func alertID(metric string, typ anomalyType) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s", metric, typ))
	return hex.EncodeToString(sum[:6])
}

// applyLocked folds detected anomalies into the alert book. An anomaly whose
// alert is already active refreshes its current value in place; a new alert
// is raised only when no identical one was raised within the cooldown.
// Caller holds m.mu.
func (m *Monitor) applyLocked(anomalies []anomaly) {
	now := m.now()

	for _, an := range anomalies {
		id := alertID(an.metric, an.typ)

		if existing, ok := m.active[id]; ok {
			existing.CurrentValue = an.current
			continue
		}

		if raised, ok := m.lastRaised[id]; ok && now.Sub(raised) < m.cfg.AlertCooldown {
			continue
		}

		m.active[id] = &domain.Alert{
			ID:           id,
			Severity:     an.severity,
			Title:        an.title,
			Description:  an.desc,
			Metric:       an.metric,
			CurrentValue: an.current,
			Threshold:    an.threshold,
			TriggeredAt:  now,
		}
		m.lastRaised[id] = now
		m.log.Warn("alert raised",
			"alert_id", id,
			"severity", an.severity,
			"metric", an.metric,
			"current", an.current,
			"threshold", an.threshold)
	}
}

// autoResolveLocked expires active alerts older than the auto-resolve
// timeout. This is purely age-based and does not re-check whether the
// underlying condition cleared; a still-firing condition re-raises after the
// cooldown. Caller holds m.mu.
func (m *Monitor) autoResolveLocked() {
	now := m.now()
	for id, a := range m.active {
		if now.Sub(a.TriggeredAt) >= m.cfg.AutoResolveAfter {
			resolved := now
			a.ResolvedAt = &resolved
			delete(m.active, id)
			m.log.Info("alert auto-resolved",
				"alert_id", id,
				"metric", a.Metric,
				"age", now.Sub(a.TriggeredAt))
		}
	}
}

var severityRank = map[domain.AlertSeverity]int{
	domain.SeverityCritical: 0,
	domain.SeverityError:    1,
	domain.SeverityWarning:  2,
}

func sortAlerts(alerts []domain.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if severityRank[alerts[i].Severity] != severityRank[alerts[j].Severity] {
			return severityRank[alerts[i].Severity] < severityRank[alerts[j].Severity]
		}
		return alerts[i].TriggeredAt.After(alerts[j].TriggeredAt)
	})
}
