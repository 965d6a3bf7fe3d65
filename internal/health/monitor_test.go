package health

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
)

func testConfig() Config {
	return Config{
		CollectInterval:  time.Second,
		EvaluateInterval: time.Second,
		HistoryLimit:     100,
		AlertCooldown:    300 * time.Second,
		AutoResolveAfter: 1800 * time.Second,
		TrendShort:       5 * time.Minute,
		TrendLong:        time.Hour,
		TrendRatio:       1.5,
		TrendFloor:       1.0,
		Thresholds: map[string]Threshold{
			"cpu.usage":    {Warning: 80, Critical: 95, Trend: true},
			"memory.usage": {Warning: 80, Critical: 95},
		},
	}
}

func newTestMonitor(cfg Config) (*Monitor, *time.Time) {
	m := NewMonitor(cfg, nil, nil)
	clock := time.Now()
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestThresholdAlerts(t *testing.T) {
	m, _ := newTestMonitor(testConfig())

	m.Record(domain.Metric{Name: "cpu.usage", Kind: domain.MetricGauge, Value: 97})
	m.Record(domain.Metric{Name: "memory.usage", Kind: domain.MetricGauge, Value: 85})
	m.EvaluateOnce()

	alerts := m.ActiveAlerts()
	if len(alerts) != 2 {
		t.Fatalf("active alerts = %d, want 2", len(alerts))
	}
	// Critical sorts first.
	if alerts[0].Metric != "cpu.usage" || alerts[0].Severity != domain.SeverityCritical {
		t.Errorf("first alert = %s/%s, want cpu.usage/critical", alerts[0].Metric, alerts[0].Severity)
	}
	if alerts[1].Metric != "memory.usage" || alerts[1].Severity != domain.SeverityWarning {
		t.Errorf("second alert = %s/%s, want memory.usage/warning", alerts[1].Metric, alerts[1].Severity)
	}

	report := m.Status()
	// 100 - 20 (critical) - 5 (warning) - 25 (cpu>95) - 10 (mem>80) = 40.
	if report.Score != 40 {
		t.Errorf("score = %d, want 40", report.Score)
	}
	if report.Status != StatusCritical {
		t.Errorf("status = %s, want critical", report.Status)
	}
}

func TestHealthyWhenUnderThresholds(t *testing.T) {
	m, _ := newTestMonitor(testConfig())

	m.Record(domain.Metric{Name: "cpu.usage", Kind: domain.MetricGauge, Value: 20})
	m.Record(domain.Metric{Name: "memory.usage", Kind: domain.MetricGauge, Value: 30})
	m.EvaluateOnce()

	if n := len(m.ActiveAlerts()); n != 0 {
		t.Fatalf("active alerts = %d, want 0", n)
	}
	report := m.Status()
	if report.Score != 100 || report.Status != StatusHealthy {
		t.Errorf("report = %d/%s, want 100/healthy", report.Score, report.Status)
	}
}

func TestAlertDedupRefreshesInPlace(t *testing.T) {
	m, _ := newTestMonitor(testConfig())

	m.Record(domain.Metric{Name: "cpu.usage", Kind: domain.MetricGauge, Value: 96})
	m.EvaluateOnce()
	m.Record(domain.Metric{Name: "cpu.usage", Kind: domain.MetricGauge, Value: 99})
	m.EvaluateOnce()

	alerts := m.ActiveAlerts()
	if len(alerts) != 1 {
		t.Fatalf("active alerts = %d, want 1 deduplicated alert", len(alerts))
	}
	if alerts[0].CurrentValue != 99 {
		t.Errorf("current value = %.0f, want refreshed to 99", alerts[0].CurrentValue)
	}
}

func TestAlertCooldownSuppressesReRaise(t *testing.T) {
	cfg := testConfig()
	cfg.AutoResolveAfter = 100 * time.Second
	cfg.AlertCooldown = 300 * time.Second
	m, clock := newTestMonitor(cfg)
	base := *clock

	m.Record(domain.Metric{Name: "cpu.usage", Kind: domain.MetricGauge, Value: 97, At: base})
	m.EvaluateOnce()
	if n := len(m.ActiveAlerts()); n != 1 {
		t.Fatalf("active alerts = %d, want 1", n)
	}

	// The alert ages out while the condition still fires.
	*clock = base.Add(150 * time.Second)
	m.Record(domain.Metric{Name: "cpu.usage", Kind: domain.MetricGauge, Value: 97})
	m.EvaluateOnce()
	if n := len(m.ActiveAlerts()); n != 0 {
		t.Fatalf("active alerts after auto-resolve = %d, want 0", n)
	}

	// Inside the cooldown the same condition does not re-raise.
	*clock = base.Add(200 * time.Second)
	m.Record(domain.Metric{Name: "cpu.usage", Kind: domain.MetricGauge, Value: 97})
	m.EvaluateOnce()
	if n := len(m.ActiveAlerts()); n != 0 {
		t.Errorf("alert re-raised inside cooldown")
	}

	// Past the cooldown it does.
	*clock = base.Add(400 * time.Second)
	m.Record(domain.Metric{Name: "cpu.usage", Kind: domain.MetricGauge, Value: 97})
	m.EvaluateOnce()
	if n := len(m.ActiveAlerts()); n != 1 {
		t.Errorf("active alerts after cooldown = %d, want 1 re-raised", n)
	}
}

func TestStaleSampleStopsRaisingThresholdAlerts(t *testing.T) {
	cfg := testConfig()
	cfg.AutoResolveAfter = 100 * time.Second
	m, clock := newTestMonitor(cfg)
	base := *clock

	m.Record(domain.Metric{Name: "cpu.usage", Kind: domain.MetricGauge, Value: 97, At: base})
	m.EvaluateOnce()
	if n := len(m.ActiveAlerts()); n != 1 {
		t.Fatalf("active alerts = %d, want 1", n)
	}

	// Collection stops. Once the alert ages out it must not be re-raised
	// from the stale last sample, even far past the cooldown.
	*clock = base.Add(500 * time.Second)
	m.EvaluateOnce()
	m.EvaluateOnce()
	if n := len(m.ActiveAlerts()); n != 0 {
		t.Errorf("active alerts = %d, want 0: stale sample kept alerting", n)
	}

	// Fresh collection resumes and the condition alerts again.
	m.Record(domain.Metric{Name: "cpu.usage", Kind: domain.MetricGauge, Value: 97})
	m.EvaluateOnce()
	if n := len(m.ActiveAlerts()); n != 1 {
		t.Errorf("active alerts = %d, want 1 after fresh sample", n)
	}
}

func TestAutoResolveIsAgeBased(t *testing.T) {
	m, clock := newTestMonitor(testConfig())
	base := *clock

	m.Record(domain.Metric{Name: "memory.usage", Kind: domain.MetricGauge, Value: 97, At: base})
	m.EvaluateOnce()

	// Condition clears; the alert stays active until it ages out.
	m.Record(domain.Metric{Name: "memory.usage", Kind: domain.MetricGauge, Value: 10, At: base.Add(time.Minute)})
	*clock = base.Add(time.Minute)
	m.EvaluateOnce()
	if n := len(m.ActiveAlerts()); n != 1 {
		t.Fatalf("active alerts = %d, want 1 before age-out", n)
	}

	*clock = base.Add(1801 * time.Second)
	m.EvaluateOnce()
	if n := len(m.ActiveAlerts()); n != 0 {
		t.Errorf("active alerts = %d, want 0 after age-out", n)
	}
}

func TestRapidIncreaseDetection(t *testing.T) {
	m, clock := newTestMonitor(testConfig())
	now := *clock

	// Long-window baseline around 1.0, recent samples jump to 5.0.
	for i := 0; i < 10; i++ {
		m.Record(domain.Metric{
			Name: "cpu.usage", Kind: domain.MetricGauge, Value: 1.0,
			At: now.Add(-50*time.Minute + time.Duration(i)*4*time.Minute),
		})
	}
	for i := 0; i < 3; i++ {
		m.Record(domain.Metric{
			Name: "cpu.usage", Kind: domain.MetricGauge, Value: 5.0,
			At: now.Add(-4*time.Minute + time.Duration(i)*time.Minute),
		})
	}
	m.EvaluateOnce()

	alerts := m.ActiveAlerts()
	if len(alerts) != 1 {
		t.Fatalf("active alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != domain.SeverityError {
		t.Errorf("severity = %s, want error for rapid increase", alerts[0].Severity)
	}
}

func TestInstabilityDetection(t *testing.T) {
	m, clock := newTestMonitor(testConfig())
	now := *clock

	// Stable long-window baseline at 5.0, short window oscillating hard
	// around the same mean so only the deviation check trips.
	for i := 0; i < 8; i++ {
		m.Record(domain.Metric{
			Name: "cpu.usage", Kind: domain.MetricGauge, Value: 5.0,
			At: now.Add(-50*time.Minute + time.Duration(i)*5*time.Minute),
		})
	}
	values := []float64{0.5, 9.5, 0.5, 9.5}
	for i, v := range values {
		m.Record(domain.Metric{
			Name: "cpu.usage", Kind: domain.MetricGauge, Value: v,
			At: now.Add(-4*time.Minute + time.Duration(i)*time.Minute),
		})
	}
	m.EvaluateOnce()

	alerts := m.ActiveAlerts()
	if len(alerts) != 1 {
		t.Fatalf("active alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != domain.SeverityWarning {
		t.Errorf("severity = %s, want warning for instability", alerts[0].Severity)
	}
}

func TestTrendDisabledMetricSkipsTrendChecks(t *testing.T) {
	m, clock := newTestMonitor(testConfig())
	now := *clock

	// memory.usage has no Trend flag; the same shape must not alert.
	for i := 0; i < 10; i++ {
		m.Record(domain.Metric{
			Name: "memory.usage", Kind: domain.MetricGauge, Value: 1.0,
			At: now.Add(-50*time.Minute + time.Duration(i)*4*time.Minute),
		})
	}
	for i := 0; i < 3; i++ {
		m.Record(domain.Metric{
			Name: "memory.usage", Kind: domain.MetricGauge, Value: 5.0,
			At: now.Add(-4*time.Minute + time.Duration(i)*time.Minute),
		})
	}
	m.EvaluateOnce()

	if n := len(m.ActiveAlerts()); n != 0 {
		t.Errorf("active alerts = %d, want 0 for trend-disabled metric", n)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryLimit = 5
	m, _ := newTestMonitor(cfg)

	for i := 0; i < 10; i++ {
		m.Record(domain.Metric{Name: "queue.depth", Kind: domain.MetricGauge, Value: float64(i)})
	}

	h := m.History("queue.depth")
	if len(h) != 5 {
		t.Fatalf("history length = %d, want 5", len(h))
	}
	if h[0].Value != 5 || h[4].Value != 9 {
		t.Errorf("history = %v, want the 5 most recent samples", h)
	}
}

func TestScoreBuckets(t *testing.T) {
	cases := []struct {
		score int
		want  SystemStatus
	}{
		{100, StatusHealthy},
		{90, StatusHealthy},
		{89, StatusWarning},
		{70, StatusWarning},
		{69, StatusDegraded},
		{50, StatusDegraded},
		{49, StatusCritical},
		{0, StatusCritical},
	}
	for _, tc := range cases {
		if got := statusFor(tc.score); got != tc.want {
			t.Errorf("statusFor(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestScoreNeverNegative(t *testing.T) {
	alerts := make([]domain.Alert, 6)
	for i := range alerts {
		alerts[i] = domain.Alert{Severity: domain.SeverityCritical}
	}
	latest := map[string]float64{"cpu.usage": 99, "memory.usage": 99}
	if got := scoreFor(alerts, latest); got != 0 {
		t.Errorf("score = %d, want clamped to 0", got)
	}
}

func TestAlertIDDeterministic(t *testing.T) {
	a := alertID("cpu.usage", anomalyThresholdCritical)
	b := alertID("cpu.usage", anomalyThresholdCritical)
	c := alertID("cpu.usage", anomalyThresholdWarning)
	if a != b {
		t.Errorf("same condition produced different ids: %s vs %s", a, b)
	}
	if a == c {
		t.Errorf("different anomaly types share id %s", a)
	}
}

type fakeSystem struct{ samples map[string]float64 }

func (f fakeSystem) Sample(ctx context.Context) (map[string]float64, error) {
	return f.samples, nil
}

func TestStartStopLoops(t *testing.T) {
	cfg := testConfig()
	cfg.CollectInterval = 10 * time.Millisecond
	cfg.EvaluateInterval = 10 * time.Millisecond
	m := NewMonitor(cfg, fakeSystem{samples: map[string]float64{"cpu.usage": 12}}, nil)

	m.RegisterGauge("txn.in_flight", func(ctx context.Context) (float64, error) {
		return 3, nil
	})

	ctx := context.Background()
	m.Start(ctx)
	m.Start(ctx) // second Start is a no-op

	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(m.History("cpu.usage")) > 0 && len(m.History("txn.in_flight")) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("collection loop produced no samples")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.Stop()
	m.Stop() // second Stop is a no-op

	n := len(m.History("cpu.usage"))
	time.Sleep(30 * time.Millisecond)
	if got := len(m.History("cpu.usage")); got != n {
		t.Errorf("collection continued after Stop: %d -> %d samples", n, got)
	}
}
