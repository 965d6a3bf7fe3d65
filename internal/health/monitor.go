package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/metrics"
)

// Sampler reads one custom gauge value.
type Sampler func(ctx context.Context) (float64, error)

// SystemSampler reads the system-level gauges in one pass.
type SystemSampler interface {
	Sample(ctx context.Context) (map[string]float64, error)
}

// Config tunes the monitor loops and detection.
type Config struct {
	CollectInterval  time.Duration        `yaml:"collect_interval"`
	EvaluateInterval time.Duration        `yaml:"evaluate_interval"`
	HistoryLimit     int                  `yaml:"history_limit"`
	AlertCooldown    time.Duration        `yaml:"alert_cooldown"`
	AutoResolveAfter time.Duration        `yaml:"auto_resolve_after"`
	TrendShort       time.Duration        `yaml:"trend_short"`
	TrendLong        time.Duration        `yaml:"trend_long"`
	TrendRatio       float64              `yaml:"trend_ratio"`
	TrendFloor       float64              `yaml:"trend_floor"`
	Thresholds       map[string]Threshold `yaml:"thresholds"`
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		CollectInterval:  30 * time.Second,
		EvaluateInterval: 60 * time.Second,
		HistoryLimit:     1000,
		AlertCooldown:    300 * time.Second,
		AutoResolveAfter: 1800 * time.Second,
		TrendShort:       5 * time.Minute,
		TrendLong:        time.Hour,
		TrendRatio:       1.5,
		TrendFloor:       1.0,
		Thresholds: map[string]Threshold{
			"cpu.usage":    {Warning: 80, Critical: 95, Trend: true},
			"memory.usage": {Warning: 80, Critical: 95, Trend: true},
			"disk.usage":   {Warning: 85, Critical: 95},
		},
	}
}

// Monitor runs the two periodic loops (metric collection and alert
// evaluation) and serves synchronous status queries. Safe for concurrent
// use; monitoring failures are logged, never raised to callers.
type Monitor struct {
	cfg    Config
	system SystemSampler
	log    *slog.Logger

	mu         sync.RWMutex
	history    map[string][]domain.Metric
	custom     map[string]Sampler
	active     map[string]*domain.Alert
	lastRaised map[string]time.Time

	runMu  sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup

	now func() time.Time
}

// NewMonitor creates a monitor over system. system may be nil, leaving only
// caller-registered gauges and externally recorded metrics.
func NewMonitor(cfg Config, system SystemSampler, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.CollectInterval <= 0 {
		cfg.CollectInterval = def.CollectInterval
	}
	if cfg.EvaluateInterval <= 0 {
		cfg.EvaluateInterval = def.EvaluateInterval
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = def.AlertCooldown
	}
	if cfg.AutoResolveAfter <= 0 {
		cfg.AutoResolveAfter = def.AutoResolveAfter
	}
	if cfg.TrendShort <= 0 {
		cfg.TrendShort = def.TrendShort
	}
	if cfg.TrendLong <= 0 {
		cfg.TrendLong = def.TrendLong
	}
	if cfg.TrendRatio <= 1 {
		cfg.TrendRatio = def.TrendRatio
	}
	if cfg.TrendFloor <= 0 {
		cfg.TrendFloor = def.TrendFloor
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = def.Thresholds
	}

	return &Monitor{
		cfg:        cfg,
		system:     system,
		log:        log,
		history:    make(map[string][]domain.Metric),
		custom:     make(map[string]Sampler),
		active:     make(map[string]*domain.Alert),
		lastRaised: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Start launches the collection and evaluation loops. Calling Start on a
// running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopCh != nil {
		return
	}
	m.stopCh = make(chan struct{})

	m.wg.Add(2)
	go m.collectLoop(ctx, m.stopCh)
	go m.evaluateLoop(ctx, m.stopCh)
	m.log.Info("health monitor started",
		"collect_interval", m.cfg.CollectInterval,
		"evaluate_interval", m.cfg.EvaluateInterval)
}

// Stop halts both loops and waits for them to exit.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	m.stopCh = nil
	m.log.Info("health monitor stopped")
}

// RegisterGauge adds a caller-supplied gauge sampled on every collection
// pass.
func (m *Monitor) RegisterGauge(name string, sampler Sampler) {
	m.mu.Lock()
	m.custom[name] = sampler
	m.mu.Unlock()
}

// Record appends an externally observed metric sample (e.g. the error
// classifier's failure counts) to the bounded history.
func (m *Monitor) Record(metric domain.Metric) {
	if metric.At.IsZero() {
		metric.At = m.now()
	}
	m.mu.Lock()
	m.appendLocked(metric)
	m.mu.Unlock()
}

// Status computes the aggregate report from the current alert book and the
// latest metric samples.
func (m *Monitor) Status() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[string]float64, len(m.history))
	for name, samples := range m.history {
		if len(samples) > 0 {
			latest[name] = samples[len(samples)-1].Value
		}
	}

	alerts := m.activeLocked()
	score := scoreFor(alerts, latest)
	metrics.HealthScore.Set(float64(score))

	return Report{
		Status:       statusFor(score),
		Score:        score,
		ActiveAlerts: alerts,
		Metrics:      latest,
		CheckedAt:    m.now(),
	}
}

// ActiveAlerts returns the unresolved alerts, most recent first.
func (m *Monitor) ActiveAlerts() []domain.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

// History returns a copy of the retained samples for one metric.
func (m *Monitor) History(name string) []domain.Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Metric(nil), m.history[name]...)
}

func (m *Monitor) collectLoop(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CollectInterval)
	defer ticker.Stop()

	m.collectOnce(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectOnce(ctx)
		}
	}
}

func (m *Monitor) evaluateLoop(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.EvaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvaluateOnce()
		}
	}
}

// collectOnce samples system and custom gauges. A failed reading is logged
// and skipped; observability must survive one bad sample.
func (m *Monitor) collectOnce(ctx context.Context) {
	now := m.now()
	samples := make(map[string]float64)

	if m.system != nil {
		sys, err := m.system.Sample(ctx)
		if err != nil {
			m.log.Warn("system gauge sampling failed", "error", err)
		} else {
			for name, v := range sys {
				samples[name] = v
			}
		}
	}

	m.mu.RLock()
	custom := make(map[string]Sampler, len(m.custom))
	for name, s := range m.custom {
		custom[name] = s
	}
	m.mu.RUnlock()

	for name, sampler := range custom {
		v, err := sampler(ctx)
		if err != nil {
			m.log.Warn("custom gauge sampling failed", "metric", name, "error", err)
			continue
		}
		samples[name] = v
	}

	m.mu.Lock()
	for name, v := range samples {
		m.appendLocked(domain.Metric{Name: name, Kind: domain.MetricGauge, Value: v, At: now})
	}
	m.mu.Unlock()
}

// EvaluateOnce runs one detection pass: threshold and trend anomalies are
// folded into the alert book, stale alerts auto-resolve. Exported so tests
// and operator tooling can force a pass outside the loop cadence.
func (m *Monitor) EvaluateOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()

	anomalies := m.detectLocked()
	m.applyLocked(anomalies)
	m.autoResolveLocked()
	m.publishGaugesLocked()
}

func (m *Monitor) appendLocked(metric domain.Metric) {
	h := append(m.history[metric.Name], metric)
	if len(h) > m.cfg.HistoryLimit {
		h = h[len(h)-m.cfg.HistoryLimit:]
	}
	m.history[metric.Name] = h
}

func (m *Monitor) activeLocked() []domain.Alert {
	out := make([]domain.Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	sortAlerts(out)
	return out
}

func (m *Monitor) publishGaugesLocked() {
	counts := map[domain.AlertSeverity]int{}
	for _, a := range m.active {
		counts[a.Severity]++
	}
	for _, sev := range []domain.AlertSeverity{domain.SeverityWarning, domain.SeverityError, domain.SeverityCritical} {
		metrics.ActiveAlerts.WithLabelValues(string(sev)).Set(float64(counts[sev]))
	}
}
