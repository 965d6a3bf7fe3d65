package faults

import (
	"sync"
	"time"

	"github.com/vietddude/sentinel/internal/metrics"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes every breaker in a registry.
type BreakerConfig struct {
	// Threshold is the failure count within Window that trips the breaker.
	Threshold int
	// Window is the rolling failure-count window.
	Window time.Duration
	// Cooldown is how long an open breaker rejects before allowing a probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig mirrors the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 10,
		Window:    300 * time.Second,
		Cooldown:  60 * time.Second,
	}
}

type breakerKey struct {
	Context string
	Kind    Kind
}

type breaker struct {
	state       BreakerState
	failures    int
	windowStart time.Time
	lastAttempt time.Time
}

// BreakerRegistry owns all circuit breakers, keyed by (context, kind).
// Entries are created lazily on first failure and never destroyed. Safe for
// concurrent use.
type BreakerRegistry struct {
	mu      sync.Mutex
	entries map[breakerKey]*breaker
	cfg     BreakerConfig

	now func() time.Time
}

// NewBreakerRegistry creates an empty registry. Zero-valued cfg fields fall
// back to defaults.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &BreakerRegistry{
		entries: make(map[breakerKey]*breaker),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Allow reports whether an attempt for (context, kind) may proceed. An open
// breaker past its cooldown transitions to half-open and admits one probe.
// Rejections return *ErrBreakerOpen.
func (r *BreakerRegistry) Allow(context string, kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.entries[breakerKey{context, kind}]
	if !ok {
		return nil
	}
	return r.allowLocked(context, kind, b)
}

// AllowContext checks every kind's breaker under context. Gating paths that
// cannot know the failure kind before attempting (failures are recorded under
// the kind the error actually classifies to) must use this, so the breaker a
// failure stream trips is always one of the breakers consulted.
func (r *BreakerRegistry) AllowContext(context string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, b := range r.entries {
		if key.Context != context {
			continue
		}
		if err := r.allowLocked(key.Context, key.Kind, b); err != nil {
			return err
		}
	}
	return nil
}

// allowLocked applies the admission rules to one breaker. Caller holds r.mu.
func (r *BreakerRegistry) allowLocked(context string, kind Kind, b *breaker) error {
	now := r.now()
	switch b.state {
	case BreakerHalfOpen:
		b.lastAttempt = now
	case BreakerOpen:
		if now.Sub(b.lastAttempt) < r.cfg.Cooldown {
			return &ErrBreakerOpen{
				Context: context,
				Kind:    kind,
				Until:   b.lastAttempt.Add(r.cfg.Cooldown),
			}
		}
		r.transition(context, kind, b, BreakerHalfOpen)
		b.lastAttempt = now
	}
	return nil
}

// RecordFailure counts a failure for (context, kind), tripping the breaker
// when the windowed count reaches the threshold. A failed half-open probe
// reopens the breaker and restarts the cooldown clock.
func (r *BreakerRegistry) RecordFailure(context string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := breakerKey{context, kind}
	now := r.now()
	b, ok := r.entries[key]
	if !ok {
		b = &breaker{state: BreakerClosed, windowStart: now}
		r.entries[key] = b
	}

	b.lastAttempt = now

	switch b.state {
	case BreakerHalfOpen:
		r.transition(context, kind, b, BreakerOpen)
		b.failures = 0
		b.windowStart = now
	case BreakerClosed:
		if now.Sub(b.windowStart) > r.cfg.Window {
			b.failures = 0
			b.windowStart = now
		}
		b.failures++
		if b.failures >= r.cfg.Threshold {
			r.transition(context, kind, b, BreakerOpen)
		}
	case BreakerOpen:
		// Already open; nothing to count.
	}
}

// RecordSuccess closes the breaker after a successful half-open probe and
// clears the failure window when closed.
func (r *BreakerRegistry) RecordSuccess(context string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.entries[breakerKey{context, kind}]
	if !ok {
		return
	}
	r.recordSuccessLocked(context, kind, b)
}

// RecordSuccessContext reports a successful attempt to every kind's breaker
// under context, closing any half-open probe. Counterpart of AllowContext.
func (r *BreakerRegistry) RecordSuccessContext(context string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, b := range r.entries {
		if key.Context != context {
			continue
		}
		r.recordSuccessLocked(key.Context, key.Kind, b)
	}
}

// recordSuccessLocked applies a success to one breaker. Caller holds r.mu.
func (r *BreakerRegistry) recordSuccessLocked(context string, kind Kind, b *breaker) {
	now := r.now()
	switch b.state {
	case BreakerHalfOpen:
		r.transition(context, kind, b, BreakerClosed)
		b.failures = 0
		b.windowStart = now
	case BreakerClosed:
		b.failures = 0
		b.windowStart = now
	case BreakerOpen:
		// Success outside a sanctioned probe does not close an open breaker.
	}
}

// State returns the current state for (context, kind), resolving an elapsed
// cooldown to half-open. Unknown keys are closed.
func (r *BreakerRegistry) State(context string, kind Kind) BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.entries[breakerKey{context, kind}]
	if !ok {
		return BreakerClosed
	}
	if b.state == BreakerOpen && r.now().Sub(b.lastAttempt) >= r.cfg.Cooldown {
		r.transition(context, kind, b, BreakerHalfOpen)
	}
	return b.state
}

// Reset manually returns the (context, kind) breaker to closed with a fresh
// window.
func (r *BreakerRegistry) Reset(context string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.entries[breakerKey{context, kind}]
	if !ok {
		return
	}
	r.transition(context, kind, b, BreakerClosed)
	b.failures = 0
	b.windowStart = r.now()
}

// transition must be called with r.mu held.
func (r *BreakerRegistry) transition(context string, kind Kind, b *breaker, to BreakerState) {
	if b.state == to {
		return
	}
	b.state = to
	metrics.BreakerTransitions.WithLabelValues(context, string(kind), string(to)).Inc()
}
