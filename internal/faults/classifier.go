package faults

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/sentinel/internal/metrics"
)

// Classifier maps raw failures onto the taxonomy and feeds the per
// (context, kind) circuit breakers. Safe for concurrent use.
type Classifier struct {
	breakers *BreakerRegistry

	mu     sync.Mutex
	counts map[counterKey]uint64
	seq    uint64

	now func() time.Time
}

type counterKey struct {
	Context string
	Kind    Kind
}

// NewClassifier creates a classifier backed by breakers configured with cfg.
func NewClassifier(cfg BreakerConfig) *Classifier {
	return &Classifier{
		breakers: NewBreakerRegistry(cfg),
		counts:   make(map[counterKey]uint64),
		now:      time.Now,
	}
}

// Breakers exposes the breaker registry for components that gate work on
// breaker state (e.g. the recovery orchestrator).
func (c *Classifier) Breakers() *BreakerRegistry {
	return c.breakers
}

// contextKinds maps context label fragments to taxonomy kinds. Checked in
// order; first match wins.
var contextKinds = []struct {
	fragment string
	kind     Kind
}{
	{"validat", KindValidation},
	{"lock", KindConcurrency},
	{"transaction", KindConcurrency},
	{"concurren", KindConcurrency},
	{"consensus", KindConsensus},
	{"signature", KindSignature},
	{"sign", KindSignature},
	{"network", KindNetwork},
	{"rpc", KindNetwork},
	{"peer", KindNetwork},
	{"storage", KindStorage},
	{"checkpoint", KindStorage},
	{"disk", KindStorage},
	{"contract", KindContractExecution},
	{"token", KindTokenOperation},
	{"archive", KindArchiveIntegrity},
	{"node", KindNodeOperation},
	{"quota", KindResourceExhaustion},
	{"resource", KindResourceExhaustion},
}

// messageKinds is the fallback mapping over the raw error text, for callers
// whose context label carries no classification hint.
var messageKinds = []struct {
	fragment string
	kind     Kind
}{
	{"timeout", KindNetwork},
	{"connection refused", KindNetwork},
	{"connection reset", KindNetwork},
	{"no such file", KindStorage},
	{"i/o error", KindStorage},
	{"corrupt", KindArchiveIntegrity},
	{"hash mismatch", KindArchiveIntegrity},
	{"invalid", KindValidation},
	{"out of memory", KindResourceExhaustion},
	{"too many", KindResourceExhaustion},
}

// Classify converts err into a TypedError, assigns a trace id, bumps the
// (context, kind) failure counter and records the failure on the matching
// breaker. An err that is already typed passes through unchanged apart from
// the bookkeeping.
func (c *Classifier) Classify(err error, context string) *TypedError {
	if err == nil {
		return nil
	}

	var te *TypedError
	if !errors.As(err, &te) {
		te = NewTypedError(classifyKind(err, context), context, err)
	}
	if te.TraceID == "" {
		te.TraceID = c.traceID(context, te.Kind)
	}

	c.mu.Lock()
	c.counts[counterKey{Context: context, Kind: te.Kind}]++
	c.mu.Unlock()

	metrics.ErrorsClassified.WithLabelValues(context, string(te.Kind)).Inc()
	c.breakers.RecordFailure(context, te.Kind)
	return te
}

// RecordSuccess reports a successful attempt in context for kind, closing a
// half-open breaker probe.
func (c *Classifier) RecordSuccess(context string, kind Kind) {
	c.breakers.RecordSuccess(context, kind)
}

// BreakerOpen reports whether attempts for (context, kind) are currently
// rejected.
func (c *Classifier) BreakerOpen(context string, kind Kind) bool {
	return c.breakers.State(context, kind) == BreakerOpen
}

// ResetBreaker manually returns the (context, kind) breaker to closed.
func (c *Classifier) ResetBreaker(context string, kind Kind) {
	c.breakers.Reset(context, kind)
}

// FailureCount returns the cumulative classified-failure count for
// (context, kind).
func (c *Classifier) FailureCount(context string, kind Kind) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[counterKey{Context: context, Kind: kind}]
}

func (c *Classifier) traceID(context string, kind Kind) string {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%d", context, kind, c.now().UnixNano(), seq))
	return hex.EncodeToString(sum[:6])
}

func classifyKind(err error, context string) Kind {
	ctx := strings.ToLower(context)
	for _, m := range contextKinds {
		if strings.Contains(ctx, m.fragment) {
			return m.kind
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range messageKinds {
		if strings.Contains(msg, m.fragment) {
			return m.kind
		}
	}
	return KindInternal
}
