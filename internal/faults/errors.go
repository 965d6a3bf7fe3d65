// Package faults converts raw failures into a closed error taxonomy and
// gates repeatedly failing operations behind per-(context, kind) circuit
// breakers.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the closed error taxonomy. Everything the core reports maps to
// exactly one kind.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindConcurrency        Kind = "concurrency"
	KindConsensus          Kind = "consensus"
	KindNetwork            Kind = "network"
	KindStorage            Kind = "storage"
	KindSignature          Kind = "signature"
	KindContractExecution  Kind = "contract_execution"
	KindTokenOperation     Kind = "token_operation"
	KindArchiveIntegrity   Kind = "archive_integrity"
	KindNodeOperation      Kind = "node_operation"
	KindResourceExhaustion Kind = "resource_exhaustion"
	KindInternal           Kind = "internal"
)

// Sensitive kinds never expose raw payload content in their reportable form.
func (k Kind) Sensitive() bool {
	return k == KindSignature
}

// Retryable reports whether a transient retry can plausibly succeed.
// Validation and signature failures are deterministic and never retried.
func (k Kind) Retryable() bool {
	return k != KindValidation && k != KindSignature
}

const maskedMessage = "[redacted: sensitive payload withheld]"

// TypedError is the classified form of a failure. It carries a machine
// readable kind, a human message (masked for sensitive kinds), the operation
// context it arose in, and a trace id for log correlation.
type TypedError struct {
	Kind    Kind              `json:"kind"`
	Message string            `json:"message"`
	Context string            `json:"context"`
	TraceID string            `json:"trace_id"`
	At      time.Time         `json:"at"`
	Fields  map[string]string `json:"fields,omitempty"`

	cause error
}

// NewTypedError builds a typed error wrapping cause. For sensitive kinds the
// cause text is masked and the raw error is not retained.
func NewTypedError(kind Kind, context string, cause error) *TypedError {
	te := &TypedError{
		Kind:    kind,
		Context: context,
		At:      time.Now(),
	}
	if kind.Sensitive() {
		te.Message = maskedMessage
		return te
	}
	if cause != nil {
		te.Message = cause.Error()
		te.cause = cause
	}
	return te
}

func (e *TypedError) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("%s error in %s [%s]: %s", e.Kind, e.Context, e.TraceID, e.Message)
	}
	return fmt.Sprintf("%s error in %s: %s", e.Kind, e.Context, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains. Sensitive
// errors have no retained cause.
func (e *TypedError) Unwrap() error {
	return e.cause
}

// Is matches typed errors by kind, so callers can write
// errors.Is(err, &TypedError{Kind: KindStorage}).
func (e *TypedError) Is(target error) bool {
	var te *TypedError
	if !errors.As(target, &te) {
		return false
	}
	return te.Kind == "" || te.Kind == e.Kind
}

// KindOf returns the taxonomy kind of err, or KindInternal when err carries
// no classification.
func KindOf(err error) Kind {
	var te *TypedError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// ErrBreakerOpen is returned when a circuit breaker rejects an attempt
// without invoking the wrapped operation.
type ErrBreakerOpen struct {
	Context string
	Kind    Kind
	Until   time.Time
}

func (e *ErrBreakerOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for %s/%s until %s", e.Context, e.Kind, e.Until.Format(time.RFC3339))
}
