// Package checkpoint provides durable, integrity-verified state snapshots
// with typed retention and pluggable payload backends.
package checkpoint

import "context"

// Backend stores checkpoint payloads and the serialized index. Payloads are
// addressed by checkpoint id on write; reads go through the location the
// write reported, so a backend may lay data out however it likes.
type Backend interface {
	// WritePayload persists data for checkpoint id and returns its location.
	WritePayload(ctx context.Context, id string, data []byte) (location string, err error)

	// ReadPayload fetches a payload by location. Missing payloads report
	// found=false without error.
	ReadPayload(ctx context.Context, location string) (data []byte, found bool, err error)

	// DeletePayload removes a payload. Deleting a missing payload is not an
	// error.
	DeletePayload(ctx context.Context, location string) error

	// WriteIndex persists the serialized checkpoint index.
	WriteIndex(ctx context.Context, data []byte) error

	// ReadIndex fetches the serialized index. A missing index reports
	// found=false, meaning a fresh store.
	ReadIndex(ctx context.Context) (data []byte, found bool, err error)
}
