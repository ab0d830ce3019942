// Package storage defines persistence interfaces for collaborators
// that want durable recovery history. The engine core never depends
// on these; the control wiring feeds them from completion events.
package storage

import (
	"context"

	"github.com/vietddude/relink/internal/core/domain"
)

// SessionArchiver stores terminal session records.
type SessionArchiver interface {
	// Archive persists one completed session.
	Archive(ctx context.Context, rec *domain.SessionRecord) error

	// Recent returns up to limit most recent records for a device.
	Recent(ctx context.Context, deviceID string, limit int) ([]*domain.SessionRecord, error)

	// Close releases the underlying connection.
	Close() error
}
