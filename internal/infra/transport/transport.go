// Package transport defines the collaborator surface between the
// recovery engine and the wireless link layer. The engine never sees
// GATT plumbing or wire bytes; it drives this interface and consumes
// the event feed.
package transport

import (
	"context"

	"github.com/vietddude/relink/internal/core/domain"
)

// Transport is the device link collaborator. Boolean returns report
// whether connectivity was confirmed; an error means the operation
// itself failed.
type Transport interface {
	Connect(ctx context.Context, deviceID string) (bool, error)
	Reconnect(ctx context.Context, deviceID string) (bool, error)
	ResetConnection(ctx context.Context, deviceID string) error
	ClearCache(ctx context.Context, deviceID string) error
	Restart(ctx context.Context) error
	SwitchAdapter(ctx context.Context, adapterID string) (bool, error)
	ReduceStreamingQuality(ctx context.Context, deviceID string) (bool, error)
}

// EventKind classifies inbound transport events.
type EventKind string

const (
	ConnectionFailed   EventKind = "connection_failed"
	ConnectionLost     EventKind = "connection_lost"
	ConnectionRestored EventKind = "connection_restored"
)

// Event is one inbound connectivity event from the link layer.
// Context is set for ConnectionFailed; the other kinds carry only the
// device id.
type Event struct {
	Kind     EventKind
	DeviceID string
	Context  *domain.FailureContext
}

// EventSource feeds transport events to the coordinator. The channel
// closes when the source shuts down.
type EventSource interface {
	Events() <-chan Event
}
