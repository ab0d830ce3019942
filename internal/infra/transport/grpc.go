package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/relink/internal/core/domain"
)

// Bridge method names on the link-bridge daemon. The bridge speaks
// JSON frames over gRPC, so no generated stubs are needed here.
const (
	methodConnect       = "/relink.LinkBridge/Connect"
	methodReconnect     = "/relink.LinkBridge/Reconnect"
	methodReset         = "/relink.LinkBridge/ResetConnection"
	methodClearCache    = "/relink.LinkBridge/ClearCache"
	methodRestart       = "/relink.LinkBridge/Restart"
	methodSwitchAdapter = "/relink.LinkBridge/SwitchAdapter"
	methodReduceQuality = "/relink.LinkBridge/ReduceStreamingQuality"
	methodEvents        = "/relink.LinkBridge/Events"
)

// rawFrame is a pass-through message for the raw codec.
type rawFrame []byte

// rawCodec moves opaque byte frames through gRPC so the bridge can
// exchange JSON without generated clients.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("rawCodec: unexpected message type %T", v)
	}
	return *f, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("rawCodec: unexpected message type %T", v)
	}
	*f = append((*f)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "relink-raw" }

// Bridge implements Transport and EventSource against a remote
// link-bridge daemon over gRPC.
type Bridge struct {
	endpoint string
	conn     *grpc.ClientConn
	events   chan Event
	log      *slog.Logger
	cancel   context.CancelFunc
}

// NewBridge dials the bridge endpoint. TLS is used for https:// or
// :443 endpoints, plaintext otherwise.
func NewBridge(ctx context.Context, endpoint string, dialTimeout time.Duration, log *slog.Logger) (*Bridge, error) {
	if log == nil {
		log = slog.Default()
	}
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	target := endpoint
	var opts []grpc.DialOption
	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}
	opts = append(opts, grpc.WithBlock())

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial link bridge %s: %w", target, err)
	}

	return &Bridge{
		endpoint: endpoint,
		conn:     conn,
		events:   make(chan Event, 64),
		log:      log,
	}, nil
}

// Conn returns the underlying gRPC connection for collaborators with
// generated clients.
func (b *Bridge) Conn() *grpc.ClientConn { return b.conn }

// Healthy probes the bridge daemon through the standard gRPC health
// service.
func (b *Bridge) Healthy(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(b.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("bridge health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("bridge not serving: %s", resp.GetStatus())
	}
	return nil
}

// call invokes a unary bridge method with JSON request/response.
func (b *Bridge) call(ctx context.Context, method string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge request: %w", err)
	}

	in := rawFrame(payload)
	var out rawFrame
	if err := b.conn.Invoke(ctx, method, &in, &out, grpc.ForceCodec(rawCodec{})); err != nil {
		return fmt.Errorf("bridge call %s: %w", method, err)
	}
	if resp != nil && len(out) > 0 {
		if err := json.Unmarshal(out, resp); err != nil {
			return fmt.Errorf("failed to unmarshal bridge response: %w", err)
		}
	}
	return nil
}

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

type adapterRequest struct {
	AdapterID string `json:"adapter_id"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// Connect asks the bridge to establish a connection to the device.
func (b *Bridge) Connect(ctx context.Context, deviceID string) (bool, error) {
	var resp okResponse
	err := b.call(ctx, methodConnect, deviceRequest{DeviceID: deviceID}, &resp)
	return resp.OK, err
}

// Reconnect asks the bridge to re-establish the device connection.
func (b *Bridge) Reconnect(ctx context.Context, deviceID string) (bool, error) {
	var resp okResponse
	err := b.call(ctx, methodReconnect, deviceRequest{DeviceID: deviceID}, &resp)
	return resp.OK, err
}

// ResetConnection tears the device link down.
func (b *Bridge) ResetConnection(ctx context.Context, deviceID string) error {
	return b.call(ctx, methodReset, deviceRequest{DeviceID: deviceID}, nil)
}

// ClearCache drops the bridge's cached link state for the device.
func (b *Bridge) ClearCache(ctx context.Context, deviceID string) error {
	return b.call(ctx, methodClearCache, deviceRequest{DeviceID: deviceID}, nil)
}

// Restart restarts the bridge's link service.
func (b *Bridge) Restart(ctx context.Context) error {
	return b.call(ctx, methodRestart, struct{}{}, nil)
}

// SwitchAdapter moves the link to another local adapter.
func (b *Bridge) SwitchAdapter(ctx context.Context, adapterID string) (bool, error) {
	var resp okResponse
	err := b.call(ctx, methodSwitchAdapter, adapterRequest{AdapterID: adapterID}, &resp)
	return resp.OK, err
}

// ReduceStreamingQuality asks the bridge to drop the stream bitrate.
func (b *Bridge) ReduceStreamingQuality(ctx context.Context, deviceID string) (bool, error) {
	var resp okResponse
	err := b.call(ctx, methodReduceQuality, deviceRequest{DeviceID: deviceID}, &resp)
	return resp.OK, err
}

// wireEvent is the bridge's JSON event frame.
type wireEvent struct {
	Kind           string   `json:"kind"`
	DeviceID       string   `json:"device_id"`
	ErrorType      string   `json:"error_type,omitempty"`
	ErrorMessage   string   `json:"error_message,omitempty"`
	SignalStrength *float64 `json:"signal_strength,omitempty"`
	State          string   `json:"connection_state,omitempty"`
}

// Start begins streaming connectivity events from the bridge. The
// stream is re-opened with a fixed pause when it drops.
func (b *Bridge) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	go func() {
		defer close(b.events)
		for {
			if err := b.consumeEvents(runCtx); err != nil {
				if runCtx.Err() != nil {
					return
				}
				b.log.Warn("Bridge event stream dropped, reopening", "error", err)
			}
			select {
			case <-runCtx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}()
}

func (b *Bridge) consumeEvents(ctx context.Context) error {
	desc := &grpc.StreamDesc{StreamName: "Events", ServerStreams: true}
	stream, err := b.conn.NewStream(ctx, desc, methodEvents, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	var empty rawFrame
	if err := stream.SendMsg(&empty); err != nil {
		return fmt.Errorf("failed to start event stream: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		var frame rawFrame
		if err := stream.RecvMsg(&frame); err != nil {
			return err
		}

		var we wireEvent
		if err := json.Unmarshal(frame, &we); err != nil {
			b.log.Warn("Dropping malformed bridge event", "error", err)
			continue
		}
		b.events <- b.toEvent(we)
	}
}

func (b *Bridge) toEvent(we wireEvent) Event {
	ev := Event{Kind: EventKind(we.Kind), DeviceID: we.DeviceID}
	if ev.Kind == ConnectionFailed {
		ev.Context = &domain.FailureContext{
			DeviceID:        we.DeviceID,
			Timestamp:       time.Now(),
			ErrorType:       we.ErrorType,
			ErrorMessage:    we.ErrorMessage,
			SignalStrength:  we.SignalStrength,
			ConnectionState: domain.ConnectionState(we.State),
		}
	}
	return ev
}

// Events implements EventSource.
func (b *Bridge) Events() <-chan Event { return b.events }

// Close stops the event stream and closes the connection.
func (b *Bridge) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	return b.conn.Close()
}
