package domain

import "time"

// ConnectionState mirrors what the transport last reported for a device.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateConnecting   ConnectionState = "connecting"
	StateDisconnected ConnectionState = "disconnected"
	StateUnstable     ConnectionState = "unstable"
)

// FailureContext captures one connection failure event. It is built by
// the coordinator when the transport reports a failure and discarded
// after strategy selection.
type FailureContext struct {
	DeviceID     string    `json:"device_id"`
	Timestamp    time.Time `json:"timestamp"`
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`

	// SignalStrength is dBm when known; nil when the transport did not
	// report it.
	SignalStrength *float64 `json:"signal_strength,omitempty"`

	ConnectionState ConnectionState `json:"connection_state"`

	// PreviousFailureCount is the number of failures recorded for this
	// device within the trailing 5 minutes.
	PreviousFailureCount int `json:"previous_failure_count"`
}
