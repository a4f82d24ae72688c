package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when the broker or network fails a publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic or one containing
	// wildcards is used for publishing.
	ErrInvalidTopic = errors.New("mqtt: invalid publish topic")

	// ErrPayloadTooLarge is returned when a payload exceeds maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

// Disposition is the delivery-relevant reading of a Publish result.
type Disposition int

const (
	// Delivered means the broker accepted the message.
	Delivered Disposition = iota

	// Rejected means the message itself was refused. Resending the same
	// bytes to the same broker is not expected to help.
	Rejected

	// Unreachable means the broker could not be reached or did not answer.
	Unreachable
)

// String returns the lowercase name used in logs and metrics.
func (d Disposition) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	default:
		return "unreachable"
	}
}

// Classify maps an error returned by Publish to a Disposition.
//
// Only local validation errors are Rejected. MQTT 3.1.1 has no per-publish
// refusal; a broker that objects closes the connection, which paho reports
// like any other network failure.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, ErrInvalidTopic),
		errors.Is(err, ErrInvalidQoS),
		errors.Is(err, ErrPayloadTooLarge):
		return Rejected
	default:
		return Unreachable
	}
}
