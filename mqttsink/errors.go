package mqttsink

import "errors"

var (
	// ErrConnectionFailed is returned when the initial broker connection fails.
	ErrConnectionFailed = errors.New("mqttsink: connection failed")

	// ErrPublishFailed wraps a publish that was not acknowledged.
	ErrPublishFailed = errors.New("mqttsink: publish failed")

	// ErrInvalidQoS is returned for a QoS outside 0..2.
	ErrInvalidQoS = errors.New("mqttsink: invalid QoS level (must be 0, 1, or 2)")
)
