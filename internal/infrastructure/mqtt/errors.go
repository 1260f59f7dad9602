package mqtt

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	// ErrNotConnected means the client is not currently connected to the
	// broker. Operations fail fast rather than queueing.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps the cause of a failed Connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps publish timeouts and broker rejections.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps subscribe timeouts and broker rejections.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed wraps unsubscribe timeouts and broker
	// rejections.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS means a QoS level outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic means an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
