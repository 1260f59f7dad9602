package mqtt

import "fmt"

// maxPayloadSize caps outgoing messages at 1MB, in line with common
// broker limits.
const maxPayloadSize = 1 << 20

// validateTopicQoS is the shared input check for publish and subscribe.
func validateTopicQoS(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// Publish sends a message and waits for the broker acknowledgement
// appropriate to the QoS level. Retained should be true only for state
// topics; commands and events are not retained.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validateTopicQoS(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes",
			ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, tokenTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
