package mqtt

import (
	"fmt"
	"strings"
)

// Publish sends a message to the specified topic.
//
// Parameters:
//   - topic: Full MQTT topic (e.g. "caseta/living-room/ceiling/state")
//   - payload: Message payload as bytes
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: If true, broker stores the message for new subscribers
//
// Blocks until the broker acknowledges delivery (per QoS semantics) or
// the publish timeout elapses.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validateTopic(topic); err != nil {
		return err
	}

	if qos > maxQoS {
		return fmt.Errorf("%w: %d (must be 0, 1, or 2)", ErrInvalidQoS, qos)
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot publish to %s", ErrNotConnected, topic)
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout publishing to %s", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	return nil
}

// PublishString is a convenience wrapper for string payloads.
func (c *Client) PublishString(topic, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// validateTopic checks that a publish topic is well-formed.
//
// Topics must be non-empty and must not contain wildcard characters
// (+ and # are only valid in subscription filters).
func validateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
