package bridge

import (
	"fmt"
)

// commandBuffer absorbs command bursts between router reads.
const commandBuffer = 64

// MQTTClient is the subset of the broker client the session uses.
// The concrete client is adapted to this interface in package main.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	IsConnected() bool
}

// BrokerSession adapts the MQTT client to the bridge's domain: inbound
// command messages become CommandRequests, outbound state and events
// are encoded and published on the topic tree.
//
// Parsing is strict and total. A message with a malformed topic or
// payload is dropped with a diagnostic; it is never retried and never
// reaches the router.
type BrokerSession struct {
	client MQTTClient
	topics Topics
	qos    byte
	logger Logger

	commands chan CommandRequest
}

// NewBrokerSession wraps a connected MQTT client.
func NewBrokerSession(client MQTTClient, topics Topics, qos byte, logger Logger) *BrokerSession {
	if logger == nil {
		logger = noopLogger{}
	}
	return &BrokerSession{
		client:   client,
		topics:   topics,
		qos:      qos,
		logger:   logger,
		commands: make(chan CommandRequest, commandBuffer),
	}
}

// Subscribe registers for the command tree. The client restores the
// subscription itself after a broker reconnect.
func (s *BrokerSession) Subscribe() error {
	return s.client.Subscribe(s.topics.CommandFilter(), s.qos, s.handleCommand)
}

// handleCommand parses one inbound command message.
//
// Runs on the MQTT client's handler goroutine, so it must not block:
// commands are handed to the router through a buffered channel and
// dropped with a diagnostic if the router has fallen that far behind.
func (s *BrokerSession) handleCommand(topic string, payload []byte) error {
	area, device, channel, err := s.topics.ParseCommand(topic)
	if err != nil {
		s.logger.Warn("dropping malformed command", "topic", topic, "error", err)
		return nil
	}

	value, err := ParseValue(payload)
	if err != nil {
		s.logger.Warn("dropping malformed command",
			"topic", topic, "payload", string(payload), "error", err)
		return nil
	}

	request := CommandRequest{
		Area:    area,
		Device:  device,
		Channel: channel,
		Value:   value,
		Topic:   topic,
	}

	select {
	case s.commands <- request:
	default:
		s.logger.Warn("dropping command, router backlog full", "topic", topic)
	}
	return nil
}

// Commands returns the stream of parsed command requests.
func (s *BrokerSession) Commands() <-chan CommandRequest {
	return s.commands
}

// PublishState publishes a channel state, retained so late subscribers
// see the last known value.
func (s *BrokerSession) PublishState(device *Device, channel Channel, value Value) error {
	topic := s.topics.State(device.AreaSlug, device.NameSlug, channel.Slug)
	if err := s.client.Publish(topic, value.Payload(), s.qos, true); err != nil {
		return fmt.Errorf("publishing state to %s: %w", topic, err)
	}
	return nil
}

// PublishButtonEvent publishes a classified button press, not retained
// because events are moments, not states.
func (s *BrokerSession) PublishButtonEvent(device *Device, button Button, click ClickType) error {
	topic := s.topics.ButtonEvent(device.AreaSlug, device.NameSlug, button.Slug)
	if err := s.client.Publish(topic, []byte(click), s.qos, false); err != nil {
		return fmt.Errorf("publishing button event to %s: %w", topic, err)
	}
	return nil
}

// PublishHealth publishes a retained bridge status payload.
func (s *BrokerSession) PublishHealth(payload []byte) error {
	if err := s.client.Publish(s.topics.Health(), payload, s.qos, true); err != nil {
		return fmt.Errorf("publishing health: %w", err)
	}
	return nil
}

// IsConnected reports the broker connection state.
func (s *BrokerSession) IsConnected() bool {
	return s.client.IsConnected()
}
