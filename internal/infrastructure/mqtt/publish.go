package mqtt

import (
	"fmt"
	"strings"
)

// maxPayloadSize bounds a single message. State and ack payloads are a
// few hundred bytes.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to accept it.
// The bridge publishes output state and health retained, acks and
// request responses not.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := await(c.client.Publish(topic, qos, retained, payload), tokenTimeout, ErrPublishFailed); err != nil {
		c.publishErrors.Add(1)
		return err
	}
	c.published.Add(1)
	return nil
}

// PublishRetained publishes retained at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true) //nolint:gosec // config validates 0-2
}
