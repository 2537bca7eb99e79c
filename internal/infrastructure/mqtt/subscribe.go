package mqtt

import (
	"fmt"
	"sort"
)

// Subscribe registers handler for a topic filter such as
// graylogic/command/dobiss/+. The subscription is replayed after every
// reconnect. Subscribing the same filter again replaces its handler.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	case !c.IsConnected():
		return ErrNotConnected
	}

	// Track first so a reconnect racing this call still restores it.
	c.subMu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), tokenTimeout, ErrSubscribeFailed); err != nil {
		c.forget(topic)
		return err
	}
	return nil
}

// Unsubscribe drops a subscription. Messages already in flight may still
// reach the old handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)
	return await(c.client.Unsubscribe(topic), tokenTimeout, ErrUnsubscribeFailed)
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subs, topic)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of tracked topic filters.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs)
}

// Subscriptions returns the tracked topic filters, sorted.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	c.subMu.RUnlock()

	sort.Strings(topics)
	return topics
}
