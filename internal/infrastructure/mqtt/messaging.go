package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outbound payloads at 1 MiB.
const maxPayloadSize = 1 << 20

// await waits for tok and wraps a timeout or broker error in kind.
func await(tok pahomqtt.Token, timeout time.Duration, kind error) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("%w: no broker response within %v", kind, timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}

func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	}
	return nil
}

// Publish sends payload to topic and waits for the broker to accept it
// (for QoS 0, until it is written).
//
// Retain only state: health and status. Telegram retention is decided by
// the bridge per APCI.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.paho.Publish(topic, qos, retained, payload), operationTimeout, ErrPublishFailed)
}

// Subscribe registers handler for topic, which may hold + and #
// wildcards (for example Topics.AllCommands). The subscription is
// replayed after reconnects until Unsubscribe.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := await(c.paho.Subscribe(topic, qos, c.wrapHandler(handler)), operationTimeout, ErrSubscribeFailed); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	return nil
}

// Unsubscribe drops topic, given exactly as it was subscribed. Messages
// already in flight may still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
	return await(c.paho.Unsubscribe(topic), operationTimeout, ErrUnsubscribeFailed)
}
