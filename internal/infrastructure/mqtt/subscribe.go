package mqtt

import "fmt"

// Subscribe routes messages on topic (wildcards allowed) to handler. The
// subscription is replayed after every reconnect. Handlers should return
// quickly; the bridge hands commands off to its own goroutines.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.paho.Subscribe(topic, qos, c.dispatch(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.mu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	return nil
}
