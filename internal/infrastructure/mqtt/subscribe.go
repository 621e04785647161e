package mqtt

import (
	"context"
	"fmt"
)

// Subscribe routes messages matching filter to handler and remembers the
// pair so it is re-established after a reconnect. Subscribing again to the
// same filter replaces the handler.
func (c *Client) Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) error {
	switch {
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %q", ErrSubscribeFailed, filter)
	case qos > maxQoS:
		return ErrInvalidQoS
	}
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub := subscription{topic: filter, qos: qos, handler: handler}
	c.subMu.Lock()
	previous, hadPrevious := c.subscriptions[filter]
	c.subscriptions[filter] = sub
	c.subMu.Unlock()

	if err := waitToken(ctx, c.client.Subscribe(filter, qos, c.wrapHandler(handler)), c.options.PublishTimeout); err != nil {
		c.subMu.Lock()
		if hadPrevious {
			c.subscriptions[filter] = previous
		} else {
			delete(c.subscriptions, filter)
		}
		c.subMu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, filter, err)
	}
	return nil
}

// HasSubscription reports whether filter is tracked for restore. The
// comparison is literal, not wildcard matching.
func (c *Client) HasSubscription(filter string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[filter]
	return ok
}
