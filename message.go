package mq

import "context"

// InboundMessage is a publish delivered to the application from a matching
// subscription, surfaced through Messages()/Receive().
type InboundMessage struct {
	// Topic the message was published to.
	Topic string

	// Payload is the message body.
	Payload []byte

	// QoS is the delivery level the message was published at.
	QoS QoS

	// Retain is set when the broker delivered this as a retained message.
	Retain bool

	// Duplicate is set when the broker marked this as a retransmission.
	Duplicate bool
}

// Messages returns the channel inbound publishes are delivered on. The
// channel is never closed by the client; a consumer should select on its own
// cancellation alongside a read from it. If consumption falls behind and the
// channel fills, delivery (and, transitively, reading further packets from
// the broker) blocks until the consumer catches up.
func (c *Client) Messages() <-chan InboundMessage {
	return c.inbound
}

// Receive blocks for the next inbound message or until ctx is done.
func (c *Client) Receive(ctx context.Context) (InboundMessage, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-ctx.Done():
		return InboundMessage{}, ErrCancelled
	case <-c.stop:
		return InboundMessage{}, ErrDisconnected
	}
}
