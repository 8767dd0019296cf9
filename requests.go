package mq

import (
	"context"
	"errors"

	"github.com/streammq/client/inflight"
	"github.com/streammq/client/internal/packets"
)

// publishConfig holds per-call Publish settings beyond topic/payload/qos/retain.
type publishConfig struct {
	nonBlocking bool
}

// PublishOption configures a single Publish call.
type PublishOption func(*publishConfig)

// WithNonBlocking makes Publish return ErrBackpressureFull immediately when
// the outbound queue is full, instead of suspending the caller until space
// frees up.
func WithNonBlocking() PublishOption {
	return func(c *publishConfig) {
		c.nonBlocking = true
	}
}

// PublishStatus classifies how a Publish call concluded.
type PublishStatus int

const (
	PublishDelivered PublishStatus = iota
	PublishTimedOut
	PublishDisconnected
	PublishCancelled
)

func (s PublishStatus) String() string {
	switch s {
	case PublishDelivered:
		return "delivered"
	case PublishTimedOut:
		return "timed_out"
	case PublishDisconnected:
		return "disconnected"
	case PublishCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// PublishResult reports the outcome of a Publish call.
type PublishResult struct {
	Status PublishStatus
}

// publishResultFor maps a completion error to the (PublishResult, error) pair
// every Publish path returns.
func publishResultFor(err error) (PublishResult, error) {
	switch {
	case err == nil:
		return PublishResult{Status: PublishDelivered}, nil
	case errors.Is(err, ErrCancelled):
		return PublishResult{Status: PublishCancelled}, err
	case errors.Is(err, ErrTimedOut):
		return PublishResult{Status: PublishTimedOut}, err
	case errors.Is(err, ErrDisconnected):
		return PublishResult{Status: PublishDisconnected}, err
	default:
		return PublishResult{}, err
	}
}

// enqueueOutgoing puts pkt on the write loop's queue, failing fast with
// ErrBackpressureFull for a non-blocking call finding the queue full.
func (c *Client) enqueueOutgoing(pkt packets.Packet, nonBlocking bool) error {
	if nonBlocking {
		select {
		case c.outgoing <- pkt:
			return nil
		case <-c.stop:
			return ErrDisconnected
		default:
			return ErrBackpressureFull
		}
	}
	select {
	case c.outgoing <- pkt:
		return nil
	case <-c.stop:
		return ErrDisconnected
	}
}

// internalPublish builds and sends a PUBLISH packet, driving the QoS 1/2
// acknowledgment handshake through the inflight registry. QoS 0 completes as
// soon as the packet is handed to the write loop.
func (c *Client) internalPublish(ctx context.Context, topic string, payload []byte, qos QoS, retain bool, cfg publishConfig) (PublishResult, error) {
	pkt := &packets.PublishPacket{
		Topic:   topic,
		Payload: payload,
		QoS:     uint8(qos),
		Retain:  retain,
	}

	if qos == AtMostOnce {
		return publishResultFor(c.enqueueOutgoing(pkt, cfg.nonBlocking))
	}

	id, err := c.ids.Next(ctx)
	if err != nil {
		return publishResultFor(ErrCancelled)
	}
	pkt.PacketID = id

	entry := c.inflight.Register(id, pkt)

	if err := c.enqueueOutgoing(pkt, cfg.nonBlocking); err != nil {
		return publishResultFor(err)
	}

	select {
	case <-entry.Done():
		c.ids.Release(id)
		if entry.Err() == nil {
			return publishResultFor(nil)
		}
		if inflight.IsTimeout(entry.Err()) {
			return publishResultFor(ErrTimedOut)
		}
		return publishResultFor(ErrDisconnected)

	case <-ctx.Done():
		return publishResultFor(ErrCancelled)

	case <-c.stop:
		return publishResultFor(ErrDisconnected)
	}
}

// internalSubscribe sends a SUBSCRIBE for subs and waits for the matching
// SUBACK. Subscriptions are recorded before the packet is sent so an inbound
// PUBLISH racing ahead of the SUBACK is still routed correctly.
func (c *Client) internalSubscribe(subs []TopicSubscription) (SubAckResult, error) {
	return c.internalSubscribeCtx(context.Background(), subs)
}

func (c *Client) internalSubscribeCtx(ctx context.Context, subs []TopicSubscription) (SubAckResult, error) {
	id, err := c.ids.Next(ctx)
	if err != nil {
		return SubAckResult{}, ErrCancelled
	}

	topics := make([]string, len(subs))
	qos := make([]uint8, len(subs))
	for i, s := range subs {
		topics[i] = s.Topic
		qos[i] = uint8(s.QoS)
	}
	pkt := &packets.SubscribePacket{PacketID: id, Topics: topics, QoS: qos}

	op := newPendingOp()
	c.sessionLock.Lock()
	c.pendingAcks[id] = op
	for _, s := range subs {
		c.subscriptions[s.Topic] = subscriptionEntry{qos: s.QoS}
	}
	c.sessionLock.Unlock()

	if err := c.enqueueOutgoing(pkt, false); err != nil {
		c.sessionLock.Lock()
		delete(c.pendingAcks, id)
		c.sessionLock.Unlock()
		c.ids.Release(id)
		return SubAckResult{}, err
	}

	select {
	case <-op.done:
		if op.err != nil {
			return SubAckResult{}, op.err
		}
		return op.result.(SubAckResult), nil

	case <-ctx.Done():
		c.sessionLock.Lock()
		delete(c.pendingAcks, id)
		c.sessionLock.Unlock()
		c.ids.Release(id)
		return SubAckResult{}, ErrCancelled

	case <-c.stop:
		return SubAckResult{}, ErrDisconnected
	}
}

// internalUnsubscribe sends an UNSUBSCRIBE for topics and waits for the
// matching UNSUBACK. Local subscription state is dropped immediately so no
// further inbound publishes are routed to it while the unsubscribe is
// in flight.
func (c *Client) internalUnsubscribe(ctx context.Context, topics []string) (UnsubAckResult, error) {
	id, err := c.ids.Next(ctx)
	if err != nil {
		return UnsubAckResult{}, ErrCancelled
	}

	pkt := &packets.UnsubscribePacket{PacketID: id, Topics: topics}

	op := newPendingOp()
	c.sessionLock.Lock()
	c.pendingAcks[id] = op
	for _, t := range topics {
		delete(c.subscriptions, t)
	}
	c.sessionLock.Unlock()

	if err := c.enqueueOutgoing(pkt, false); err != nil {
		c.sessionLock.Lock()
		delete(c.pendingAcks, id)
		c.sessionLock.Unlock()
		c.ids.Release(id)
		return UnsubAckResult{}, err
	}

	select {
	case <-op.done:
		if op.err != nil {
			return UnsubAckResult{}, op.err
		}
		return op.result.(UnsubAckResult), nil

	case <-ctx.Done():
		c.sessionLock.Lock()
		delete(c.pendingAcks, id)
		c.sessionLock.Unlock()
		c.ids.Release(id)
		return UnsubAckResult{}, ErrCancelled

	case <-c.stop:
		return UnsubAckResult{}, ErrDisconnected
	}
}
