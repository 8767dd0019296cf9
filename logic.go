package mq

import (
	"time"

	"github.com/streammq/client/internal/packets"
)

// logicLoop is the single goroutine that dispatches every incoming packet
// and drives inflight retransmission. Subscriptions and pendingAcks are also
// updated from caller goroutines, so both sides access them under
// sessionLock; QoS 1/2 publish tracking lives in the inflight package.
func (c *Client) logicLoop() {
	defer c.wg.Done()

	retryTicker := time.NewTicker(500 * time.Millisecond)
	defer retryTicker.Stop()

	for {
		select {
		case pkt := <-c.incoming:
			c.handleIncoming(pkt)

		case now := <-retryTicker.C:
			c.inflight.OnTimer(now)

		case <-c.stop:
			c.opts.Logger.Debug("logicLoop stopped")
			c.sessionLock.Lock()
			for _, op := range c.pendingAcks {
				op.complete(nil, ErrDisconnected)
			}
			c.sessionLock.Unlock()
			return
		}
	}
}

// handleIncoming dispatches a decoded packet read from the broker.
func (c *Client) handleIncoming(pkt packets.Packet) {
	switch p := pkt.(type) {
	case *packets.PublishPacket:
		c.handlePublish(p)

	case *packets.PubackPacket:
		c.inflight.OnPubAck(p.PacketID)

	case *packets.PubrecPacket:
		c.inflight.OnPubRec(p.PacketID)

	case *packets.PubrelPacket:
		c.handlePubrel(p)

	case *packets.PubcompPacket:
		c.inflight.OnPubComp(p.PacketID)

	case *packets.SubackPacket:
		c.handleSuback(p)

	case *packets.UnsubackPacket:
		c.handleUnsuback(p)

	case *packets.PingrespPacket:
		select {
		case c.pingPendingCh <- struct{}{}:
		default:
			// writeLoop hasn't consumed the previous signal yet.
		}

	case *packets.DisconnectPacket:
		// A 3.1.1 broker never sends DISCONNECT to a client; treat an
		// unexpected one the same as a dropped connection.
		c.handleDisconnect()
	}
}

// handlePublish processes an incoming PUBLISH packet: delivers it to any
// matching subscription and drives the QoS 1/2 acknowledgment handshake.
func (c *Client) handlePublish(p *packets.PublishPacket) {
	switch p.QoS {
	case 0:
		c.deliverInbound(p)

	case 1:
		c.deliverInbound(p)
		select {
		case c.outgoing <- &packets.PubackPacket{PacketID: p.PacketID}:
		case <-c.stop:
		}

	case 2:
		// dedup.Seen both checks and marks the id in one step, so a
		// redelivered PUBLISH (broker resent after losing our PUBREC) is
		// delivered to subscribers at most once.
		if !c.dedup.Seen(p.PacketID) {
			c.deliverInbound(p)
		}
		select {
		case c.outgoing <- &packets.PubrecPacket{PacketID: p.PacketID}:
		case <-c.stop:
		}
	}
}

// deliverInbound routes a publish to the inbound channel if any subscription
// matches its topic. The send blocks the logic loop (and, transitively,
// readLoop's feed from the transport) when the channel is full: a slow
// consumer applies backpressure all the way to the socket rather than
// silently losing a message, which matters most for an already-dedup-marked
// QoS 2 delivery that can never be recovered if dropped here.
func (c *Client) deliverInbound(p *packets.PublishPacket) {
	c.sessionLock.Lock()
	_, subscribed := c.matchSubscriptionLocked(p.Topic)
	c.sessionLock.Unlock()
	if !subscribed {
		return
	}

	msg := InboundMessage{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       QoS(p.QoS),
		Retain:    p.Retain,
		Duplicate: p.Dup,
	}

	if c.opts.DefaultPublishHandler != nil {
		c.opts.DefaultPublishHandler(msg)
	}

	select {
	case c.inbound <- msg:
	case <-c.stop:
	}
}

// matchSubscriptionLocked reports whether topic matches any active
// subscription filter, and the highest granted QoS among matches. Caller
// must hold sessionLock.
func (c *Client) matchSubscriptionLocked(topic string) (QoS, bool) {
	best := QoS(0)
	found := false
	for filter, entry := range c.subscriptions {
		if MatchTopic(filter, topic) {
			found = true
			if entry.qos > best {
				best = entry.qos
			}
		}
	}
	return best, found
}

// handlePubrel processes a PUBREL packet (QoS 2, broker step 2). Once it
// arrives the packet id is free for dedup tracking purposes.
func (c *Client) handlePubrel(p *packets.PubrelPacket) {
	c.dedup.Remove(p.PacketID)
	select {
	case c.outgoing <- &packets.PubcompPacket{PacketID: p.PacketID}:
	case <-c.stop:
	}
}

// handleSuback processes a SUBACK packet, resolving the matching Subscribe
// call with the broker's per-topic granted QoS/failure codes.
func (c *Client) handleSuback(p *packets.SubackPacket) {
	c.sessionLock.Lock()
	op, ok := c.pendingAcks[p.PacketID]
	if ok {
		delete(c.pendingAcks, p.PacketID)
	}
	c.sessionLock.Unlock()
	if !ok {
		return
	}
	c.ids.Release(p.PacketID)
	op.complete(SubAckResult{ReturnCodes: p.ReturnCodes}, nil)
}

// handleUnsuback processes an UNSUBACK packet, resolving the matching
// Unsubscribe call.
func (c *Client) handleUnsuback(p *packets.UnsubackPacket) {
	c.sessionLock.Lock()
	op, ok := c.pendingAcks[p.PacketID]
	if ok {
		delete(c.pendingAcks, p.PacketID)
	}
	c.sessionLock.Unlock()
	if !ok {
		return
	}
	c.ids.Release(p.PacketID)
	op.complete(UnsubAckResult{}, nil)
}

// resubscribeAll re-sends a SUBSCRIBE for every tracked subscription after a
// reconnect. Issued unconditionally: a CleanSession(true) session always
// needs it replayed, and a CleanSession(false) session may have lost it
// server-side too (e.g. broker restart).
func (c *Client) resubscribeAll() {
	c.sessionLock.Lock()
	subs := make([]TopicSubscription, 0, len(c.subscriptions))
	for topic, entry := range c.subscriptions {
		subs = append(subs, TopicSubscription{Topic: topic, QoS: entry.qos})
	}
	c.sessionLock.Unlock()

	if len(subs) == 0 {
		return
	}
	go func() {
		_, _ = c.internalSubscribe(subs)
	}()
}
