package mq

import (
	"context"

	"github.com/streammq/client/internal/packets"
)

// TopicSubscription pairs a topic filter with the QoS requested for it.
// Filters may use '+' (single level) and '#' (multi-level, terminal only).
type TopicSubscription struct {
	Topic string
	QoS   QoS
}

// SubAckResult reports the broker's per-filter outcome for a Subscribe call,
// in the same order as the request.
type SubAckResult struct {
	ReturnCodes []uint8
}

// Granted reports the QoS the broker granted for the i'th requested filter,
// or false if the broker refused it.
func (r SubAckResult) Granted(i int) (QoS, bool) {
	if i < 0 || i >= len(r.ReturnCodes) {
		return 0, false
	}
	code := r.ReturnCodes[i]
	if code == packets.SubackFailure {
		return 0, false
	}
	return QoS(code), true
}

// UnsubAckResult reports the outcome of an Unsubscribe call. MQTT 3.1.1's
// UNSUBACK carries no per-topic status, so a non-nil error is the only
// failure signal.
type UnsubAckResult struct{}

// Subscribe registers interest in one or more topic filters and blocks until
// the broker's SUBACK arrives or ctx is done. Subscriptions are recorded
// locally before the SUBSCRIBE packet is sent, so a PUBLISH the broker
// forwards ahead of the SUBACK is still delivered.
func (c *Client) Subscribe(ctx context.Context, subs []TopicSubscription) (SubAckResult, error) {
	if len(subs) == 0 {
		return SubAckResult{}, invalidArgumentError("subs must not be empty")
	}
	for _, s := range subs {
		if err := validateSubscribeTopic(s.Topic, c.opts); err != nil {
			return SubAckResult{}, invalidArgumentError("invalid topic filter %q: %v", s.Topic, err)
		}
	}

	c.opts.Logger.Debug("subscribing")
	return c.internalSubscribeCtx(ctx, subs)
}

// Unsubscribe removes one or more topic filters and blocks until the
// broker's UNSUBACK arrives or ctx is done.
func (c *Client) Unsubscribe(ctx context.Context, topics []string) (UnsubAckResult, error) {
	if len(topics) == 0 {
		return UnsubAckResult{}, invalidArgumentError("topics must not be empty")
	}

	c.opts.Logger.Debug("unsubscribing")
	return c.internalUnsubscribe(ctx, topics)
}
