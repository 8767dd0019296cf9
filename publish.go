package mq

import "context"

// Publish sends payload to topic at the given QoS, blocking until the
// handshake for that QoS level completes (none for QoS 0, PUBACK for QoS 1,
// PUBREC/PUBREL/PUBCOMP for QoS 2) or ctx is done.
//
// Pass WithNonBlocking to fail fast with ErrBackpressureFull instead of
// waiting when the outbound queue is full.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos QoS, retain bool, opts ...PublishOption) (PublishResult, error) {
	c.opts.Logger.Debug("publishing")

	if err := validatePublishTopic(topic, c.opts); err != nil {
		return PublishResult{}, invalidArgumentError("invalid topic %q: %v", topic, err)
	}
	if err := validatePayloadSize(payload, c.opts); err != nil {
		return PublishResult{}, invalidArgumentError("invalid payload: %v", err)
	}

	var cfg publishConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return c.internalPublish(ctx, topic, payload, qos, retain, cfg)
}
