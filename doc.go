// Package mq is an MQTT 3.1.1 client for high-throughput telemetry
// workloads: connect, publish at any QoS level, subscribe to topic filters,
// and consume inbound messages through a backpressured channel.
//
// # Quick start
//
//	client, err := mq.Dial("tcp://localhost:1883", mq.WithClientID("sensor-01"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect(context.Background())
//
//	result, err := client.Publish(context.Background(), "sensors/temp", []byte("22.5"), mq.AtLeastOnce, false)
//	if err != nil {
//	    log.Printf("publish failed: %v (%s)", err, result.Status)
//	}
//
//	if _, err := client.Subscribe(context.Background(), []mq.TopicSubscription{
//	    {Topic: "sensors/+/temp", QoS: mq.AtLeastOnce},
//	}); err != nil {
//	    log.Fatal(err)
//	}
//	for msg := range client.Messages() {
//	    fmt.Printf("%s: %s\n", msg.Topic, msg.Payload)
//	}
//
// # Quality of Service
//
//   - AtMostOnce (0): fire-and-forget, no acknowledgment, never retried.
//   - AtLeastOnce (1): PUBACK-acknowledged, retried with DUP set until acked
//     or MaxRetries transmissions have been made, after which Publish
//     returns ErrTimedOut; the application may observe duplicates.
//   - ExactlyOnce (2): PUBREC/PUBREL/PUBCOMP handshake; duplicates suppressed
//     on the receiving side by an internal bounded, TTL-limited cache.
//
// # Connection options
//
// Dial and DialContext accept functional options: WithClientID, WithCredentials,
// WithKeepAlive, WithCleanSession, WithAutoReconnect, WithReconnectPolicy,
// WithConnectTimeout, WithPublishTimeout, WithMaxRetries, WithMaxInflight,
// WithDedupWindow, WithTLS, WithWill, WithDialer, WithLogger, WithStatsRecorder,
// WithOnConnect, WithOnConnectionLost, WithDefaultPublishHandler.
//
// # Transports
//
// The Server URL scheme selects the transport: "tcp"/"mqtt" for plain TCP,
// "tls"/"ssl"/"mqtts" for TLS, "ws"/"wss" for WebSocket. WithDialer replaces
// this entirely for custom transports.
//
// # Reconnection
//
// With AutoReconnect (default true), a dropped connection is redialed using
// the configured ReconnectPolicy (an exponential backoff by default). As
// soon as the new connection is established, every still-unacknowledged QoS
// 1/2 publish is immediately resent (DUP-flagged, packet id preserved) and
// subscriptions are replayed, both ahead of any new user call.
//
// # Errors
//
// Every client-level failure is an *MqttError; compare against the package's
// sentinel errors (ErrProtocolError, ErrConnectRefused, ErrTimedOut,
// ErrDisconnected, ErrCancelled, ErrBackpressureFull, ErrInvalidArgument) with
// errors.Is, or use errors.As to inspect MqttError.Code and, for a refused
// CONNECT, MqttError.ConnAckCode.
package mq
