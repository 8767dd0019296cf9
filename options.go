package mq

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ContextDialer is an interface for custom network dialing logic.
// It matches the signature of net.Dialer.DialContext.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// clientOptions holds configuration for the MQTT client. Validated as a
// whole by Validate() (backed by go-playground/validator) before Dial
// attempts a connection.
type clientOptions struct {
	// Server address (e.g., "tcp://localhost:1883", "ws://host/mqtt").
	Server string `validate:"required"`

	// ClientID identifies this client to the broker.
	ClientID string `validate:"max=65535"`

	// Username/Password for authentication (optional).
	Username string
	Password string

	// KeepAlive is the MQTT keep-alive interval; 0 disables keep-alive.
	KeepAlive time.Duration `validate:"gte=0"`

	// CleanSession selects a fresh (true) or persistent (false) session.
	CleanSession bool

	// AutoReconnect enables automatic reconnection on connection loss.
	AutoReconnect bool

	// ReconnectPolicy drives the delay between reconnect attempts. Defaults
	// to an exponential backoff with no maximum elapsed time (retries
	// forever while AutoReconnect is true).
	ReconnectPolicy backoff.BackOff

	// ConnectTimeout bounds the TCP/TLS dial plus CONNECT/CONNACK handshake.
	ConnectTimeout time.Duration `validate:"gt=0"`

	// PublishTimeout bounds how long a single in-flight PUBACK/PUBCOMP wait
	// lasts before the packet is retransmitted with DUP set.
	PublishTimeout time.Duration `validate:"gt=0"`

	// MaxRetries caps the total number of transmissions (the initial send
	// included) of an in-flight QoS 1/2 publish before Publish gives up and
	// returns ErrTimedOut.
	MaxRetries int `validate:"gte=0"`

	// MaxInflight is validated (it must be > 0) but not enforced: QoS 1/2
	// publishes block only once all 65535 packet ids are in use, and
	// WithNonBlocking does not apply to that wait.
	MaxInflight int `validate:"gt=0"`

	// DedupCapacity and DedupTTL bound the inbound QoS 2 duplicate-detection
	// cache: the most recent DedupCapacity packet ids are remembered for up
	// to DedupTTL before they age out.
	DedupCapacity int           `validate:"gt=0"`
	DedupTTL      time.Duration `validate:"gt=0"`

	// TLSConfig, when non-nil, enables TLS for "tcp"/"mqtt" dials too.
	// "tls"/"ssl"/"mqtts" always use TLS, with a default tls.Config when
	// this is nil. WebSocket ("ws"/"wss") dials ignore it.
	TLSConfig *tls.Config

	// Logger receives structured client diagnostics. Defaults to a no-op
	// logger.
	Logger *zap.Logger

	// Limits (0 = use MQTT spec defaults).
	MaxTopicLength    int
	MaxPayloadSize    int
	MaxIncomingPacket int

	// will is the optional Last Will and Testament.
	will *willMessage

	// Lifecycle hooks.
	OnConnect        func(*Client)
	OnConnectionLost func(*Client, error)

	// DefaultPublishHandler, if set, is invoked synchronously for every
	// inbound message alongside delivery on the Messages() channel.
	DefaultPublishHandler func(InboundMessage)

	// Dialer, if set, replaces the built-in net.Dialer/tls.Dialer/WebSocket
	// dial logic entirely.
	Dialer ContextDialer

	// StatsRecorder receives one call per packet sent or received and one
	// per reconnect; see Stats(). The size argument it receives is always
	// 0: byte counts are kept only in Stats().
	StatsRecorder StatsRecorder
}

// willMessage represents the Last Will and Testament message.
type willMessage struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}

// Option is a functional option for configuring the client.
type Option func(*clientOptions)

// WithClientID sets the client identifier.
//
// With CleanSession(true) an empty ID is fine (most brokers assign one).
// With CleanSession(false) a non-empty ID is required or the broker will
// reject the connection.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.ClientID = id
	}
}

// WithCredentials sets the username and password for authentication.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.Username = username
		o.Password = password
	}
}

// WithKeepAlive sets the MQTT keep alive interval (default: 60s).
func WithKeepAlive(duration time.Duration) Option {
	return func(o *clientOptions) {
		o.KeepAlive = duration
	}
}

// WithCleanSession sets the clean session flag.
//
// true (default): the broker discards any previous session state for this
// client ID; every connection starts fresh.
//
// false: the broker retains subscriptions and queued QoS 1/2 messages
// across disconnects; requires a non-empty ClientID.
func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) {
		o.CleanSession = clean
	}
}

// WithAutoReconnect enables or disables automatic reconnection (default: true).
func WithAutoReconnect(enable bool) Option {
	return func(o *clientOptions) {
		o.AutoReconnect = enable
	}
}

// WithReconnectPolicy overrides the backoff.BackOff driving the delay
// between reconnect attempts. The default is an unbounded exponential
// backoff (backoff.NewExponentialBackOff with MaxElapsedTime disabled).
func WithReconnectPolicy(policy backoff.BackOff) Option {
	return func(o *clientOptions) {
		o.ReconnectPolicy = policy
	}
}

// WithConnectTimeout sets the connection timeout (default: 30s).
func WithConnectTimeout(duration time.Duration) Option {
	return func(o *clientOptions) {
		o.ConnectTimeout = duration
	}
}

// WithPublishTimeout sets how long the client waits for a PUBACK/PUBCOMP
// before retransmitting an in-flight publish with DUP set (default: 5s).
func WithPublishTimeout(duration time.Duration) Option {
	return func(o *clientOptions) {
		o.PublishTimeout = duration
	}
}

// WithMaxRetries caps the total number of transmissions, the initial send
// included, for an in-flight QoS 1/2 publish before Publish returns
// ErrTimedOut (default: 3).
func WithMaxRetries(n int) Option {
	return func(o *clientOptions) {
		o.MaxRetries = n
	}
}

// WithMaxInflight sets the MaxInflight option (default: 1000). The client
// validates it but does not enforce it: QoS 1/2 publishes block only once
// all 65535 packet ids are in use.
func WithMaxInflight(n int) Option {
	return func(o *clientOptions) {
		o.MaxInflight = n
	}
}

// WithDedupWindow configures the inbound QoS 2 duplicate-detection cache
// (default: capacity 10000, ttl 5 seconds).
func WithDedupWindow(capacity int, ttl time.Duration) Option {
	return func(o *clientOptions) {
		o.DedupCapacity = capacity
		o.DedupTTL = ttl
	}
}

// WithTLS sets the TLS configuration for secure connections.
// A non-nil config also enables TLS for "tcp://" and "mqtt://" URLs.
// "tls://", "ssl://" and "mqtts://" URLs use TLS with default settings when
// the config is nil. WebSocket URLs ignore it.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.TLSConfig = config
	}
}

// WithDefaultPublishHandler sets a handler invoked synchronously for every
// inbound message, in addition to (never instead of) delivery on the
// Messages() channel; see Messages() for the normal delivery path.
func WithDefaultPublishHandler(handler func(InboundMessage)) Option {
	return func(o *clientOptions) {
		o.DefaultPublishHandler = handler
	}
}

// WithLogger sets a structured logger for the client.
// If not provided, the client uses zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *clientOptions) {
		o.Logger = logger
	}
}

// WithDialer sets a custom dialer for establishing the network connection.
// This enables support for alternative transports (WebSockets, Unix
// sockets, proxying) without adding dependencies to the core library.
//
// If provided, the library skips its standard scheme validation and
// delegates connection creation entirely to the dialer. The dialer's
// DialContext receives the scheme as network and the original server
// string as addr.
func WithDialer(dialer ContextDialer) Option {
	return func(o *clientOptions) {
		o.Dialer = dialer
	}
}

// DialFunc is a helper to convert a function to the ContextDialer interface.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DialContext implements ContextDialer.
func (f DialFunc) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

// WithWill sets the Last Will and Testament (LWT) message.
//
// The broker publishes this on the client's behalf if the connection is
// lost without a graceful Disconnect: keepalive timeout, network failure,
// crash. It is never published on a clean Disconnect.
func WithWill(topic string, payload []byte, qos QoS, retain bool) Option {
	return func(o *clientOptions) {
		o.will = &willMessage{Topic: topic, Payload: payload, QoS: qos, Retain: retain}
	}
}

// WithOnConnect sets the handler invoked after every successful connect or
// reconnect. Invoked in its own goroutine so it may block or call back into
// the client without deadlocking the logic loop.
func WithOnConnect(onConnect func(*Client)) Option {
	return func(o *clientOptions) {
		o.OnConnect = onConnect
	}
}

// WithOnConnectionLost sets the handler invoked when the connection drops.
// err describes the cause. Invoked in its own goroutine.
func WithOnConnectionLost(onConnectionLost func(*Client, error)) Option {
	return func(o *clientOptions) {
		o.OnConnectionLost = onConnectionLost
	}
}

// WithStatsRecorder installs a StatsRecorder that is called on every packet
// sent or received and on every reconnect, alongside the client's own
// atomic counters (see Stats()). Byte counts are not passed to it.
func WithStatsRecorder(rec StatsRecorder) Option {
	return func(o *clientOptions) {
		o.StatsRecorder = rec
	}
}

// defaultOptions returns the default client options.
func defaultOptions(server string) *clientOptions {
	return &clientOptions{
		Server:         server,
		KeepAlive:      60 * time.Second,
		CleanSession:   true,
		AutoReconnect:  true,
		ConnectTimeout: 30 * time.Second,
		PublishTimeout: 5 * time.Second,
		MaxRetries:     3,
		MaxInflight:    1000,
		DedupCapacity:  10000,
		DedupTTL:       5 * time.Second,
		Logger:         zap.NewNop(),

		// Use MQTT spec defaults (0 = use defaults in validation functions).
		MaxTopicLength:    0,
		MaxPayloadSize:    0,
		MaxIncomingPacket: 0,
	}
}

func defaultReconnectPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	return b
}
