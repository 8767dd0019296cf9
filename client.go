package mq

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/streammq/client/dedup"
	"github.com/streammq/client/idpool"
	"github.com/streammq/client/inflight"
	"github.com/streammq/client/internal/packets"
	"github.com/streammq/client/transport"
)

// subscriptionEntry is the locally remembered state for one active
// subscription, used to resubscribe after a non-clean reconnect and to pick
// the QoS a matching inbound publish is reported at.
type subscriptionEntry struct {
	qos QoS
}

// Client is a connected MQTT 3.1.1 client. A single background goroutine
// (logicLoop) owns all session state; every exported method communicates
// with it through channels and tokens rather than sharing memory directly.
type Client struct {
	opts *clientOptions

	conn     net.Conn
	connLock sync.RWMutex

	outgoing       chan packets.Packet
	incoming       chan packets.Packet
	packetReceived chan struct{}
	pingPendingCh  chan struct{}
	stop           chan struct{}
	stopOnce       sync.Once
	pingPending    bool

	// sessionLock guards subscriptions and pendingAcks; inflight publishes
	// and packet-id allocation have their own internal locking in the
	// inflight/idpool packages.
	sessionLock   sync.Mutex
	subscriptions map[string]subscriptionEntry
	pendingAcks   map[uint16]*pendingOp

	ids      *idpool.Pool
	inflight *inflight.Registry
	dedup    *dedup.Cache

	inbound chan InboundMessage

	connected atomic.Bool
	wg        sync.WaitGroup

	disconnected chan struct{}

	st stats

	requestedKeepAlive time.Duration
}

// pendingOp tracks a SUBSCRIBE or UNSUBSCRIBE awaiting its ack.
type pendingOp struct {
	done   chan struct{}
	err    error
	result any
	once   sync.Once
}

func newPendingOp() *pendingOp {
	return &pendingOp{done: make(chan struct{})}
}

func (p *pendingOp) complete(result any, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

// DialContext establishes a connection to an MQTT broker using ctx to bound
// the network dial and CONNECT/CONNACK handshake. Once connected, it starts
// the client's background goroutines and returns.
func DialContext(ctx context.Context, server string, opts ...Option) (*Client, error) {
	options := defaultOptions(server)
	for _, opt := range opts {
		opt(options)
	}
	if options.ReconnectPolicy == nil {
		options.ReconnectPolicy = defaultReconnectPolicy()
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		opts:           options,
		outgoing:       make(chan packets.Packet, 1000),
		incoming:       make(chan packets.Packet, 100),
		packetReceived: make(chan struct{}, 1),
		pingPendingCh:  make(chan struct{}, 1),
		stop:           make(chan struct{}),
		subscriptions:  make(map[string]subscriptionEntry),
		pendingAcks:    make(map[uint16]*pendingOp),
		ids:            idpool.New(),
		dedup:          dedup.New(options.DedupCapacity, options.DedupTTL),
		inbound:        make(chan InboundMessage, 1000),
		disconnected:   make(chan struct{}, 1),
	}
	c.inflight = inflight.New(options.PublishTimeout, options.MaxRetries, c.sendPacket)

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.logicLoop()

	if options.AutoReconnect {
		c.wg.Add(1)
		go c.reconnectLoop()
	}

	return c, nil
}

// Dial is DialContext using the configured ConnectTimeout (default 30s) to
// bound the initial handshake.
func Dial(server string, opts ...Option) (*Client, error) {
	options := defaultOptions(server)
	for _, opt := range opts {
		opt(options)
	}

	ctx, cancel := context.WithTimeout(context.Background(), options.ConnectTimeout)
	defer cancel()

	return DialContext(ctx, server, opts...)
}

// connect dials the transport and performs the CONNECT/CONNACK handshake.
func (c *Client) connect(ctx context.Context) error {
	c.opts.Logger.Debug("connecting to broker")

	if c.requestedKeepAlive == 0 {
		c.requestedKeepAlive = c.opts.KeepAlive
	}

	conn, err := c.dialServer(ctx)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()

	cw := &countingWriter{Writer: conn, c: c}

	connectPkt := c.buildConnectPacket()
	if _, err := connectPkt.WriteTo(cw); err != nil {
		conn.Close()
		return newError(ErrorCodeDisconnected, "failed to send CONNECT", err)
	}
	c.st.recordSent(0, c.opts.StatsRecorder)

	connack, err := c.performHandshake(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}

	if connack.ReturnCode != packets.ConnAccepted {
		conn.Close()
		return connectRefusedError(connack.ReturnCode)
	}

	c.opts.Logger.Debug("connected")
	c.connected.Store(true)

	if c.opts.OnConnect != nil {
		go c.opts.OnConnect(c)
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	return nil
}

// dialServer opens the transport connection named by Server: plain TCP for
// "tcp"/"mqtt", TLS for "tls"/"ssl"/"mqtts", WebSocket for "ws"/"wss". A
// WithDialer override bypasses this entirely.
func (c *Client) dialServer(ctx context.Context) (net.Conn, error) {
	if c.opts.Dialer != nil {
		network := "tcp"
		if u, err := url.Parse(c.opts.Server); err == nil && u.Scheme != "" {
			network = u.Scheme
		}
		conn, err := c.opts.Dialer.DialContext(ctx, network, c.opts.Server)
		if err != nil {
			return nil, newError(ErrorCodeDisconnected, "custom dialer failed", err)
		}
		return conn, nil
	}

	u, err := url.Parse(c.opts.Server)
	if err != nil {
		return nil, invalidArgumentError("invalid server URL %q: %v", c.opts.Server, err)
	}

	switch u.Scheme {
	case "ws", "wss":
		return transport.DialWebSocket(ctx, c.opts.Server)
	}

	if u.Port() == "" {
		switch u.Scheme {
		case "tls", "ssl", "mqtts":
			u.Host = net.JoinHostPort(u.Host, "8883")
		default:
			u.Host = net.JoinHostPort(u.Host, "1883")
		}
	}

	useTLS := u.Scheme == "tls" || u.Scheme == "ssl" || u.Scheme == "mqtts" || c.opts.TLSConfig != nil
	if !useTLS && u.Scheme != "tcp" && u.Scheme != "mqtt" && u.Scheme != "" {
		return nil, invalidArgumentError("unsupported scheme %q (supported: tcp, mqtt, tls, ssl, mqtts, ws, wss)", u.Scheme)
	}

	var conn net.Conn
	if useTLS {
		tlsConfig := c.opts.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}
		dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", u.Host)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", u.Host)
	}
	if err != nil {
		return nil, newError(ErrorCodeDisconnected, "failed to connect to broker", err)
	}
	return conn, nil
}

// buildConnectPacket assembles the CONNECT packet from client options.
func (c *Client) buildConnectPacket() *packets.ConnectPacket {
	keepalive := c.requestedKeepAlive
	if keepalive == 0 {
		keepalive = c.opts.KeepAlive
	}

	pkt := &packets.ConnectPacket{
		ProtocolName:  "MQTT",
		ProtocolLevel: 4,
		CleanSession:  c.opts.CleanSession,
		KeepAlive:     uint16(keepalive.Seconds()),
		ClientID:      c.opts.ClientID,
	}

	if c.opts.Username != "" {
		pkt.UsernameFlag = true
		pkt.Username = c.opts.Username
	}
	if c.opts.Password != "" {
		pkt.PasswordFlag = true
		pkt.Password = c.opts.Password
	}

	if c.opts.will != nil {
		pkt.WillFlag = true
		pkt.WillTopic = c.opts.will.Topic
		pkt.WillMessage = c.opts.will.Payload
		pkt.WillQoS = uint8(c.opts.will.QoS)
		pkt.WillRetain = c.opts.will.Retain
	}

	return pkt
}

// performHandshake reads the first packet from the broker, bounded by ctx's
// deadline (or ConnectTimeout if ctx carries none), and fails unless it is a
// CONNACK.
func (c *Client) performHandshake(ctx context.Context, conn net.Conn) (*packets.ConnackPacket, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opts.ConnectTimeout)
	}
	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	cr := &countingReader{Reader: conn, c: c}
	pkt, err := packets.ReadPacket(cr, c.opts.MaxIncomingPacket)
	if err != nil {
		return nil, newError(ErrorCodeProtocolError, "failed to read CONNACK", err)
	}
	c.st.recordReceived(0, c.opts.StatsRecorder)

	connack, ok := pkt.(*packets.ConnackPacket)
	if !ok {
		return nil, newError(ErrorCodeProtocolError, fmt.Sprintf("expected CONNACK, got packet type %d", pkt.Type()), nil)
	}
	return connack, nil
}

// readLoop feeds bytes from the connection through a packets.Decoder and
// forwards every decoded packet to the logic loop via incoming.
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.handleDisconnect()

	c.connLock.RLock()
	conn := c.conn
	c.connLock.RUnlock()
	if conn == nil {
		return
	}

	decoder := packets.NewDecoder(c.opts.MaxIncomingPacket)
	buf := make([]byte, 4096)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.st.addBytesReceived(n)
			pkts, decErr := decoder.Feed(buf[:n])
			for _, pkt := range pkts {
				c.st.recordReceived(0, c.opts.StatsRecorder)
				select {
				case c.packetReceived <- struct{}{}:
				default:
				}
				select {
				case c.incoming <- pkt:
				case <-c.stop:
					return
				}
			}
			if decErr != nil {
				c.opts.Logger.Debug("decode error, disconnecting")
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// writeLoop drains outgoing onto the wire and drives the keepalive timer.
func (c *Client) writeLoop() {
	defer c.wg.Done()

	var tickerCh <-chan time.Time
	if c.opts.KeepAlive > 0 {
		ticker := time.NewTicker(c.opts.KeepAlive / 4)
		defer ticker.Stop()
		tickerCh = ticker.C
	}

	c.connLock.RLock()
	conn := c.conn
	c.connLock.RUnlock()
	if conn == nil {
		return
	}

	cw := &countingWriter{Writer: conn, c: c}
	bw := bufio.NewWriter(cw)
	lastReceived := time.Now()
	lastSent := lastReceived

	writePacket := func(pkt packets.Packet) bool {
		if _, err := pkt.WriteTo(bw); err != nil {
			c.handleDisconnect()
			return false
		}
		c.st.recordSent(0, c.opts.StatsRecorder)
		lastSent = time.Now()
		return true
	}

	for {
		select {
		case pkt := <-c.outgoing:
			if !writePacket(pkt) {
				return
			}
			count := len(c.outgoing)
			for range count {
				if !writePacket(<-c.outgoing) {
					return
				}
			}
			if err := bw.Flush(); err != nil {
				c.handleDisconnect()
				return
			}

		case <-c.packetReceived:
			lastReceived = time.Now()

		case <-c.pingPendingCh:
			c.pingPending = false

		case <-tickerCh:
			timeout := c.opts.KeepAlive + c.opts.KeepAlive/2
			if time.Since(lastReceived) >= timeout {
				c.opts.Logger.Debug("keepalive timeout")
				c.handleDisconnect()
				return
			}

			threshold := c.opts.KeepAlive
			if !c.pingPending && (time.Since(lastSent) >= threshold || time.Since(lastReceived) >= threshold) {
				if !writePacket(&packets.PingreqPacket{}) {
					return
				}
				if err := bw.Flush(); err != nil {
					c.handleDisconnect()
					return
				}
				c.pingPending = true
			}

		case <-c.stop:
			return
		}
	}
}

// sendPacket enqueues pkt for the write loop, used as the inflight
// registry's Sender and for protocol packets sent outside of Publish.
func (c *Client) sendPacket(pkt packets.Packet) error {
	select {
	case c.outgoing <- pkt:
		return nil
	case <-c.stop:
		return ErrDisconnected
	}
}

func (c *Client) handleDisconnect() {
	if !c.connected.Swap(false) {
		return
	}

	c.connLock.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connLock.Unlock()

	if c.opts.OnConnectionLost != nil {
		go c.opts.OnConnectionLost(c, ErrDisconnected)
	}

	if !c.opts.AutoReconnect {
		c.inflight.FailAll(ErrDisconnected)
	}

	select {
	case c.disconnected <- struct{}{}:
	default:
	}
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Disconnect sends a DISCONNECT packet, stops all background goroutines, and
// closes the network connection. AutoReconnect is disabled as a side effect;
// create a new Client via Dial to reconnect.
func (c *Client) Disconnect(ctx context.Context) error {
	c.opts.Logger.Debug("disconnecting")

	if !c.connected.Swap(false) {
		return nil
	}

	select {
	case c.outgoing <- &packets.DisconnectPacket{}:
	case <-time.After(100 * time.Millisecond):
	}
	time.Sleep(100 * time.Millisecond)

	c.stopOnce.Do(func() { close(c.stop) })

	c.connLock.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connLock.Unlock()

	c.inflight.FailAll(ErrDisconnected)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return newError(ErrorCodeTimedOut, "timeout waiting for shutdown", nil)
	}
}

// reconnectLoop redials after a connection loss using opts.ReconnectPolicy
// for the delay between attempts. Once reconnected, it immediately resends
// every still-pending inflight publish (DUP-flagged, packet id preserved)
// and replays subscriptions, both before any new user call is processed.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	policy := c.opts.ReconnectPolicy

	for {
		select {
		case <-c.disconnected:
			delay := policy.NextBackOff()
			if delay == backoff.Stop {
				return
			}
			time.Sleep(delay)

			ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
			err := c.connect(ctx)
			cancel()

			if err != nil {
				select {
				case c.disconnected <- struct{}{}:
				default:
				}
				continue
			}

			policy.Reset()
			c.st.recordReconnect(c.opts.StatsRecorder)
			c.inflight.ReplayAll(time.Now())
			c.resubscribeAll()

		case <-c.stop:
			return
		}
	}
}

// Stats returns a snapshot of the client's packet, byte, and reconnect
// counters.
func (c *Client) Stats() ClientStats {
	return c.st.snapshot()
}

type countingReader struct {
	io.Reader
	c *Client
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if n > 0 {
		r.c.st.addBytesReceived(n)
	}
	return n, err
}

type countingWriter struct {
	io.Writer
	c *Client
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	if n > 0 {
		w.c.st.addBytesSent(n)
	}
	return n, err
}
