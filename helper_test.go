package mq

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/streammq/client/internal/packets"
	"github.com/streammq/client/transport"
)

// fakeBroker drives the broker side of an in-memory net.Conn pair: it
// accepts the CONNECT handshake, then answers PUBLISH/SUBSCRIBE/
// UNSUBSCRIBE/PINGREQ the way a real broker would. Every PUBLISH it
// receives (after any configured drop) is pushed onto received.
type fakeBroker struct {
	conn     net.Conn
	received chan *packets.PublishPacket

	// dropFirstPublish, when true, silently discards the first non-Dup
	// PUBLISH it reads (no PUBACK/PUBREC sent), simulating a lost packet or
	// lost acknowledgment that forces the client to retransmit.
	dropFirstPublish bool

	// closeOnFirstPublish, when true, records the first PUBLISH it reads
	// (no ack sent) and then closes the connection, simulating a connection
	// drop with a publish already inflight.
	closeOnFirstPublish bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{received: make(chan *packets.PublishPacket, 16)}
}

func (b *fakeBroker) run() {
	go func() {
		pkt, err := packets.ReadPacket(b.conn, 0)
		if err != nil {
			return
		}
		if _, ok := pkt.(*packets.ConnectPacket); !ok {
			return
		}
		if _, err := (&packets.ConnackPacket{ReturnCode: packets.ConnAccepted}).WriteTo(b.conn); err != nil {
			return
		}

		dropped := false
		for {
			pkt, err := packets.ReadPacket(b.conn, 0)
			if err != nil {
				return
			}
			switch p := pkt.(type) {
			case *packets.PublishPacket:
				if b.dropFirstPublish && !dropped && !p.Dup {
					dropped = true
					continue
				}
				if b.closeOnFirstPublish {
					b.received <- p
					b.conn.Close()
					return
				}
				b.received <- p
				switch p.QoS {
				case 1:
					_, _ = (&packets.PubackPacket{PacketID: p.PacketID}).WriteTo(b.conn)
				case 2:
					_, _ = (&packets.PubrecPacket{PacketID: p.PacketID}).WriteTo(b.conn)
				}
			case *packets.PubrelPacket:
				_, _ = (&packets.PubcompPacket{PacketID: p.PacketID}).WriteTo(b.conn)
			case *packets.SubscribePacket:
				codes := make([]uint8, len(p.QoS))
				copy(codes, p.QoS)
				_, _ = (&packets.SubackPacket{PacketID: p.PacketID, ReturnCodes: codes}).WriteTo(b.conn)
			case *packets.UnsubscribePacket:
				_, _ = (&packets.UnsubackPacket{PacketID: p.PacketID}).WriteTo(b.conn)
			case *packets.PingreqPacket:
				_, _ = (&packets.PingrespPacket{}).WriteTo(b.conn)
			case *packets.DisconnectPacket:
				return
			}
		}
	}()
}

// publish sends a PUBLISH from the broker to the client.
func (b *fakeBroker) publish(topic string, payload []byte, qos uint8, packetID uint16) error {
	_, err := (&packets.PublishPacket{
		Topic: topic, Payload: payload, QoS: qos, PacketID: packetID,
	}).WriteTo(b.conn)
	return err
}

// dialOverBroker wires a Client to broker through an in-memory net.Pipe,
// bypassing real network dialing via WithDialer.
func dialOverBroker(t *testing.T, broker *fakeBroker, opts ...Option) *Client {
	t.Helper()

	clientConn, brokerConn := transport.Pipe()
	broker.conn = brokerConn
	broker.run()

	dialer := DialFunc(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return clientConn, nil
	})

	allOpts := append([]Option{
		WithDialer(dialer),
		WithAutoReconnect(false),
		WithConnectTimeout(2 * time.Second),
	}, opts...)

	c, err := Dial("tcp://fake-broker", allOpts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

// dialOverBrokerSequence wires a Client whose dialer hands out a fresh
// transport.Pipe() against the next broker in brokers on every dial
// (including reconnects), for tests that need to observe what a
// just-reconnected client sends before any new user call.
func dialOverBrokerSequence(t *testing.T, brokers []*fakeBroker, opts ...Option) *Client {
	t.Helper()

	var next int
	dialer := DialFunc(func(ctx context.Context, network, addr string) (net.Conn, error) {
		if next >= len(brokers) {
			t.Fatalf("dialer invoked more times (%d) than brokers provided (%d)", next+1, len(brokers))
		}
		broker := brokers[next]
		next++

		clientConn, brokerConn := transport.Pipe()
		broker.conn = brokerConn
		broker.run()
		return clientConn, nil
	})

	allOpts := append([]Option{
		WithDialer(dialer),
		WithAutoReconnect(true),
		WithConnectTimeout(2 * time.Second),
	}, opts...)

	c, err := Dial("tcp://fake-broker", allOpts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}
