package packets

import (
	"bytes"
	"testing"
)

func encodeToBytes(t *testing.T, p Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.Bytes()
}

func TestPacketRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		packet Packet
		decode func(body []byte, header *FixedHeader) (Packet, error)
	}{
		{
			"connect",
			&ConnectPacket{ProtocolName: "MQTT", ProtocolLevel: 4, CleanSession: true, KeepAlive: 60, ClientID: "c1"},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodeConnect(body) },
		},
		{
			"connect_with_will_and_credentials",
			&ConnectPacket{
				ProtocolName: "MQTT", ProtocolLevel: 4, CleanSession: false, KeepAlive: 30,
				ClientID: "c2", WillFlag: true, WillQoS: 1, WillRetain: true,
				WillTopic: "last/will", WillMessage: []byte("bye"),
				UsernameFlag: true, Username: "u", PasswordFlag: true, Password: "p",
			},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodeConnect(body) },
		},
		{
			"connack",
			&ConnackPacket{SessionPresent: true, ReturnCode: ConnAccepted},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodeConnack(body) },
		},
		{
			"puback",
			&PubackPacket{PacketID: 42},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodePuback(body) },
		},
		{
			"pubrec",
			&PubrecPacket{PacketID: 7},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodePubrec(body) },
		},
		{
			"pubrel",
			&PubrelPacket{PacketID: 7},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodePubrel(body) },
		},
		{
			"pubcomp",
			&PubcompPacket{PacketID: 7},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodePubcomp(body) },
		},
		{
			"subscribe",
			&SubscribePacket{PacketID: 9, Topics: []string{"a/b", "c/+/d"}, QoS: []uint8{0, 2}},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodeSubscribe(body) },
		},
		{
			"suback",
			&SubackPacket{PacketID: 9, ReturnCodes: []uint8{SubackQoS0, SubackQoS2, SubackFailure}},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodeSuback(body) },
		},
		{
			"unsubscribe",
			&UnsubscribePacket{PacketID: 11, Topics: []string{"a/b"}},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodeUnsubscribe(body) },
		},
		{
			"unsuback",
			&UnsubackPacket{PacketID: 11},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodeUnsuback(body) },
		},
		{
			"pingreq",
			&PingreqPacket{},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodePingreq(body) },
		},
		{
			"pingresp",
			&PingrespPacket{},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodePingresp(body) },
		},
		{
			"disconnect",
			&DisconnectPacket{},
			func(body []byte, _ *FixedHeader) (Packet, error) { return DecodeDisconnect(body) },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := encodeToBytes(t, tc.packet)

			header, err := DecodeFixedHeader(bytes.NewReader(encoded))
			if err != nil {
				t.Fatalf("DecodeFixedHeader: %v", err)
			}
			body := encoded[len(encoded)-header.RemainingLength:]

			got, err := tc.decode(body, header)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			reEncoded := encodeToBytes(t, got)
			if !bytes.Equal(reEncoded, encoded) {
				t.Fatalf("round trip mismatch: got %x, want %x", reEncoded, encoded)
			}
		})
	}
}

func TestPublishQoS0WireFormat(t *testing.T) {
	// Scenario from the QoS 0 publish spec example: publish("a/b", 0x01 0x02, qos=0).
	p := &PublishPacket{Topic: "a/b", Payload: []byte{0x01, 0x02}, QoS: 0}
	got := encodeToBytes(t, p)

	want := []byte{0x30, 0x07, 0x00, 0x03, 'a', '/', 'b', 0x01, 0x02}
	if !bytes.Equal(got, want) {
		t.Fatalf("encoded QoS0 publish = %x, want %x", got, want)
	}
}

func TestPublishQoS1CarriesPacketID(t *testing.T) {
	p := &PublishPacket{Topic: "t", Payload: []byte("x"), QoS: 1, PacketID: 99, Dup: true}
	encoded := encodeToBytes(t, p)

	header, err := DecodeFixedHeader(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("DecodeFixedHeader: %v", err)
	}
	body := encoded[len(encoded)-header.RemainingLength:]

	decoded, err := DecodePublish(body, header)
	if err != nil {
		t.Fatalf("DecodePublish: %v", err)
	}
	got := decoded
	if got.PacketID != 99 || !got.Dup || got.QoS != 1 {
		t.Fatalf("decoded publish = %+v, want packetID=99 dup=true qos=1", got)
	}
}

func TestPublishRejectsQoS3(t *testing.T) {
	header := &FixedHeader{PacketType: PUBLISH, Flags: 0x06} // QoS bits = 11
	if _, err := DecodePublish([]byte{0x00, 0x01, 'a'}, header); err == nil {
		t.Fatal("expected error decoding PUBLISH with QoS 3")
	}
}

func TestSubscribeRequiresAtLeastOneTopic(t *testing.T) {
	buf := []byte{0x00, 0x01} // packet ID only, no topic filters
	if _, err := DecodeSubscribe(buf); err == nil {
		t.Fatal("expected error for SUBSCRIBE with no topic filters")
	}
}

func TestUnsubscribeRequiresAtLeastOneTopic(t *testing.T) {
	buf := []byte{0x00, 0x01}
	if _, err := DecodeUnsubscribe(buf); err == nil {
		t.Fatal("expected error for UNSUBSCRIBE with no topic filters")
	}
}

func TestEstimateSizeMatchesEncodedLength(t *testing.T) {
	cases := []*PublishPacket{
		{Topic: "a/b", Payload: []byte{0x01, 0x02}, QoS: 0},
		{Topic: "sensors/temperature", Payload: make([]byte, 1000), QoS: 1, PacketID: 5},
		{Topic: "x", Payload: nil, QoS: 2, PacketID: 65535, Retain: true},
	}

	for _, p := range cases {
		_, _, total := p.EstimateSize()
		encoded := encodeToBytes(t, p)
		if total != len(encoded) {
			t.Fatalf("EstimateSize total=%d, len(encode)=%d for topic %q", total, len(encoded), p.Topic)
		}
	}
}
