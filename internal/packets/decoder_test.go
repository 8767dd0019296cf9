package packets

import (
	"bytes"
	"testing"
)

func TestDecoderFeedSinglePacket(t *testing.T) {
	d := NewDecoder(0)
	encoded := encodeToBytes(t, &PingreqPacket{})

	got, err := d.Feed(encoded)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d packets, want 1", len(got))
	}
	if got[0].Type() != PINGREQ {
		t.Fatalf("got packet type %d, want PINGREQ", got[0].Type())
	}
}

func TestDecoderAccumulatesPartialFrame(t *testing.T) {
	d := NewDecoder(0)
	encoded := encodeToBytes(t, &PublishPacket{Topic: "a/b", Payload: []byte{1, 2, 3}, QoS: 0})

	for i := 0; i < len(encoded)-1; i++ {
		got, err := d.Feed(encoded[i : i+1])
		if err != nil {
			t.Fatalf("Feed byte %d: %v", i, err)
		}
		if len(got) != 0 {
			t.Fatalf("Feed byte %d unexpectedly produced a packet before the frame was complete", i)
		}
	}

	got, err := d.Feed(encoded[len(encoded)-1:])
	if err != nil {
		t.Fatalf("Feed final byte: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d packets after final byte, want 1", len(got))
	}
}

func TestDecoderEmitsPacketsInOrderAcrossArbitraryChunking(t *testing.T) {
	var want []Packet
	var stream []byte
	for i := 0; i < 20; i++ {
		p := &PublishPacket{Topic: "t", Payload: []byte{byte(i)}, QoS: 0}
		want = append(want, p)
		stream = append(stream, encodeToBytes(t, p)...)
	}

	// Split the concatenated stream into irregularly-sized chunks.
	chunkSizes := []int{1, 3, 7, 2, 100, 1, 5}
	var got []Packet
	pos := 0
	ci := 0
	d := NewDecoder(0)
	for pos < len(stream) {
		size := chunkSizes[ci%len(chunkSizes)]
		ci++
		end := pos + size
		if end > len(stream) {
			end = len(stream)
		}
		pkts, err := d.Feed(stream[pos:end])
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		got = append(got, pkts...)
		pos = end
	}

	if len(got) != len(want) {
		t.Fatalf("got %d packets, want %d", len(got), len(want))
	}
	for i := range want {
		wp := want[i].(*PublishPacket)
		gp := got[i].(*PublishPacket)
		if wp.Payload[0] != gp.Payload[0] {
			t.Fatalf("packet %d payload = %x, want %x", i, gp.Payload, wp.Payload)
		}
	}
}

func TestDecoderRejectsOverlongVarint(t *testing.T) {
	d := NewDecoder(0)
	// PUBLISH type/flags byte, followed by 5 continuation bytes.
	stream := []byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}
	if _, err := d.Feed(stream); err == nil {
		t.Fatal("expected malformed varint error")
	}
}

func TestDecoderRejectsTooLargePacket(t *testing.T) {
	d := NewDecoder(10)
	header := FixedHeader{PacketType: PUBLISH, Flags: 0, RemainingLength: 1000}
	var buf bytes.Buffer
	header.WriteTo(&buf)

	if _, err := d.Feed(buf.Bytes()); err == nil {
		t.Fatal("expected TooLarge error")
	}
}

func TestDecoderRejectsReservedFlagViolation(t *testing.T) {
	d := NewDecoder(0)
	// PUBREL (type 6) requires flags 0x02; send 0x00 instead.
	header := FixedHeader{PacketType: PUBREL, Flags: 0, RemainingLength: 2}
	var buf bytes.Buffer
	header.WriteTo(&buf)
	buf.Write([]byte{0x00, 0x01})

	if _, err := d.Feed(buf.Bytes()); err == nil {
		t.Fatal("expected protocol violation for bad PUBREL flags")
	}
}

func TestDecoderRejectsUnknownPacketType(t *testing.T) {
	d := NewDecoder(0)
	header := FixedHeader{PacketType: 15, Flags: 0, RemainingLength: 0}
	var buf bytes.Buffer
	header.WriteTo(&buf)

	if _, err := d.Feed(buf.Bytes()); err == nil {
		t.Fatal("expected protocol violation for unknown packet type")
	}
}
