package packets

import (
	"bytes"
	"testing"
)

func TestFixedHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		header FixedHeader
	}{
		{"connect", FixedHeader{PacketType: CONNECT, Flags: 0, RemainingLength: 12}},
		{"publish_qos1", FixedHeader{PacketType: PUBLISH, Flags: 0x0B, RemainingLength: 300}},
		{"pingreq_zero_len", FixedHeader{PacketType: PINGREQ, Flags: 0, RemainingLength: 0}},
		{"large_remaining_length", FixedHeader{PacketType: PUBLISH, Flags: 0, RemainingLength: 268435455}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if _, err := tc.header.WriteTo(&buf); err != nil {
				t.Fatalf("WriteTo: %v", err)
			}

			got, err := DecodeFixedHeader(&buf)
			if err != nil {
				t.Fatalf("DecodeFixedHeader: %v", err)
			}
			if *got != tc.header {
				t.Fatalf("got %+v, want %+v", *got, tc.header)
			}
		})
	}
}

func TestFixedHeaderAppendBytesMatchesWriteTo(t *testing.T) {
	h := FixedHeader{PacketType: PUBLISH, Flags: 0x01, RemainingLength: 130}

	var buf bytes.Buffer
	if _, err := h.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	appended := h.appendBytes(nil)
	if !bytes.Equal(buf.Bytes(), appended) {
		t.Fatalf("appendBytes = %x, want %x", appended, buf.Bytes())
	}
}
