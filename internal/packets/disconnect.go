package packets

import "io"

// DisconnectPacket represents an MQTT DISCONNECT control packet.
// In 3.1.1 it carries no variable header or payload; it is the client's
// explicit notice that the network connection is about to close.
type DisconnectPacket struct{}

// Type returns the packet type.
func (p *DisconnectPacket) Type() uint8 {
	return DISCONNECT
}

// WriteTo writes the DISCONNECT packet to the writer.
func (p *DisconnectPacket) WriteTo(w io.Writer) (int64, error) {
	header := &FixedHeader{
		PacketType:      DISCONNECT,
		Flags:           0,
		RemainingLength: 0,
	}
	return header.WriteTo(w)
}

// DecodeDisconnect decodes a DISCONNECT packet (no payload in 3.1.1).
func DecodeDisconnect(buf []byte) (*DisconnectPacket, error) {
	return &DisconnectPacket{}, nil
}
