package mq

import "sync/atomic"

// StatsRecorder receives live counter updates as the client sends and
// receives packets, for wiring into an application's own metrics pipeline.
// All methods must be safe for concurrent use; the client invokes them from
// its read/write/logic goroutines without synchronization of its own.
type StatsRecorder interface {
	PacketSent(size int)
	PacketReceived(size int)
	Reconnected()
}

// ClientStats is a point-in-time snapshot of a client's counters.
type ClientStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	ReconnectCount  uint64
}

// stats holds the client's own atomic counters, independent of any
// optionally-installed StatsRecorder.
type stats struct {
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	reconnectCount  atomic.Uint64
}

// recordSent records one fully-written packet of size bytes.
func (s *stats) recordSent(size int, rec StatsRecorder) {
	s.packetsSent.Add(1)
	s.bytesSent.Add(uint64(size))
	if rec != nil {
		rec.PacketSent(size)
	}
}

// recordReceived records one fully-decoded packet of size bytes.
func (s *stats) recordReceived(size int, rec StatsRecorder) {
	s.packetsReceived.Add(1)
	s.bytesReceived.Add(uint64(size))
	if rec != nil {
		rec.PacketReceived(size)
	}
}

// addBytesReceived tracks raw bytes read off the wire without implying a
// whole packet was completed, e.g. per conn.Read chunk in the read loop.
func (s *stats) addBytesReceived(n int) {
	s.bytesReceived.Add(uint64(n))
}

// addBytesSent tracks raw bytes written to the wire without implying a
// whole packet was completed, since a single packet's WriteTo may issue
// several underlying Write calls.
func (s *stats) addBytesSent(n int) {
	s.bytesSent.Add(uint64(n))
}

func (s *stats) recordReconnect(rec StatsRecorder) {
	s.reconnectCount.Add(1)
	if rec != nil {
		rec.Reconnected()
	}
}

func (s *stats) snapshot() ClientStats {
	return ClientStats{
		PacketsSent:     s.packetsSent.Load(),
		PacketsReceived: s.packetsReceived.Load(),
		BytesSent:       s.bytesSent.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		ReconnectCount:  s.reconnectCount.Load(),
	}
}
