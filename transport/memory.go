package transport

import "net"

// Pipe returns an in-memory, synchronous, full-duplex net.Conn pair with no
// network stack involved. Used as the client's transport in tests that
// exercise the session state machine against a fake broker goroutine.
func Pipe() (client, broker net.Conn) {
	return net.Pipe()
}
