// Package transport provides byte-stream Conn adapters for the client beyond
// plain TCP/TLS, which the client dials directly with net.Dialer/tls.Dialer.
package transport

import (
	"context"
	"fmt"
	"net"

	"nhooyr.io/websocket"
)

// DialWebSocket opens a WebSocket connection to url and returns it as a
// net.Conn carrying binary MQTT frames, for use as the client's transport
// when connecting to a broker that only exposes MQTT over WebSockets.
//
// The "mqtt" subprotocol is requested per the MQTT-over-WebSockets
// convention; most brokers require it to accept the connection.
func DialWebSocket(ctx context.Context, url string) (net.Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{"mqtt"},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return websocket.NetConn(context.Background(), c, websocket.MessageBinary), nil
}
