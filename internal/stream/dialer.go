package stream

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Conn is one live stream connection. ReadMessage blocks until the next
// frame arrives or the connection dies.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens stream connections. The manager depends on this interface so
// tests can script connects, failures and frame sequences.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer is the production Dialer over gorilla/websocket.
type WebSocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer returns a Dialer using gorilla's default options.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{dialer: websocket.DefaultDialer}
}

func (d *WebSocketDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
