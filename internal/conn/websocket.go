package conn

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// wsDialer adapts gorilla's dialer to the Dialer interface.
type wsDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer returns the production dialer.
func NewWebSocketDialer() Dialer {
	return &wsDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *wsDialer) DialContext(ctx context.Context, urlStr string) (Transport, error) {
	c, _, err := d.dialer.DialContext(ctx, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return &wsTransport{conn: c}, nil
}

// wsTransport wraps a gorilla connection as a Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, frame, err := t.conn.ReadMessage()
	return frame, err
}

func (t *wsTransport) WriteJSON(v any) error {
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// SocketURL converts an HTTP base URL and endpoint path into the WebSocket
// URL for that endpoint.
func SocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = path
	return u.String(), nil
}
