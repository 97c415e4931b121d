// Package ws provides the WebSocket implementation of transport.Conn.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/omochice/chatlink/internal/transport"
	"github.com/omochice/chatlink/pkg/neterr"
	"nhooyr.io/websocket"
)

// Conn adapts nhooyr.io/websocket to transport.Conn.
type Conn struct {
	conn       *websocket.Conn
	remoteAddr string
}

// NewConn wraps a websocket.Conn with the specified remote address.
func NewConn(conn *websocket.Conn, addr string) *Conn {
	return &Conn{conn: conn, remoteAddr: addr}
}

// Read implements transport.Conn.
// Reads a binary message from the WebSocket connection.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// Write implements transport.Conn.
// Writes a binary message to the WebSocket connection.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Dialer establishes WebSocket connections, optionally through a proxy.
type Dialer struct {
	client *http.Client
}

// NewDialer creates a direct dialer.
func NewDialer() *Dialer {
	return &Dialer{client: http.DefaultClient}
}

// NewProxyDialer creates a dialer that routes through the given proxy.
// The proxy address is validated before anything is dialed.
func NewProxyDialer(proxy transport.Proxy) (*Dialer, error) {
	if err := proxy.Validate(); err != nil {
		return nil, err
	}
	proxyURL := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", proxy.Host, proxy.Port),
	}
	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
	return &Dialer{client: client}, nil
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, addr string, header http.Header) (transport.Conn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindInvalidURI, err, "malformed endpoint %q", addr)
	}
	conn, resp, err := websocket.Dial(ctx, addr, &websocket.DialOptions{
		HTTPClient: d.client,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, classifyHandshakeStatus(resp.StatusCode, err)
		}
		return nil, neterr.Classify(err)
	}
	conn.SetReadLimit(-1)
	return NewConn(conn, u.Host), nil
}

// classifyHandshakeStatus maps a rejected upgrade to the taxonomy. These
// statuses come from the chat front-end, not from individual requests.
func classifyHandshakeStatus(status int, cause error) *neterr.Error {
	switch status {
	case http.StatusUnauthorized:
		return neterr.Wrap(neterr.KindInvalidToken, cause, "credential rejected during handshake")
	case http.StatusForbidden:
		return neterr.Wrap(neterr.KindDeviceDelinked, cause, "device no longer linked")
	case 499:
		return neterr.Wrap(neterr.KindAppExpired, cause, "client version expired")
	case http.StatusTooManyRequests:
		return neterr.Wrap(neterr.KindRateLimited, cause, "handshake rate limited")
	case http.StatusServiceUnavailable:
		return neterr.Wrap(neterr.KindServiceInactive, cause, "service unavailable")
	default:
		return neterr.Wrap(neterr.KindNetwork, cause, "handshake rejected with status %d", status)
	}
}
