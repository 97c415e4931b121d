// Package transport abstracts the framed bidirectional connection used by
// the chat session and the recovery client.
package transport

import (
	"context"
	"net/http"

	"github.com/omochice/chatlink/pkg/neterr"
)

// Conn abstracts one established connection. Implementations carry whole
// frames; the caller never sees partial reads.
type Conn interface {
	// Read reads a single frame. Returns io.EOF when the connection is
	// closed by the peer.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Dialer establishes connections. The header set carries handshake
// metadata such as the Authorization header for authenticated sessions.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Proxy configures an intermediary for outbound connections.
type Proxy struct {
	Host string
	Port int
}

// Validate checks the proxy address before any connection attempt is made.
func (p Proxy) Validate() error {
	if p.Host == "" {
		return neterr.New(neterr.KindInvalidArgument, "proxy host must not be empty")
	}
	if p.Port < 1 || p.Port > 65535 {
		return neterr.New(neterr.KindInvalidArgument, "proxy port %d outside [1, 65535]", p.Port)
	}
	return nil
}
