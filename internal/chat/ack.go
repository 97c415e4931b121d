package chat

import (
	"context"
	"errors"
	"math"
	"sync/atomic"

	"github.com/omochice/chatlink/pkg/neterr"
	"github.com/omochice/chatlink/pkg/wire"
)

var (
	// ErrStatusOutOfRange reports a status that does not fit in 16 bits.
	ErrStatusOutOfRange = errors.New("status outside 16-bit range")
	// ErrStatusNotValid reports an in-range value that is not an HTTP
	// status code.
	ErrStatusNotValid = errors.New("not a valid HTTP status code")
	// ErrAckConsumed reports a second send on the same acknowledgment.
	ErrAckConsumed = errors.New("acknowledgment already consumed")
)

// ServerMessageAck acknowledges one pushed message back to the server.
// It is a one-shot handle: Send consumes it.
type ServerMessageAck struct {
	id   uint64
	used atomic.Bool
	send func(ctx context.Context, resp *wire.Response) error
}

func newServerMessageAck(id uint64, send func(ctx context.Context, resp *wire.Response) error) *ServerMessageAck {
	return &ServerMessageAck{id: id, send: send}
}

// Send transmits the status for the pushed message this handle is bound
// to. The status must fit in 16 bits and satisfy 100 <= status <= 599.
// A failed validation does not consume the handle.
func (a *ServerMessageAck) Send(ctx context.Context, status int) error {
	if status < 0 || status > math.MaxUint16 {
		return neterr.Wrap(neterr.KindInvalidArgument, ErrStatusOutOfRange, "status %d", status)
	}
	if status < 100 || status > 599 {
		return neterr.Wrap(neterr.KindInvalidArgument, ErrStatusNotValid, "status %d", status)
	}
	if !a.used.CompareAndSwap(false, true) {
		return neterr.Wrap(neterr.KindInvalidArgument, ErrAckConsumed, "message %d", a.id)
	}
	return a.send(ctx, &wire.Response{ID: a.id, Status: uint32(status)})
}
