package svr

import (
	"context"
	"net/http"

	"github.com/omochice/chatlink/internal/auth"
	"github.com/omochice/chatlink/internal/transport"
	"github.com/omochice/chatlink/pkg/neterr"
	"github.com/omochice/chatlink/pkg/wire"
)

// EndpointTransport reaches each enclave over its own framed connection.
// Enclave calls are single request/response exchanges, so each Do dials,
// exchanges one frame pair, and closes.
type EndpointTransport struct {
	dialer    transport.Dialer
	endpoints map[string]string
}

// NewEndpointTransport maps enclave ids to their endpoints. The dialer is
// shared with the chat session so both honor the same proxy settings.
func NewEndpointTransport(dialer transport.Dialer, endpoints map[string]string) *EndpointTransport {
	return &EndpointTransport{dialer: dialer, endpoints: endpoints}
}

// Do implements Transport.
func (t *EndpointTransport) Do(ctx context.Context, enclaveID string, req *wire.Request, cred auth.Auth) (*wire.Response, error) {
	endpoint, ok := t.endpoints[enclaveID]
	if !ok {
		return nil, neterr.New(neterr.KindInvalidArgument, "no endpoint configured for enclave %q", enclaveID)
	}

	header := http.Header{}
	if !cred.IsZero() {
		header.Set("Authorization", cred.Basic())
	}
	conn, err := t.dialer.Dial(ctx, endpoint, header)
	if err != nil {
		return nil, neterr.Classify(err)
	}
	defer conn.Close()

	out := *req
	out.ID = 1
	frame := wire.Frame{Request: &out}
	data, err := frame.Encode()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindInvalidArgument, err, "encode enclave request")
	}
	if err := conn.Write(ctx, data); err != nil {
		return nil, neterr.Classify(err)
	}

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return nil, neterr.Classify(err)
		}
		var in wire.Frame
		if err := in.Decode(data); err != nil {
			return nil, neterr.Wrap(neterr.KindAttestationData, err, "enclave sent an undecodable frame")
		}
		if in.Response != nil && in.Response.ID == out.ID {
			return in.Response, nil
		}
	}
}
