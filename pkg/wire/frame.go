// Package wire implements the binary envelope exchanged over a chat
// connection. Every frame carries either a request or a response; both
// directions use the same request shape, so server pushes decode with the
// same code path as client sends.
package wire

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Frame field numbers. The envelope is protobuf-shaped; unknown fields are
// skipped on decode so newer peers can add fields without breaking us.
const (
	fieldFrameRequest  = 1
	fieldFrameResponse = 2

	fieldRequestVerb    = 1
	fieldRequestPath    = 2
	fieldRequestHeader  = 3
	fieldRequestBody    = 4
	fieldRequestID      = 5

	fieldResponseID      = 1
	fieldResponseStatus  = 2
	fieldResponseMessage = 3
	fieldResponseHeader  = 4
	fieldResponseBody    = 5

	fieldHeaderName  = 1
	fieldHeaderValue = 2
)

// Header is a single name/value pair. Order of headers is preserved
// end to end.
type Header struct {
	Name  string
	Value string
}

// Request is an HTTP-shaped message. Client-originated requests carry a
// correlator-assigned ID; server-pushed requests carry the server's ID,
// which the acknowledgment response must echo.
type Request struct {
	Verb    string
	Path    string
	Headers []Header
	Body    []byte
	ID      uint64
}

// Response answers a request with the same ID.
type Response struct {
	ID      uint64
	Status  uint32
	Message string
	Headers []Header
	Body    []byte
}

// Frame is the top-level envelope. Exactly one of Request or Response is set.
type Frame struct {
	Request  *Request
	Response *Response
}

// Header returns the value of the first header with the given name,
// compared case-insensitively.
func (r *Request) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Header returns the value of the first header with the given name,
// compared case-insensitively.
func (r *Response) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Encode encodes the frame into bytes. Encoding is deterministic for a
// given frame and has no side effects.
func (f *Frame) Encode() ([]byte, error) {
	switch {
	case f.Request != nil && f.Response != nil:
		return nil, fmt.Errorf("frame carries both a request and a response")
	case f.Request != nil:
		body := encodeRequest(f.Request)
		buf := protowire.AppendTag(nil, fieldFrameRequest, protowire.BytesType)
		return protowire.AppendBytes(buf, body), nil
	case f.Response != nil:
		body := encodeResponse(f.Response)
		buf := protowire.AppendTag(nil, fieldFrameResponse, protowire.BytesType)
		return protowire.AppendBytes(buf, body), nil
	default:
		return nil, fmt.Errorf("frame carries neither a request nor a response")
	}
}

// Decode decodes bytes into the frame. A structurally malformed input
// returns an error and leaves the frame unmodified; unknown fields are
// ignored.
func (f *Frame) Decode(data []byte) error {
	var out Frame
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("failed to decode frame: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldFrameRequest && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("failed to decode frame request: %w", protowire.ParseError(n))
			}
			req, err := decodeRequest(raw)
			if err != nil {
				return err
			}
			out.Request = req
			data = data[n:]
		case num == fieldFrameResponse && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("failed to decode frame response: %w", protowire.ParseError(n))
			}
			resp, err := decodeResponse(raw)
			if err != nil {
				return err
			}
			out.Response = resp
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("failed to decode frame field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if out.Request == nil && out.Response == nil {
		return fmt.Errorf("frame carries neither a request nor a response")
	}
	if out.Request != nil && out.Response != nil {
		return fmt.Errorf("frame carries both a request and a response")
	}
	*f = out
	return nil
}

func encodeHeader(h Header) []byte {
	buf := protowire.AppendTag(nil, fieldHeaderName, protowire.BytesType)
	buf = protowire.AppendString(buf, h.Name)
	buf = protowire.AppendTag(buf, fieldHeaderValue, protowire.BytesType)
	buf = protowire.AppendString(buf, h.Value)
	return buf
}

func decodeHeader(data []byte) (Header, error) {
	var h Header
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return h, fmt.Errorf("failed to decode header: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldHeaderName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return h, fmt.Errorf("failed to decode header name: %w", protowire.ParseError(n))
			}
			h.Name = v
			data = data[n:]
		case num == fieldHeaderValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return h, fmt.Errorf("failed to decode header value: %w", protowire.ParseError(n))
			}
			h.Value = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return h, fmt.Errorf("failed to decode header field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return h, nil
}

func encodeRequest(r *Request) []byte {
	buf := protowire.AppendTag(nil, fieldRequestVerb, protowire.BytesType)
	buf = protowire.AppendString(buf, r.Verb)
	buf = protowire.AppendTag(buf, fieldRequestPath, protowire.BytesType)
	buf = protowire.AppendString(buf, r.Path)
	for _, h := range r.Headers {
		buf = protowire.AppendTag(buf, fieldRequestHeader, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeHeader(h))
	}
	if r.Body != nil {
		buf = protowire.AppendTag(buf, fieldRequestBody, protowire.BytesType)
		buf = protowire.AppendBytes(buf, r.Body)
	}
	buf = protowire.AppendTag(buf, fieldRequestID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, r.ID)
	return buf
}

func decodeRequest(data []byte) (*Request, error) {
	var r Request
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("failed to decode request: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldRequestVerb && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode request verb: %w", protowire.ParseError(n))
			}
			r.Verb = v
			data = data[n:]
		case num == fieldRequestPath && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode request path: %w", protowire.ParseError(n))
			}
			r.Path = v
			data = data[n:]
		case num == fieldRequestHeader && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode request header: %w", protowire.ParseError(n))
			}
			h, err := decodeHeader(raw)
			if err != nil {
				return nil, err
			}
			r.Headers = append(r.Headers, h)
			data = data[n:]
		case num == fieldRequestBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode request body: %w", protowire.ParseError(n))
			}
			r.Body = append([]byte(nil), v...)
			data = data[n:]
		case num == fieldRequestID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode request id: %w", protowire.ParseError(n))
			}
			r.ID = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode request field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return &r, nil
}

func encodeResponse(r *Response) []byte {
	buf := protowire.AppendTag(nil, fieldResponseID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, r.ID)
	buf = protowire.AppendTag(buf, fieldResponseStatus, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.Status))
	if r.Message != "" {
		buf = protowire.AppendTag(buf, fieldResponseMessage, protowire.BytesType)
		buf = protowire.AppendString(buf, r.Message)
	}
	for _, h := range r.Headers {
		buf = protowire.AppendTag(buf, fieldResponseHeader, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeHeader(h))
	}
	if r.Body != nil {
		buf = protowire.AppendTag(buf, fieldResponseBody, protowire.BytesType)
		buf = protowire.AppendBytes(buf, r.Body)
	}
	return buf
}

func decodeResponse(data []byte) (*Response, error) {
	var r Response
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("failed to decode response: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldResponseID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode response id: %w", protowire.ParseError(n))
			}
			r.ID = v
			data = data[n:]
		case num == fieldResponseStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode response status: %w", protowire.ParseError(n))
			}
			r.Status = uint32(v)
			data = data[n:]
		case num == fieldResponseMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode response message: %w", protowire.ParseError(n))
			}
			r.Message = v
			data = data[n:]
		case num == fieldResponseHeader && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode response header: %w", protowire.ParseError(n))
			}
			h, err := decodeHeader(raw)
			if err != nil {
				return nil, err
			}
			r.Headers = append(r.Headers, h)
			data = data[n:]
		case num == fieldResponseBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode response body: %w", protowire.ParseError(n))
			}
			r.Body = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode response field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return &r, nil
}
