package chat

import (
	"net/url"
	"strings"

	"github.com/omochice/chatlink/pkg/neterr"
	"github.com/omochice/chatlink/pkg/wire"
)

// Request is an outgoing HTTP-shaped request sent over the session.
// Header order is preserved on the wire.
type Request struct {
	Verb    string
	Path    string
	Headers []wire.Header
	Body    []byte
}

// Response is the server's answer to a sent Request.
type Response struct {
	Status  uint32
	Message string
	Headers []wire.Header
	Body    []byte
}

// validate checks the request locally. Violations are synchronous
// validation failures, never network errors.
func (r *Request) validate() error {
	if !isToken(r.Verb) {
		return neterr.New(neterr.KindInvalidArgument, "verb %q is not a valid HTTP method token", r.Verb)
	}
	if err := validatePath(r.Path); err != nil {
		return err
	}
	for _, h := range r.Headers {
		if h.Name == "" || strings.ContainsRune(h.Name, 0) {
			return neterr.New(neterr.KindInvalidArgument, "header name %q is invalid", h.Name)
		}
		if strings.ContainsRune(h.Value, 0) {
			return neterr.New(neterr.KindInvalidArgument, "header %q has a value with an embedded NUL", h.Name)
		}
	}
	return nil
}

func validatePath(path string) error {
	if path == "" || strings.ContainsRune(path, 0) {
		return neterr.New(neterr.KindInvalidURI, "path %q is not a valid URI component", path)
	}
	u, err := url.ParseRequestURI(path)
	if err != nil {
		return neterr.Wrap(neterr.KindInvalidURI, err, "path %q is not a valid URI component", path)
	}
	if u.Scheme != "" || u.Host != "" {
		return neterr.New(neterr.KindInvalidURI, "path %q must not carry a scheme or authority", path)
	}
	return nil
}

// isToken reports whether s is a non-empty RFC 7230 token, the character
// set allowed for HTTP methods and header names.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTokenChar(s[i]) {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
