// Package neterr defines the closed error taxonomy shared by the chat
// session and the secret recovery client. Callers branch on Kind, never on
// message text.
package neterr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Kind identifies one failure class.
type Kind int

const (
	// KindUnknown is the catch-all for causes the mapping has no better
	// class for.
	KindUnknown Kind = iota
	// KindNetwork covers transport and IO failures, including a closed or
	// interrupted connection.
	KindNetwork
	// KindTimeout covers deadline expiry while establishing a connection or
	// waiting for a response.
	KindTimeout
	// KindRateLimited is a server push-back; RetryAfter carries the wait.
	KindRateLimited
	// KindInvalidArgument is a local validation failure raised before any
	// network activity.
	KindInvalidArgument
	// KindInvalidURI is a local validation failure for a malformed path.
	KindInvalidURI
	// KindInvalidToken means the presented credential was rejected.
	KindInvalidToken
	// KindAttestationData means enclave metadata did not match what the
	// client expected.
	KindAttestationData
	// KindDataMissing means no backup exists: never created, removed, or
	// the tries budget is exhausted.
	KindDataMissing
	// KindRestoreFailed means the restore attempt was rejected;
	// TriesRemaining carries the server-reported budget.
	KindRestoreFailed
	// KindAppExpired means the client build is too old for the service.
	KindAppExpired
	// KindDeviceDelinked means this device is no longer linked to the
	// account.
	KindDeviceDelinked
	// KindServiceInactive means the remote service is not serving.
	KindServiceInactive
)

// String returns the stable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate-limited"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindInvalidURI:
		return "invalid-uri"
	case KindInvalidToken:
		return "invalid-token"
	case KindAttestationData:
		return "attestation-data"
	case KindDataMissing:
		return "data-missing"
	case KindRestoreFailed:
		return "restore-failed"
	case KindAppExpired:
		return "app-expired"
	case KindDeviceDelinked:
		return "device-delinked"
	case KindServiceInactive:
		return "service-inactive"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Message is human-readable; the structured
// fields are only meaningful for the kinds documented on them.
type Error struct {
	Kind    Kind
	Message string

	// TriesRemaining is set for KindRestoreFailed.
	TriesRemaining uint32
	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration

	cause error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// RateLimited builds a KindRateLimited error carrying the server's
// retry-after interval.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("rate limited, retry after %s", retryAfter),
		RetryAfter: retryAfter,
	}
}

// RestoreFailed builds a KindRestoreFailed error carrying the
// server-reported tries budget.
func RestoreFailed(triesRemaining uint32) *Error {
	return &Error{
		Kind:           KindRestoreFailed,
		Message:        fmt.Sprintf("restore failed, %d tries remaining", triesRemaining),
		TriesRemaining: triesRemaining,
	}
}

// Classify maps an arbitrary failure to the taxonomy. The mapping is total:
// every input yields an *Error, and the same cause always yields the same
// kind. An input that already is an *Error passes through unchanged.
func Classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case err == nil:
		return New(KindUnknown, "classified nil error")
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, err, "operation timed out")
	case errors.Is(err, context.Canceled):
		return Wrap(KindNetwork, err, "operation canceled")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return Wrap(KindNetwork, err, "connection closed")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(KindTimeout, err, "network timeout")
		}
		return Wrap(KindNetwork, err, "network failure")
	}
	return Wrap(KindUnknown, err, "%v", err)
}

// KindOf reports the kind an error classifies to.
func KindOf(err error) Kind {
	return Classify(err).Kind
}
