// Package auth provides the credential pair presented to the chat service
// and the recovery enclaves.
//
// Credentials are produced externally (attestation / OTP derivation); this
// package only carries them.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
)

// Auth is an opaque username/one-time-password pair for a single call.
// The zero value is no credential.
type Auth struct {
	Username string
	Password string
}

// IsZero reports whether no credential is present.
func (a Auth) IsZero() bool {
	return a.Username == "" && a.Password == ""
}

// Basic returns the value for an HTTP basic Authorization header.
func (a Auth) Basic() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.Username+":"+a.Password))
}

// Equal compares two credential pairs in constant time.
func (a Auth) Equal(other Auth) bool {
	u := subtle.ConstantTimeCompare([]byte(a.Username), []byte(other.Username))
	p := subtle.ConstantTimeCompare([]byte(a.Password), []byte(other.Password))
	return u == 1 && p == 1
}
