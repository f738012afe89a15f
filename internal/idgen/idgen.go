// Package idgen provides request ID generation and validation.
package idgen

import (
	"github.com/google/uuid"
)

// MaxRequestIDLength bounds client-supplied request IDs.
const MaxRequestIDLength = 128

// New generates a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// ValidRequestID reports whether a client-supplied request ID may be
// echoed back and logged. Only printable ASCII without spaces is accepted.
func ValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

// RequestID returns the client-supplied ID when valid, or a fresh one.
func RequestID(supplied string) string {
	if ValidRequestID(supplied) {
		return supplied
	}
	return New()
}
