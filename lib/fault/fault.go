// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault classifies Deaddrop errors so callers can make
// programmatic decisions (retry, re-fetch, reject) without parsing
// error message text. Every failure surfaced by the verification,
// log, bundle, and sync layers carries one of four categories.
package fault

import (
	"errors"
	"fmt"
)

// Category classifies an error for programmatic handling.
type Category string

const (
	// CategoryIntegrity indicates content that fails verification:
	// hash mismatch, invalid signature, malformed encoding, a bundle
	// whose payload does not match its header. The content should be
	// rejected; retrying with the same bytes will not help.
	CategoryIntegrity Category = "integrity"

	// CategoryAuthorization indicates valid content whose signers do
	// not satisfy the governing policy: threshold not met, signer not
	// in the required role, expired identity. The content is intact
	// but not acceptable.
	CategoryAuthorization Category = "authorization"

	// CategoryConflict indicates a lost race on shared state: a
	// compare-and-swap ref update that kept failing, or state that
	// changed under the operation. The caller should re-read and
	// retry the whole operation.
	CategoryConflict Category = "conflict"

	// CategoryTransport indicates a failure reaching a store or a
	// remote location: network error, timeout, unreachable mirror.
	// The caller may back off and retry, or try another location.
	CategoryTransport Category = "transport"
)

// Error is a categorized error. It wraps an inner error, preserving
// the full chain for errors.Is and errors.As while adding the
// category. Use the category constructors (Integrity, Authorization,
// Conflict, Transport) rather than constructing Error directly.
type Error struct {
	// Category classifies the error for programmatic handling.
	Category Category

	// Err is the underlying error with the human-readable message.
	Err error
}

// Error returns the underlying error message. The category travels
// in the struct, not in the text.
func (e *Error) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error, allowing errors.Is and
// errors.As to walk the full chain through the wrapper.
func (e *Error) Unwrap() error { return e.Err }

// Integrity creates an integrity error: content fails verification.
func Integrity(format string, args ...any) *Error {
	return &Error{Category: CategoryIntegrity, Err: fmt.Errorf(format, args...)}
}

// Authorization creates an authorization error: signers do not
// satisfy the governing policy.
func Authorization(format string, args ...any) *Error {
	return &Error{Category: CategoryAuthorization, Err: fmt.Errorf(format, args...)}
}

// Conflict creates a conflict error: a lost race on shared state.
func Conflict(format string, args ...any) *Error {
	return &Error{Category: CategoryConflict, Err: fmt.Errorf(format, args...)}
}

// Transport creates a transport error: a store or remote location
// could not be reached.
func Transport(format string, args ...any) *Error {
	return &Error{Category: CategoryTransport, Err: fmt.Errorf(format, args...)}
}

// CategoryOf extracts the category from an error chain. The second
// return is false when no categorized error is present.
func CategoryOf(err error) (Category, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category, true
	}
	return "", false
}

// Is reports whether the error chain contains a categorized error
// with the given category.
func Is(err error, category Category) bool {
	got, ok := CategoryOf(err)
	return ok && got == category
}
