// Package resource turns caller-supplied resource identifiers into canonical
// requests against a single account's server: it validates that identifiers
// belong to the account, rewrites file-id and share links to their download
// endpoints, and sanitizes the query string before it is sent.
package resource

import (
	"errors"
	"fmt"
)

// Sentinel errors for identifier classification.
// Use errors.Is(err, resource.ErrAccountMismatch) to check.
var (
	ErrInvalidIdentifier = errors.New("resource: invalid identifier")
	ErrAccountMismatch   = errors.New("resource: identifier does not match account")
)

// IdentifierError wraps a sentinel error with the offending identifier and
// the account base URL it was resolved against.
type IdentifierError struct {
	Identifier string
	BaseURL    string
	Err        error // sentinel, for errors.Is()
}

func (e *IdentifierError) Error() string {
	if errors.Is(e.Err, ErrAccountMismatch) {
		return fmt.Sprintf("resource: identifier %q does not belong to account %q; "+
			"fetch it with the matching account or pass a relative path", e.Identifier, e.BaseURL)
	}

	return fmt.Sprintf("resource: identifier %q must be absolute (scheme and host) or begin with a slash", e.Identifier)
}

func (e *IdentifierError) Unwrap() error {
	return e.Err
}
