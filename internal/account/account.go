// Package account supplies the "currently signed-in account" a fetch runs
// as. It owns account identities (the registry key for session clients) and
// the resolvers that pick the active account from configuration.
package account

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrNoAccount is returned when no account is configured or signed in.
var ErrNoAccount = errors.New("account: no account signed in")

// Identity uniquely identifies an authenticated session owner, typically
// "user@host". It is an opaque lookup key; use NormalizeIdentity so that
// visually identical names map to the same key.
type Identity string

// NormalizeIdentity trims whitespace and applies Unicode NFC so identities
// typed on different platforms (macOS input methods produce NFD) compare
// equal.
func NormalizeIdentity(raw string) Identity {
	return Identity(norm.NFC.String(strings.TrimSpace(raw)))
}

func (i Identity) String() string { return string(i) }

// IsZero reports whether the identity is empty.
func (i Identity) IsZero() bool { return i == "" }

// OAuthClient holds the OAuth2 client registration used to refresh tokens.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

// Account is a resolved, signed-in account.
type Account struct {
	Identity  Identity
	BaseURL   string // absolute server URL, no trailing slash
	TokenPath string
	OAuth     OAuthClient
}

// Resolver returns the account the caller is currently signed in as.
// Implementations return an error wrapping ErrNoAccount when none is
// available.
type Resolver interface {
	Current(ctx context.Context) (Account, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (Account, error)

// Current calls f.
func (f ResolverFunc) Current(ctx context.Context) (Account, error) {
	return f(ctx)
}

// Static always resolves to the same account. The zero value resolves to
// ErrNoAccount.
type Static Account

// Current returns the static account.
func (s Static) Current(_ context.Context) (Account, error) {
	if s.Identity.IsZero() || s.BaseURL == "" {
		return Account{}, ErrNoAccount
	}

	return Account(s), nil
}
