package resource

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Identifier is anything that renders to a URL-like string. *url.URL
// satisfies it; use Raw for plain strings.
type Identifier interface {
	String() string
}

// Raw is a plain string identifier, either an absolute URL or a path
// relative to the account's base URL.
type Raw string

func (r Raw) String() string { return string(r) }

// Viewport carries the caller's display dimensions in pixels. Preview
// requests ask the server for an image of this size.
type Viewport struct {
	Width  int
	Height int
}

// Rewrite patterns for short-link shapes. They are matched against the URL
// path and must stay byte-compatible with the server's routes.
var (
	fileIDPattern = regexp.MustCompile(`^(/index\.php)?/f/(\d+)/?$`)
	sharePattern  = regexp.MustCompile(`^(/index\.php)?/s/(\w+)(/|/download/?)?$`)
)

// Normalize resolves id into an absolute URL under baseURL.
//
// Absolute identifiers must start with baseURL, otherwise ErrAccountMismatch
// is returned. Relative identifiers must begin with "/" and are appended to
// baseURL, otherwise ErrInvalidIdentifier is returned. File-id links
// (/f/{id}) become preview requests sized to vp; share links (/s/{token})
// become share downloads. Anything else passes through unchanged.
func Normalize(baseURL string, vp Viewport, id Identifier) (*url.URL, error) {
	raw := id.String()

	u, err := url.Parse(raw)
	if err == nil && u.IsAbs() {
		if !strings.HasPrefix(raw, baseURL) {
			return nil, &IdentifierError{Identifier: raw, BaseURL: baseURL, Err: ErrAccountMismatch}
		}

		return rewrite(baseURL, vp, u)
	}

	if !strings.HasPrefix(raw, "/") {
		return nil, &IdentifierError{Identifier: raw, BaseURL: baseURL, Err: ErrInvalidIdentifier}
	}

	u, err = url.Parse(strings.TrimRight(baseURL, "/") + raw)
	if err != nil {
		return nil, &IdentifierError{Identifier: raw, BaseURL: baseURL, Err: ErrInvalidIdentifier}
	}

	return rewrite(baseURL, vp, u)
}

// rewrite applies the short-link rules in order; first match wins. The
// rules see the path below the base URL, so servers installed under a
// sub-path (https://host/nextcloud) get the same rewrites.
func rewrite(baseURL string, vp Viewport, u *url.URL) (*url.URL, error) {
	base := strings.TrimRight(baseURL, "/")
	rel := relativePath(base, u.Path)

	if m := fileIDPattern.FindStringSubmatch(rel); m != nil {
		return url.Parse(fmt.Sprintf("%s/index.php/core/preview?fileId=%s&x=%d&y=%d&a=true",
			base, m[2], vp.Width, vp.Height))
	}

	if m := sharePattern.FindStringSubmatch(rel); m != nil {
		return url.Parse(fmt.Sprintf("%s/index.php/s/%s/download", base, m[2]))
	}

	return u, nil
}

// relativePath strips the base URL's own path from p.
func relativePath(base, p string) string {
	b, err := url.Parse(base)
	if err != nil || b.Path == "" {
		return p
	}

	if rel, ok := strings.CutPrefix(p, b.Path); ok && (rel == "" || strings.HasPrefix(rel, "/")) {
		return rel
	}

	return p
}
