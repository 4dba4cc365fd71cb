package resource

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"
)

// csrfParam is the query key carrying the web UI's CSRF token. The session
// client authenticates itself, so the parameter is never forwarded.
const csrfParam = "c"

// Params maps query keys to optional values. A nil value is a bare key
// ("?download") as opposed to an empty assignment.
type Params map[string]*string

// Get returns the value for key and whether the key is present at all.
func (p Params) Get(key string) (value *string, ok bool) {
	value, ok = p[key]

	return value, ok
}

// Encode renders the params as a query string with keys sorted. Bare keys
// are written without "=".
func (p Params) Encode() string {
	if len(p) == 0 {
		return ""
	}

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder

	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}

		b.WriteString(url.QueryEscape(k))

		if v := p[k]; v != nil {
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(*v))
		}
	}

	return b.String()
}

// ExtractParams splits u's query string into Params. Segments are split on
// the first "="; a missing or empty right side yields a nil value. Segments
// with an empty key are dropped, and so is the CSRF parameter "c" (logged
// at warn level). Later duplicates overwrite earlier ones.
func ExtractParams(u *url.URL, logger *slog.Logger) Params {
	params := make(Params)
	if u == nil || u.RawQuery == "" {
		return params
	}

	if logger == nil {
		logger = slog.Default()
	}

	for _, segment := range strings.Split(u.RawQuery, "&") {
		rawKey, rawValue, hasValue := strings.Cut(segment, "=")

		key := unescape(rawKey)
		if key == "" {
			continue
		}

		if key == csrfParam {
			logger.Warn("stripped query parameter used for CSRF protection; the session client authenticates itself",
				slog.String("param", csrfParam),
			)

			continue
		}

		if !hasValue || rawValue == "" {
			params[key] = nil

			continue
		}

		value := unescape(rawValue)
		params[key] = &value
	}

	return params
}

// unescape decodes a query component, keeping the raw text when it is not
// valid percent-encoding.
func unescape(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}

	return decoded
}
