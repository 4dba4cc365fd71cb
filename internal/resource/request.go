package resource

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Request is a canonical request ready for the session client: a path
// relative to the account's base URL plus sanitized query parameters.
type Request struct {
	Path   string
	Params Params
}

// BuildRequest normalizes id against baseURL, strips the base URL's own
// path prefix (servers installed under a sub-path such as /nextcloud), and
// sanitizes the query string.
func BuildRequest(baseURL string, vp Viewport, id Identifier, logger *slog.Logger) (Request, error) {
	abs, err := Normalize(baseURL, vp, id)
	if err != nil {
		return Request{}, err
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return Request{}, fmt.Errorf("resource: parsing account base URL %q: %w", baseURL, err)
	}

	path := strings.TrimPrefix(abs.Path, strings.TrimRight(base.Path, "/"))
	if path == "" {
		path = "/"
	}

	return Request{
		Path:   path,
		Params: ExtractParams(abs, logger),
	}, nil
}
