// Package fetch turns resource identifiers into byte streams by issuing
// authenticated requests through a per-account session client.
//
// Session clients are cached in a session.Registry. When a cached client
// fails with transport.ErrTokenMismatch, or was stopped by a concurrent
// reset, it is discarded and the fetch is retried once with a freshly built
// client. A freshly built client that
// fails the same way is not retried: its credentials are broken, not stale.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tonimelisma/ssofetch/internal/account"
	"github.com/tonimelisma/ssofetch/internal/resource"
	"github.com/tonimelisma/ssofetch/internal/session"
	"github.com/tonimelisma/ssofetch/internal/transport"
)

// maxAttempts bounds network attempts per Fetch call: the first try plus at
// most one retry after a stale cached client.
const maxAttempts = 2

// ErrAccountResolution wraps failures to determine the signed-in account.
var ErrAccountResolution = errors.New("fetch: resolving account")

// Client is a live session client for one account.
type Client interface {
	Request(ctx context.Context, method, path string, params resource.Params) (*transport.Response, error)
	Stop()
}

// Factory builds session clients. Build must not block on the network;
// connection status is reported through onConnected.
type Factory interface {
	Build(ctx context.Context, acct account.Account, onConnected func(error)) (Client, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, acct account.Account, onConnected func(error)) (Client, error)

// Build calls fn.
func (fn FactoryFunc) Build(ctx context.Context, acct account.Account, onConnected func(error)) (Client, error) {
	return fn(ctx, acct, onConnected)
}

// FromTransport adapts a transport.Factory.
func FromTransport(tf *transport.Factory) Factory {
	return FactoryFunc(func(ctx context.Context, acct account.Account, onConnected func(error)) (Client, error) {
		c, err := tf.Build(ctx, acct, onConnected)
		if err != nil {
			return nil, err
		}

		return c, nil
	})
}

// Body is the stream returned by Fetch. It carries the response metadata
// a proxy needs to forward.
type Body struct {
	io.ReadCloser
	contentType   string
	contentLength int64
}

// ContentType returns the upstream Content-Type, possibly empty.
func (b *Body) ContentType() string { return b.contentType }

// ContentLength returns the upstream length, or -1 if unknown.
func (b *Body) ContentLength() int64 { return b.contentLength }

// Fetcher resolves identifiers for the current account. Safe for
// concurrent use.
type Fetcher struct {
	resolver account.Resolver
	factory  Factory
	registry *session.Registry[Client]
	viewport func() resource.Viewport
	logger   *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRegistry shares an existing registry, e.g. between a Fetcher and a
// status endpoint.
func WithRegistry(r *session.Registry[Client]) Option {
	return func(f *Fetcher) { f.registry = r }
}

// WithViewport sets a fixed viewport for file-id preview rewrites.
func WithViewport(vp resource.Viewport) Option {
	return func(f *Fetcher) { f.viewport = func() resource.Viewport { return vp } }
}

// WithViewportFunc reads the viewport on every fetch, so a config reload
// takes effect without rebuilding the Fetcher.
func WithViewportFunc(fn func() resource.Viewport) Option {
	return func(f *Fetcher) { f.viewport = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher.
func New(resolver account.Resolver, factory Factory, opts ...Option) *Fetcher {
	f := &Fetcher{
		resolver: resolver,
		factory:  factory,
		viewport: func() resource.Viewport { return resource.Viewport{} },
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.registry == nil {
		f.registry = session.NewRegistry[Client](f.logger)
	}

	return f
}

// Registry returns the client registry.
func (f *Fetcher) Registry() *session.Registry[Client] {
	return f.registry
}

// Fetch returns the bytes behind id, fetched as the current account. The
// caller must close the returned stream, which is a *Body.
func (f *Fetcher) Fetch(ctx context.Context, id resource.Identifier) (io.ReadCloser, error) {
	return f.FetchAs(ctx, f.resolver, id)
}

// FetchAs is Fetch with an explicit account resolver, for identifiers that
// carry their own account.
func (f *Fetcher) FetchAs(ctx context.Context, resolver account.Resolver, id resource.Identifier) (io.ReadCloser, error) {
	logger := f.logger.With(slog.String("fetch_id", uuid.NewString()))

	for attempt := 1; ; attempt++ {
		body, retry, err := f.attempt(ctx, resolver, id, logger)
		if !retry || attempt >= maxAttempts {
			return body, err
		}

		logger.Info("session client worked before, retrying with a fresh one",
			slog.Int("attempt", attempt+1),
		)
	}
}

// attempt runs one pass of the fetch. retry reports whether a cached client
// was discarded after a token mismatch, or found already stopped, and
// another pass may succeed.
func (f *Fetcher) attempt(
	ctx context.Context, resolver account.Resolver, id resource.Identifier, logger *slog.Logger,
) (body io.ReadCloser, retry bool, err error) {
	acct, err := resolver.Current(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrAccountResolution, err)
	}

	logger = logger.With(slog.String("account", acct.Identity.String()))

	client, created, err := f.registry.GetOrCreate(acct.Identity, func() (Client, error) {
		return f.factory.Build(ctx, acct, connectedLogger(logger))
	})
	if err != nil {
		return nil, false, fmt.Errorf("fetch: creating session client for %s: %w", acct.Identity, err)
	}

	req, err := resource.BuildRequest(acct.BaseURL, f.viewport(), id, logger)
	if err != nil {
		return nil, false, err
	}

	resp, err := client.Request(ctx, http.MethodGet, req.Path, req.Params)
	if err == nil {
		logger.Debug("fetched resource",
			slog.String("path", req.Path),
			slog.String("content_type", resp.ContentType),
		)

		return &Body{ReadCloser: resp.Body, contentType: resp.ContentType, contentLength: resp.ContentLength}, false, nil
	}

	// A cached client stopped under us was torn down by another worker or a
	// reset. Dropping it is a no-op if it is already gone; the next pass
	// rebuilds.
	if errors.Is(err, transport.ErrStopped) && !created {
		logger.Info("cached session client was stopped during the request")
		f.registry.InvalidateHandle(acct.Identity, client)

		return nil, true, err
	}

	if !errors.Is(err, transport.ErrTokenMismatch) {
		return nil, false, err
	}

	logger.Warn("session client failed with token mismatch", slog.String("error", err.Error()))
	f.registry.InvalidateHandle(acct.Identity, client)

	if created {
		logger.Info("session client failed on its first request, not re-initializing")

		return nil, false, err
	}

	return nil, true, err
}

// Reset stops and discards every cached session client.
func (f *Fetcher) Reset() {
	f.registry.ResetAll()
}

func connectedLogger(logger *slog.Logger) func(error) {
	return func(err error) {
		if err != nil {
			logger.Error("session client failed to connect", slog.String("error", err.Error()))
			return
		}

		logger.Debug("session client connected")
	}
}
