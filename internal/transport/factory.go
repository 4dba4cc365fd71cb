package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/ssofetch/internal/account"
)

// TokenLoader produces the token source for an account. The context bounds
// the lifetime of background refreshes.
type TokenLoader func(ctx context.Context, acct account.Account, logger *slog.Logger) (TokenSource, error)

// Factory builds session clients. Each client gets its own http.Client and
// cookie jar so server-side session cookies never leak across accounts.
type Factory struct {
	connectTimeout time.Duration
	dataTimeout    time.Duration
	userAgent      string
	logger         *slog.Logger

	// loadToken defaults to TokenSourceFromPath. Tests inject static tokens.
	loadToken TokenLoader
}

// NewFactory creates a Factory. connectTimeout bounds dialing and TLS setup;
// dataTimeout bounds waiting for response headers.
func NewFactory(connectTimeout, dataTimeout time.Duration, userAgent string, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}

	return &Factory{
		connectTimeout: connectTimeout,
		dataTimeout:    dataTimeout,
		userAgent:      userAgent,
		logger:         logger,
		loadToken:      TokenSourceFromPath,
	}
}

// WithTokenLoader returns a copy of f that obtains tokens from load.
func (f *Factory) WithTokenLoader(load TokenLoader) *Factory {
	cp := *f
	cp.loadToken = load

	return &cp
}

// Build creates a session client for acct. It does not block on the
// network: the token is acquired by a background warm-up whose outcome is
// reported through onConnected (which may be nil). The client's lifetime is
// independent of ctx; it ends when Stop is called.
func (f *Factory) Build(ctx context.Context, acct account.Account, onConnected func(error)) (*Client, error) {
	logger := f.logger.With(slog.String("account", acct.Identity.String()))

	httpClient, err := f.newHTTPClient()
	if err != nil {
		return nil, err
	}

	// Token refreshes must outlive the fetch that created the client.
	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	lifetime = context.WithValue(lifetime, oauth2.HTTPClient, httpClient)

	ts, err := f.loadToken(lifetime, acct, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: building client for %s: %w", acct.Identity, err)
	}

	c := NewClient(acct.BaseURL, httpClient, ts, logger, f.userAgent)
	c.onStop = cancel

	go warmUp(lifetime, ts, logger, onConnected)

	return c, nil
}

// warmUp acquires the first token off the caller's path so a stale refresh
// token is noticed early. The result is only reported.
func warmUp(ctx context.Context, ts TokenSource, logger *slog.Logger, onConnected func(error)) {
	_, err := ts.Token()
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		logger.Warn("session client warm-up failed", slog.String("error", err.Error()))
	} else {
		logger.Debug("session client connected")
	}

	if onConnected != nil {
		onConnected(err)
	}
}

func (f *Factory) newHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("transport: creating cookie jar: %w", err)
	}

	tr := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default is *http.Transport
	tr.DialContext = (&net.Dialer{Timeout: f.connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = f.connectTimeout
	tr.ResponseHeaderTimeout = f.dataTimeout

	return &http.Client{Transport: tr, Jar: jar}, nil
}
