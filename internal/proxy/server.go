// Package proxy serves fetched resources over local HTTP so an image
// pipeline that only speaks plain HTTP can load authenticated content.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tonimelisma/ssofetch/internal/account"
	"github.com/tonimelisma/ssofetch/internal/fetch"
	"github.com/tonimelisma/ssofetch/internal/resource"
	"github.com/tonimelisma/ssofetch/internal/transport"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Source fetches resources. *fetch.Fetcher satisfies it.
type Source interface {
	Fetch(ctx context.Context, id resource.Identifier) (io.ReadCloser, error)
	FetchAs(ctx context.Context, resolver account.Resolver, id resource.Identifier) (io.ReadCloser, error)
}

// Sessions reports cached session clients for /healthz.
type Sessions interface {
	Len() int
	Identities() []account.Identity
}

// Options configures a Server.
type Options struct {
	// MaxConcurrent bounds in-flight fetches. Zero or less means 1.
	MaxConcurrent int
	// Account returns a resolver for ?account=<identity>. Nil rejects the
	// parameter.
	Account func(name string) account.Resolver
	// Accounts lists configured account identities for /healthz.
	Accounts func() []string
}

// Server is the image proxy.
type Server struct {
	src      Source
	sessions Sessions
	opts     Options
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

// New creates a Server.
func New(src Source, sessions Sessions, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}

	return &Server{
		src:      src,
		sessions: sessions,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		logger:   logger,
	}
}

// Handler returns the proxy routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fetch", s.handleFetch)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// ListenAndServe binds addr and serves until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("proxy: binding %s: %w", addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("proxy listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("proxy: serving: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("proxy shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("proxy: shutdown: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("proxy: serving: %w", err)
	}

	return nil
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	id := q.Get("id")
	if id == "" {
		http.Error(w, "missing id parameter", http.StatusBadRequest)
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		// Client went away while queued.
		return
	}
	defer s.sem.Release(1)

	var (
		body io.ReadCloser
		err  error
	)

	if name := q.Get("account"); name != "" {
		if s.opts.Account == nil {
			http.Error(w, "account selection is not supported", http.StatusBadRequest)
			return
		}

		body, err = s.src.FetchAs(ctx, s.opts.Account(name), resource.Raw(id))
	} else {
		body, err = s.src.Fetch(ctx, resource.Raw(id))
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}

		status := StatusFor(err)
		s.logger.Warn("fetch failed",
			slog.String("id", id),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		http.Error(w, err.Error(), status)

		return
	}
	defer body.Close()

	copyHeaders(w.Header(), body)
	w.WriteHeader(http.StatusOK)

	if n, copyErr := io.Copy(w, body); copyErr != nil {
		s.logger.Warn("streaming response failed",
			slog.String("id", id),
			slog.Int64("bytes", n),
			slog.String("error", copyErr.Error()),
		)
	}
}

// copyHeaders forwards what the upstream told us about the body. Without a
// Content-Type net/http sniffs one from the first bytes.
func copyHeaders(h http.Header, body io.ReadCloser) {
	h.Set("Cache-Control", "private")

	if ct, ok := body.(interface{ ContentType() string }); ok && ct.ContentType() != "" {
		h.Set("Content-Type", ct.ContentType())
	}

	if cl, ok := body.(interface{ ContentLength() int64 }); ok && cl.ContentLength() >= 0 {
		h.Set("Content-Length", strconv.FormatInt(cl.ContentLength(), 10))
	}
}

// health is the /healthz response body.
type health struct {
	Accounts []string           `json:"accounts"`
	Clients  int                `json:"clients"`
	Sessions []account.Identity `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := health{Accounts: []string{}, Sessions: []account.Identity{}}

	if s.opts.Accounts != nil {
		h.Accounts = append(h.Accounts, s.opts.Accounts()...)
	}

	if s.sessions != nil {
		h.Clients = s.sessions.Len()
		h.Sessions = append(h.Sessions, s.sessions.Identities()...)
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(h); err != nil {
		s.logger.Warn("encoding health response", slog.String("error", err.Error()))
	}
}

// StatusFor maps a fetch error to the HTTP status the proxy answers with.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, resource.ErrInvalidIdentifier), errors.Is(err, resource.ErrAccountMismatch):
		return http.StatusBadRequest
	case errors.Is(err, fetch.ErrAccountResolution), errors.Is(err, transport.ErrNotLoggedIn):
		return http.StatusServiceUnavailable
	case errors.Is(err, transport.ErrTokenMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, transport.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, transport.ErrNotFound), errors.Is(err, transport.ErrGone):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
