package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/ssofetch/internal/account"
)

func staticLoader(ts TokenSource) TokenLoader {
	return func(context.Context, account.Account, *slog.Logger) (TokenSource, error) {
		return ts, nil
	}
}

func TestFactoryBuild_ReportsConnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFactory(time.Second, time.Second, "ua", slog.Default()).
		WithTokenLoader(staticLoader(staticToken("tok")))

	connected := make(chan error, 1)

	c, err := f.Build(context.Background(), testAccount(t, srv.URL), func(err error) { connected <- err })
	require.NoError(t, err)
	defer c.Stop()

	select {
	case err := <-connected:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("onConnected was not called")
	}

	assert.Equal(t, srv.URL, c.BaseURL())
	require.NotNil(t, c.httpClient.Jar, "each client carries its own cookie jar")

	resp, err := c.Request(context.Background(), http.MethodGet, "/", nil)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestFactoryBuild_WarmUpFailureIsReported(t *testing.T) {
	f := NewFactory(time.Second, time.Second, "ua", slog.Default()).
		WithTokenLoader(staticLoader(errToken{err: ErrTokenMismatch}))

	connected := make(chan error, 1)

	c, err := f.Build(context.Background(), testAccount(t, "https://cloud.example.com"),
		func(err error) { connected <- err })
	require.NoError(t, err, "warm-up failures never fail Build")
	defer c.Stop()

	select {
	case err := <-connected:
		assert.ErrorIs(t, err, ErrTokenMismatch)
	case <-time.After(5 * time.Second):
		t.Fatal("onConnected was not called")
	}
}

func TestFactoryBuild_LoaderError(t *testing.T) {
	boom := errors.New("boom")
	f := NewFactory(time.Second, time.Second, "ua", slog.Default()).
		WithTokenLoader(func(context.Context, account.Account, *slog.Logger) (TokenSource, error) {
			return nil, boom
		})

	_, err := f.Build(context.Background(), testAccount(t, "https://cloud.example.com"), nil)
	require.ErrorIs(t, err, boom)
}

func TestFactoryBuild_DefaultLoaderNotLoggedIn(t *testing.T) {
	f := NewFactory(time.Second, time.Second, "ua", slog.Default())

	_, err := f.Build(context.Background(), testAccount(t, "https://cloud.example.com"), nil)
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestFactoryBuild_LifetimeOutlivesCallerContext(t *testing.T) {
	var lifetime context.Context

	f := NewFactory(time.Second, time.Second, "ua", slog.Default()).
		WithTokenLoader(func(ctx context.Context, _ account.Account, _ *slog.Logger) (TokenSource, error) {
			lifetime = ctx
			return staticToken("tok"), nil
		})

	callerCtx, cancel := context.WithCancel(context.Background())

	c, err := f.Build(callerCtx, testAccount(t, "https://cloud.example.com"), nil)
	require.NoError(t, err)

	cancel()
	assert.NoError(t, lifetime.Err(), "client outlives the context it was built under")

	c.Stop()
	assert.ErrorIs(t, lifetime.Err(), context.Canceled, "Stop ends the client's lifetime")
}

func TestFactoryBuild_SeparateJars(t *testing.T) {
	f := NewFactory(time.Second, time.Second, "ua", slog.Default()).
		WithTokenLoader(staticLoader(staticToken("tok")))

	a, err := f.Build(context.Background(), testAccount(t, "https://a.example.com"), nil)
	require.NoError(t, err)
	defer a.Stop()

	b, err := f.Build(context.Background(), testAccount(t, "https://b.example.com"), nil)
	require.NoError(t, err)
	defer b.Stop()

	assert.NotSame(t, a.httpClient, b.httpClient)
	assert.NotSame(t, a.httpClient.Jar, b.httpClient.Jar)
}
