package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/ssofetch/internal/account"
	"github.com/tonimelisma/ssofetch/internal/tokenfile"
)

const testTokenJSON = `{
	"access_token": "test-access-token",
	"token_type": "Bearer",
	"refresh_token": "test-refresh-token",
	"expires_in": 3600
}`

func testAccount(t *testing.T, baseURL string) account.Account {
	t.Helper()

	return account.Account{
		Identity:  "alice@cloud.example.com",
		BaseURL:   baseURL,
		TokenPath: filepath.Join(t.TempDir(), "tokens", "token_alice.json"),
		OAuth:     account.OAuthClient{ClientID: "cid", ClientSecret: "secret"},
	}
}

func saveTestToken(t *testing.T, acct account.Account, tok *oauth2.Token, owner string) {
	t.Helper()

	require.NoError(t, tokenfile.Save(acct.TokenPath, &tokenfile.File{
		Token: tok,
		Meta:  tokenfile.Meta{Account: owner, URL: acct.BaseURL},
	}))
}

func TestOAuthConfig_Endpoints(t *testing.T) {
	acct := testAccount(t, "https://cloud.example.com/nextcloud")
	cfg := oauthConfig(acct, slog.Default())

	assert.Equal(t, "cid", cfg.ClientID)
	assert.Equal(t, "secret", cfg.ClientSecret)
	assert.Equal(t, "https://cloud.example.com/nextcloud/index.php/apps/oauth2/authorize", cfg.Endpoint.AuthURL)
	assert.Equal(t, "https://cloud.example.com/nextcloud/index.php/apps/oauth2/api/v1/token", cfg.Endpoint.TokenURL)
}

func TestOAuthConfig_OnTokenChangePersists(t *testing.T) {
	acct := testAccount(t, "https://cloud.example.com")
	cfg := oauthConfig(acct, slog.Default())
	require.NotNil(t, cfg.OnTokenChange)

	cfg.OnTokenChange(&oauth2.Token{
		AccessToken:  "refreshed-access",
		RefreshToken: "refreshed-refresh",
		Expiry:       time.Now().Add(time.Hour),
	})

	loaded, err := tokenfile.Load(acct.TokenPath)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "refreshed-access", loaded.Token.AccessToken)
	assert.Equal(t, "alice@cloud.example.com", loaded.Meta.Account)
	assert.Equal(t, "https://cloud.example.com", loaded.Meta.URL)
}

func TestTokenSourceFromPath_NoFile(t *testing.T) {
	acct := testAccount(t, "https://cloud.example.com")

	_, err := TokenSourceFromPath(context.Background(), acct, slog.Default())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestTokenSourceFromPath_ValidToken(t *testing.T) {
	acct := testAccount(t, "https://cloud.example.com")
	saveTestToken(t, acct, &oauth2.Token{
		AccessToken: "saved-access",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}, acct.Identity.String())

	ts, err := TokenSourceFromPath(context.Background(), acct, slog.Default())
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "saved-access", tok)
}

func TestTokenSourceFromPath_WrongOwner(t *testing.T) {
	acct := testAccount(t, "https://cloud.example.com")
	saveTestToken(t, acct, &oauth2.Token{AccessToken: "x"}, "bob@cloud.example.com")

	_, err := TokenSourceFromPath(context.Background(), acct, slog.Default())
	assert.ErrorIs(t, err, ErrTokenAccountMismatch)
}

func TestTokenBridge_Success(t *testing.T) {
	tok := &oauth2.Token{AccessToken: "bridge-token-123", Expiry: time.Now().Add(time.Hour)}
	bridge := &tokenBridge{src: oauth2.StaticTokenSource(tok), logger: slog.Default()}

	got, err := bridge.Token()
	require.NoError(t, err)
	assert.Equal(t, "bridge-token-123", got)
}

func TestTokenBridge_RejectedRefreshIsTokenMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	cfg := &oauth2.Config{ClientID: "cid", Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token"}}
	expired := &oauth2.Token{AccessToken: "old", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}

	bridge := &tokenBridge{src: cfg.TokenSource(context.Background(), expired), logger: slog.Default()}

	_, err := bridge.Token()
	require.ErrorIs(t, err, ErrTokenMismatch)
	assert.True(t, isTokenError(err))
}

func TestTokenBridge_UnreachableIsTokenUnavailable(t *testing.T) {
	cfg := &oauth2.Config{ClientID: "cid", Endpoint: oauth2.Endpoint{TokenURL: "http://127.0.0.1:1/token"}}
	expired := &oauth2.Token{AccessToken: "old", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}

	bridge := &tokenBridge{src: cfg.TokenSource(context.Background(), expired), logger: slog.Default()}

	_, err := bridge.Token()
	require.ErrorIs(t, err, ErrTokenUnavailable)
	assert.NotErrorIs(t, err, ErrTokenMismatch)
}

func TestLogout(t *testing.T) {
	acct := testAccount(t, "https://cloud.example.com")
	saveTestToken(t, acct, &oauth2.Token{AccessToken: "x"}, acct.Identity.String())

	require.NoError(t, Logout(acct, slog.Default()))

	_, err := os.Stat(acct.TokenPath)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, Logout(acct, slog.Default()), "second logout is a no-op")
}

// --- Authorization Code + PKCE Flow Tests ---

// newMockAuthCodeServer serves the authorize endpoint (redirecting to the
// callback with code and state) and the token endpoint.
func newMockAuthCodeServer(t *testing.T, state func(string) string) *oauth2.Endpoint {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "S256", r.URL.Query().Get("code_challenge_method"))

		redirectURI := r.URL.Query().Get("redirect_uri")
		callback := redirectURI + "?code=test-auth-code&state=" + url.QueryEscape(state(r.URL.Query().Get("state")))
		http.Redirect(w, r, callback, http.StatusFound)
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.PostForm.Get("code_verifier"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testTokenJSON))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}
}

// simulateBrowserCallback acts as the browser: fetches the auth URL and
// follows its redirect to the localhost callback server.
func simulateBrowserCallback(t *testing.T) func(string) error {
	t.Helper()

	client := &http.Client{
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return func(authURL string) error {
		go func() {
			resp, err := client.Get(authURL) //nolint:noctx // test helper
			if err != nil {
				return
			}
			resp.Body.Close()

			location := resp.Header.Get("Location")
			if location == "" {
				return
			}

			cb, err := http.Get(location) //nolint:noctx // test helper
			if err != nil {
				return
			}
			cb.Body.Close()
		}()

		return nil
	}
}

func testLoginConfig(t *testing.T, acct account.Account, endpoint *oauth2.Endpoint) *oauth2.Config {
	t.Helper()

	cfg := oauthConfig(acct, slog.Default())
	cfg.Endpoint = *endpoint

	return cfg
}

func TestDoAuthCodeLogin_Success(t *testing.T) {
	acct := testAccount(t, "https://cloud.example.com")
	endpoint := newMockAuthCodeServer(t, func(s string) string { return s })

	ts, err := doAuthCodeLogin(context.Background(), acct, testLoginConfig(t, acct, endpoint),
		"127.0.0.1:0", simulateBrowserCallback(t), slog.Default())
	require.NoError(t, err)

	loaded, err := tokenfile.Load(acct.TokenPath)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "test-access-token", loaded.Token.AccessToken)
	assert.Equal(t, "test-refresh-token", loaded.Token.RefreshToken)
	assert.Equal(t, acct.Identity.String(), loaded.Meta.Account)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", tok)
}

func TestDoAuthCodeLogin_InvalidState(t *testing.T) {
	acct := testAccount(t, "https://cloud.example.com")
	endpoint := newMockAuthCodeServer(t, func(string) string { return "wrong-state-value" })

	_, err := doAuthCodeLogin(context.Background(), acct, testLoginConfig(t, acct, endpoint),
		"127.0.0.1:0", simulateBrowserCallback(t), slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state mismatch")

	_, statErr := os.Stat(acct.TokenPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDoAuthCodeLogin_ContextCancel(t *testing.T) {
	acct := testAccount(t, "https://cloud.example.com")
	endpoint := newMockAuthCodeServer(t, func(s string) string { return s })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The browser never completes the flow.
	openURL := func(string) error { return nil }

	_, err := doAuthCodeLogin(ctx, acct, testLoginConfig(t, acct, endpoint), "127.0.0.1:0", openURL, slog.Default())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandleOAuthCallback_ProviderError(t *testing.T) {
	resultCh := make(chan callbackResult, 1)

	req := httptest.NewRequest(http.MethodGet, "/?state=s1&error=access_denied&error_description=nope", http.NoBody)
	rec := httptest.NewRecorder()

	handleOAuthCallback(rec, req, "s1", resultCh)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	res := <-resultCh
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "access_denied")
}

func TestHandleOAuthCallback_MissingCode(t *testing.T) {
	resultCh := make(chan callbackResult, 1)

	req := httptest.NewRequest(http.MethodGet, "/?state=s1", http.NoBody)
	rec := httptest.NewRecorder()

	handleOAuthCallback(rec, req, "s1", resultCh)

	res := <-resultCh
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "missing authorization code")
}

func TestGenerateState_Unique(t *testing.T) {
	a, err := generateState()
	require.NoError(t, err)
	b, err := generateState()
	require.NoError(t, err)

	assert.Len(t, a, stateTokenBytes*2)
	assert.NotEqual(t, a, b)
}
