package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/ssofetch/internal/account"
	"github.com/tonimelisma/ssofetch/internal/tokenfile"
)

// Server OAuth2 app routes, relative to the account base URL.
const (
	authorizePath = "/index.php/apps/oauth2/authorize"
	tokenPath     = "/index.php/apps/oauth2/api/v1/token"
)

// ErrNotLoggedIn is returned when an account has no token file.
var ErrNotLoggedIn = errors.New("transport: not logged in")

// ErrTokenUnavailable wraps token acquisition failures that are not a
// rejected grant (network trouble reaching the token endpoint and so on).
var ErrTokenUnavailable = errors.New("transport: obtaining token")

// ErrTokenAccountMismatch is returned when a token file belongs to a
// different account than the one it is loaded for.
var ErrTokenAccountMismatch = errors.New("transport: token file belongs to another account")

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// callbackPath is the HTTP path the OAuth2 redirect hits on the local server.
const callbackPath = "/"

// TokenSourceFromPath loads the account's token file and returns a
// TokenSource with auto-refresh and auto-persistence via OnTokenChange.
// Returns ErrNotLoggedIn if no token file exists.
//
// The returned TokenSource binds ctx to the underlying oauth2 token source:
// refreshes stop working once ctx is canceled. Session clients pass a
// context that is canceled by Stop.
func TokenSourceFromPath(ctx context.Context, acct account.Account, logger *slog.Logger) (TokenSource, error) {
	tf, err := tokenfile.Load(acct.TokenPath)
	if err != nil {
		return nil, err
	}

	if tf == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotLoggedIn, acct.Identity)
	}

	if tf.Meta.Account != "" && account.NormalizeIdentity(tf.Meta.Account) != acct.Identity {
		return nil, fmt.Errorf("%w: %s holds a token for %q, not %q",
			ErrTokenAccountMismatch, acct.TokenPath, tf.Meta.Account, acct.Identity)
	}

	expired := !tf.Token.Expiry.IsZero() && tf.Token.Expiry.Before(time.Now())
	logger.Info("loaded saved token",
		slog.String("account", acct.Identity.String()),
		slog.Time("expiry", tf.Token.Expiry),
		slog.Bool("expired", expired),
	)

	cfg := oauthConfig(acct, logger)
	src := cfg.TokenSource(ctx, tf.Token)

	return &tokenBridge{src: src, logger: logger}, nil
}

// Logout removes the account's token file. Returns nil if it does not exist.
func Logout(acct account.Account, logger *slog.Logger) error {
	removed, err := tokenfile.Remove(acct.TokenPath)
	if err != nil {
		return err
	}

	if !removed {
		logger.Info("logout: no token file to remove (already logged out)",
			slog.String("account", acct.Identity.String()),
		)

		return nil
	}

	logger.Info("logout: removed token file",
		slog.String("account", acct.Identity.String()),
		slog.String("path", acct.TokenPath),
	)

	return nil
}

// oauthConfig builds an oauth2.Config for the account's server with
// OnTokenChange wired to persist refreshed tokens.
func oauthConfig(acct account.Account, logger *slog.Logger) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     acct.OAuth.ClientID,
		ClientSecret: acct.OAuth.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  acct.BaseURL + authorizePath,
			TokenURL: acct.BaseURL + tokenPath,
		},
		// Called by ReuseTokenSource after each silent refresh, outside its mutex.
		OnTokenChange: func(tok *oauth2.Token) {
			logger.Info("token refreshed",
				slog.String("account", acct.Identity.String()),
				slog.Time("new_expiry", tok.Expiry),
			)

			if err := tokenfile.Save(acct.TokenPath, fileFor(acct, tok)); err != nil {
				logger.Warn("failed to persist refreshed token",
					slog.String("account", acct.Identity.String()),
					slog.String("error", err.Error()),
				)
			}
		},
	}
}

func fileFor(acct account.Account, tok *oauth2.Token) *tokenfile.File {
	return &tokenfile.File{
		Token: tok,
		Meta:  tokenfile.Meta{Account: acct.Identity.String(), URL: acct.BaseURL},
	}
}

// tokenBridge adapts oauth2.TokenSource to transport.TokenSource. A grant
// the server rejects is reported as ErrTokenMismatch so the caller can drop
// the session client; other failures wrap ErrTokenUnavailable.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))

		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil &&
			(re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
			return "", fmt.Errorf("%w: refresh rejected: %w", ErrTokenMismatch, err)
		}

		return "", fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}

	b.logger.Debug("token acquired",
		slog.Time("expiry", t.Expiry),
		slog.Bool("valid", t.Valid()),
	)

	return t.AccessToken, nil
}

// isTokenError reports whether err came from token acquisition rather than
// the HTTP round trip.
func isTokenError(err error) bool {
	return errors.Is(err, ErrTokenMismatch) || errors.Is(err, ErrTokenUnavailable)
}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser performs the authorization code + PKCE flow against the
// account's server:
//  1. Binds a local HTTP server on callbackAddr ("127.0.0.1:0" for any port)
//  2. Calls openURL with the authorization URL
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens and saves them at acct.TokenPath
//
// If openURL fails, the URL is printed to stderr for manual copy-paste.
func LoginWithBrowser(
	ctx context.Context,
	acct account.Account,
	callbackAddr string,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	return doAuthCodeLogin(ctx, acct, oauthConfig(acct, logger), callbackAddr, openURL, logger)
}

// doAuthCodeLogin implements the authorization code + PKCE flow. Accepts a
// pre-built oauth2.Config so tests can inject a mock endpoint.
func doAuthCodeLogin(
	ctx context.Context,
	acct account.Account,
	cfg *oauth2.Config,
	callbackAddr string,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("starting browser auth flow (authorization code + PKCE)",
		slog.String("account", acct.Identity.String()),
	)

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, callbackAddr, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d", port)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("transport: generating state token: %w", err)
	}

	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})

	authURL := cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL", slog.String("error", openErr.Error()))
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}

	var code string

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, result.err
		}

		code = result.code
	case <-ctx.Done():
		return nil, fmt.Errorf("transport: browser auth canceled: %w", ctx.Err())
	}

	logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("transport: token exchange failed: %w", err)
	}

	if saveErr := tokenfile.Save(acct.TokenPath, fileFor(acct, tok)); saveErr != nil {
		return nil, fmt.Errorf("transport: saving token: %w", saveErr)
	}

	logger.Info("browser login successful",
		slog.String("account", acct.Identity.String()),
		slog.Time("expiry", tok.Expiry),
	)

	return &tokenBridge{src: cfg.TokenSource(ctx, tok), logger: logger}, nil
}

// startCallbackServer binds addr and serves mux. Returns the server and the
// bound port.
func startCallbackServer(
	ctx context.Context,
	addr string,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: binding callback listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("transport: listener address is not TCP")
	}

	logger.Info("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("transport: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, tcpAddr.Port, nil
}

// handleOAuthCallback validates the state, extracts the code, and sends the result.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	send := func(res callbackResult) {
		select {
		case resultCh <- res:
		default:
		}
	}

	if r.URL.Query().Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("transport: OAuth2 state mismatch (possible CSRF)")})

		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("transport: authorization failed: %s: %s", errParam, desc)})

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("transport: callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	send(callbackResult{code: code})
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// generateState produces a cryptographically random hex string for the OAuth2
// state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
