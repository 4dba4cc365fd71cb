package account

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/ssofetch/internal/config"
)

// writeToken creates an empty token file and returns its path.
func writeToken(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	return path
}

func holderWith(accounts map[string]config.Account, defaultAccount string) *config.Holder {
	cfg := config.DefaultConfig()
	cfg.Accounts = accounts
	cfg.DefaultAccount = defaultAccount

	return config.NewHolder(cfg, "")
}

func TestConfigResolver_SingleAccount(t *testing.T) {
	tok := writeToken(t)
	h := holderWith(map[string]config.Account{
		"alice@cloud.example.com": {URL: "https://cloud.example.com", ClientID: "cid", TokenFile: tok},
	}, "")

	acct, err := NewConfigResolver(h, nil).Current(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Identity("alice@cloud.example.com"), acct.Identity)
	assert.Equal(t, "https://cloud.example.com", acct.BaseURL)
	assert.Equal(t, tok, acct.TokenPath)
	assert.Equal(t, "cid", acct.OAuth.ClientID)
}

func TestConfigResolver_DefaultAccountWins(t *testing.T) {
	tok := writeToken(t)
	h := holderWith(map[string]config.Account{
		"a@h": {URL: "https://a", TokenFile: tok},
		"b@h": {URL: "https://b", TokenFile: tok},
	}, "b@h")

	acct, err := NewConfigResolver(h, nil).Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://b", acct.BaseURL)
}

func TestConfigResolver_Errors(t *testing.T) {
	tok := writeToken(t)
	missing := filepath.Join(t.TempDir(), "missing.json")

	tests := []struct {
		name     string
		accounts map[string]config.Account
		def      string
		wantMsg  string
	}{
		{"none configured", map[string]config.Account{}, "", "no accounts configured"},
		{"ambiguous", map[string]config.Account{
			"a@h": {URL: "https://a", TokenFile: tok},
			"b@h": {URL: "https://b", TokenFile: tok},
		}, "", "multiple accounts configured"},
		{"unknown default", map[string]config.Account{
			"a@h": {URL: "https://a", TokenFile: tok},
		}, "zzz", "is not configured"},
		{"not logged in", map[string]config.Account{
			"a@h": {URL: "https://a", TokenFile: missing},
		}, "", "not logged in"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfigResolver(holderWith(tt.accounts, tt.def), nil).Current(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNoAccount)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestConfigResolver_FollowsHolderUpdates(t *testing.T) {
	tok := writeToken(t)
	h := holderWith(map[string]config.Account{"a@h": {URL: "https://a", TokenFile: tok}}, "")
	r := NewConfigResolver(h, nil)

	next := config.DefaultConfig()
	next.Accounts = map[string]config.Account{"b@h": {URL: "https://b", TokenFile: tok}}
	h.Update(next)

	acct, err := r.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Identity("b@h"), acct.Identity)
}

func TestConfigResolver_Named(t *testing.T) {
	tok := writeToken(t)
	h := holderWith(map[string]config.Account{
		"a@h": {URL: "https://a", TokenFile: tok},
		"b@h": {URL: "https://b", TokenFile: tok},
	}, "a@h")
	r := NewConfigResolver(h, nil)

	acct, err := r.Named(" b@h ").Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://b", acct.BaseURL)

	_, err = r.Named("nobody@h").Current(context.Background())
	assert.ErrorIs(t, err, ErrNoAccount)
}
