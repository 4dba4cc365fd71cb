package account

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"

	"github.com/tonimelisma/ssofetch/internal/config"
)

// ConfigResolver resolves the active account from a config.Holder. The
// selection is, in order: the config's default_account (already carrying
// any --account / SSOFETCH_ACCOUNT override), then the only configured
// account. An account without a token file is not signed in.
type ConfigResolver struct {
	holder *config.Holder
	logger *slog.Logger
}

// NewConfigResolver creates a resolver reading through holder.
func NewConfigResolver(holder *config.Holder, logger *slog.Logger) *ConfigResolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigResolver{holder: holder, logger: logger}
}

// Current returns the active account.
func (r *ConfigResolver) Current(_ context.Context) (Account, error) {
	cfg := r.holder.Config()

	name, err := selectAccount(cfg)
	if err != nil {
		return Account{}, err
	}

	return r.lookup(cfg, name)
}

// Named returns a Resolver for one configured account, regardless of which
// account is currently active.
func (r *ConfigResolver) Named(name string) Resolver {
	return ResolverFunc(func(context.Context) (Account, error) {
		cfg := r.holder.Config()
		name := string(NormalizeIdentity(name))

		if _, ok := cfg.Accounts[name]; !ok {
			return Account{}, fmt.Errorf("%w: account %q is not configured", ErrNoAccount, name)
		}

		return r.lookup(cfg, name)
	})
}

func (r *ConfigResolver) lookup(cfg *config.Config, name string) (Account, error) {
	acct := cfg.Accounts[name]

	tokenPath := config.TokenPath(name, acct)
	if tokenPath == "" {
		return Account{}, fmt.Errorf("%w: cannot determine token path for %q", ErrNoAccount, name)
	}

	if _, statErr := os.Stat(tokenPath); statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) {
			return Account{}, fmt.Errorf("%w: %q is not logged in; run 'ssofetch login' first", ErrNoAccount, name)
		}

		return Account{}, fmt.Errorf("account: checking token for %q: %w", name, statErr)
	}

	r.logger.Debug("resolved account",
		slog.String("account", name),
		slog.String("url", acct.URL),
	)

	return Account{
		Identity:  NormalizeIdentity(name),
		BaseURL:   acct.URL,
		TokenPath: tokenPath,
		OAuth: OAuthClient{
			ClientID:     acct.ClientID,
			ClientSecret: acct.ClientSecret,
		},
	}, nil
}

// selectAccount picks the configured account name to use.
func selectAccount(cfg *config.Config) (string, error) {
	if cfg.DefaultAccount != "" {
		if _, ok := cfg.Accounts[cfg.DefaultAccount]; !ok {
			return "", fmt.Errorf("%w: account %q is not configured", ErrNoAccount, cfg.DefaultAccount)
		}

		return cfg.DefaultAccount, nil
	}

	switch len(cfg.Accounts) {
	case 0:
		return "", fmt.Errorf("%w: no accounts configured; run 'ssofetch login' first", ErrNoAccount)
	case 1:
		for name := range cfg.Accounts {
			return name, nil
		}
	}

	names := make([]string, 0, len(cfg.Accounts))
	for name := range cfg.Accounts {
		names = append(names, name)
	}

	sort.Strings(names)

	return "", fmt.Errorf("%w: multiple accounts configured (%v); pass --account or set default_account",
		ErrNoAccount, names)
}
