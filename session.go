package main

import (
	"context"
	"log/slog"

	"github.com/tonimelisma/ssofetch/internal/account"
	"github.com/tonimelisma/ssofetch/internal/config"
	"github.com/tonimelisma/ssofetch/internal/fetch"
	"github.com/tonimelisma/ssofetch/internal/resource"
	"github.com/tonimelisma/ssofetch/internal/transport"
)

// newFetcher wires config-backed account resolution, a transport factory
// and the preview viewport into a Fetcher. Everything is read through
// holder at use time, so a reload only needs to reset the registry.
func newFetcher(holder *config.Holder, logger *slog.Logger) (*fetch.Fetcher, *account.ConfigResolver) {
	resolver := account.NewConfigResolver(holder, logger)

	factory := fetch.FactoryFunc(func(ctx context.Context, acct account.Account, onConnected func(error)) (fetch.Client, error) {
		cfg := holder.Config()
		connect, data := networkTimeouts(cfg)

		tf := transport.NewFactory(connect, data, cfg.UserAgent, logger)

		return fetch.FromTransport(tf).Build(ctx, acct, onConnected)
	})

	viewport := func() resource.Viewport {
		cfg := holder.Config()

		return resource.Viewport{Width: cfg.PreviewWidth, Height: cfg.PreviewHeight}
	}

	f := fetch.New(resolver, factory,
		fetch.WithViewportFunc(viewport),
		fetch.WithLogger(logger),
	)

	return f, resolver
}
