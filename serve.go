package main

import (
	"log/slog"
	"sort"
	gosync "sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/ssofetch/internal/config"
	"github.com/tonimelisma/ssofetch/internal/fetch"
	"github.com/tonimelisma/ssofetch/internal/proxy"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local image proxy",
		Long: `Serve GET /fetch?id=<identifier>[&account=<identity>] and GET /healthz.

The config file is reloaded on SIGHUP (see 'ssofetch reload') and whenever
it changes on disk. A reload discards all cached session clients.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "listen address (default from config, 127.0.0.1:8765)")
	cmd.Flags().Bool("no-watch", false, "do not watch the config file for changes")

	return cmd
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running 'ssofetch serve' to reload its config",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			pid, err := signalServe(pidFilePath(), syscall.SIGHUP)
			if err != nil {
				return err
			}

			statusf(flagQuiet, "Sent reload to serve (PID %d).\n", pid)

			return nil
		},
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	release, err := acquirePIDFile(pidFilePath())
	if err != nil {
		return err
	}
	defer release()

	holder := config.NewHolder(resolvedCfg, resolvedPath)
	f, resolver := newFetcher(holder, logger)
	defer f.Reset()

	r := &reloader{
		holder:    holder,
		fetcher:   f,
		env:       config.ReadEnvOverrides(),
		overrides: resolvedOverrides,
		logger:    logger,
	}

	go func() {
		for range reloadSignals(ctx) {
			r.reload("SIGHUP")
		}
	}()

	if noWatch, _ := cmd.Flags().GetBool("no-watch"); !noWatch && holder.Path() != "" {
		if err := watchConfig(ctx, holder.Path(), configDebounce, func() { r.reload("config file changed") }, logger); err != nil {
			logger.Warn("config file watching disabled", slog.String("error", err.Error()))
		}
	}

	cfg := holder.Config()

	srv := proxy.New(f, f.Registry(), proxy.Options{
		MaxConcurrent: cfg.MaxConcurrent,
		Account:       resolver.Named,
		Accounts:      func() []string { return accountNames(holder.Config()) },
	}, logger)

	statusf(flagQuiet, "Serving on http://%s\n", cfg.Listen)

	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		return err
	}

	return nil
}

// reloader swaps in a freshly loaded config and drops cached session
// clients, which may belong to accounts that changed or disappeared.
type reloader struct {
	holder    *config.Holder
	fetcher   *fetch.Fetcher
	env       config.EnvOverrides
	overrides config.CLIOverrides
	logger    *slog.Logger

	mu gosync.Mutex
}

func (r *reloader) reload(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.holder.Reload(func(cfg *config.Config) {
		config.ApplyOverrides(cfg, r.env, r.overrides)
	})
	if err != nil {
		r.logger.Error("config reload failed, keeping current config",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)

		return
	}

	r.fetcher.Reset()

	r.logger.Info("config reloaded",
		slog.String("reason", reason),
		slog.Int("accounts", len(r.holder.Config().Accounts)),
	)
}

func accountNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Accounts))
	for name := range cfg.Accounts {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
