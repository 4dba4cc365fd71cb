package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/ssofetch/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagAccount    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE,
// resolvedPath the file it came from and resolvedOverrides the CLI layer,
// kept so a reload can re-apply it. Commands in skipConfigCommands
// load config themselves.
var (
	resolvedCfg       *config.Config
	resolvedPath      string
	resolvedOverrides config.CLIOverrides
)

// skipConfigCommands lists commands that must work before the config
// describes the account they act on.
var skipConfigCommands = map[string]bool{
	"ssofetch login": true,
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ssofetch",
		Short: "Fetch resources from a self-hosted cloud as a signed-in account",
		Long: "Resolves file links, share links and paths into bytes through an\n" +
			"authenticated per-account session, and serves them to local image pipelines.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagAccount, "account", "", "account identity (e.g., alice@cloud.example.com)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newAccountsCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores it in resolvedCfg. Subcommand flags that
// override config (get --width/--height, serve --listen) are only passed on
// when explicitly set.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		Account:    flagAccount,
	}

	flags := cmd.Flags()

	if flags.Changed("width") {
		w, _ := flags.GetInt("width")
		cli.PreviewWidth = &w
	}

	if flags.Changed("height") {
		h, _ := flags.GetInt("height")
		cli.PreviewHeight = &h
	}

	if flags.Changed("listen") {
		cli.Listen, _ = flags.GetString("listen")
	}

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedPath = path
	resolvedOverrides = cli

	return nil
}

// configPath returns the config file path the CLI would use, whether or not
// loadConfig has run.
func configPath() string {
	if resolvedPath != "" {
		return resolvedPath
	}

	return config.ResolvePath(config.ReadEnvOverrides(), config.CLIOverrides{ConfigPath: flagConfigPath})
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	return newLogger(os.Stderr, resolvedCfg)
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	format := "text"

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = cfg.LogFormat
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// networkTimeouts returns the configured timeouts, falling back to defaults
// for a config that was never validated.
func networkTimeouts(cfg *config.Config) (connect, data time.Duration) {
	connect, data, err := cfg.Durations()
	if err != nil {
		defaults := config.DefaultConfig()
		connect, data, _ = defaults.Durations()
	}

	return connect, data
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
