package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	normalizeAccounts(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags. It returns
// the effective config and the config file path it was read from.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	cfgPath := ResolvePath(env, cli)

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, "", err
	}

	ApplyOverrides(cfg, env, cli)

	if err := Validate(cfg); err != nil {
		return nil, "", fmt.Errorf("config validation: %w", err)
	}

	return cfg, cfgPath, nil
}

// ResolvePath picks the config file path: CLI > env > default.
func ResolvePath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// ApplyOverrides layers environment and CLI values onto cfg. CLI wins.
func ApplyOverrides(cfg *Config, env EnvOverrides, cli CLIOverrides) {
	if env.Account != "" {
		cfg.DefaultAccount = env.Account
	}

	if cli.Account != "" {
		cfg.DefaultAccount = cli.Account
	}

	if cli.PreviewWidth != nil {
		cfg.PreviewWidth = *cli.PreviewWidth
	}

	if cli.PreviewHeight != nil {
		cfg.PreviewHeight = *cli.PreviewHeight
	}

	if cli.Listen != "" {
		cfg.Listen = cli.Listen
	}
}

// normalizeAccounts trims trailing slashes from account URLs so prefix
// matching and path joining see one canonical form.
func normalizeAccounts(cfg *Config) {
	for name, acct := range cfg.Accounts {
		acct.URL = strings.TrimRight(strings.TrimSpace(acct.URL), "/")
		cfg.Accounts[name] = acct
	}
}
