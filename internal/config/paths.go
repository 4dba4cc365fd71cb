package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "ssofetch"

// Config file name.
const configFileName = "config.toml"

// tokensDirName is the subdirectory of the data dir holding token files.
const tokensDirName = "tokens"

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/ssofetch).
// On macOS, uses ~/Library/Application Support/ssofetch.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".config", appName)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for application
// data (token files).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/ssofetch).
// On macOS the config and data directories are the same.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".local", "share", appName)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// TokenPath returns the token file for an account. An explicit token_file
// wins (with ~ expanded); otherwise the file lives under the data dir,
// named after the identity with path separators replaced.
// Returns "" when no data dir can be determined.
func TokenPath(identity string, acct Account) string {
	if acct.TokenFile != "" {
		return expandHome(acct.TokenFile)
	}

	dir := DefaultDataDir()
	if dir == "" || identity == "" {
		return ""
	}

	return filepath.Join(dir, tokensDirName, tokenFileName(identity))
}

// tokenFileName turns an identity into a single safe path element.
func tokenFileName(identity string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		default:
			return r
		}
	}, identity)

	return "token_" + safe + ".json"
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
