package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is owner read/write only: account sections may carry
// an OAuth2 client secret.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the default config file content written on first login.
// Global settings are present as commented-out defaults so users can
// discover every option. Later edits are text-level appends, so user
// modifications and comments are preserved.
const configTemplate = `# ssofetch configuration

# ── Global settings ──
# Uncomment and modify to override defaults.

# Account used when --account and SSOFETCH_ACCOUNT are not set
# default_account = ""

# Viewport for file-id preview links
# preview_width = 1080
# preview_height = 1920

# Log verbosity: debug, info, warn, error
# log_level = "info"

# Image proxy listen address for 'serve'
# listen = "127.0.0.1:8765"

# ── Accounts ──
# Added automatically by 'login'.
`

// accountSection generates the TOML text for a new account section.
func accountSection(identity string, acct Account) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n[%s.%q]\n", accountTable, identity)
	fmt.Fprintf(&b, "url = %q\n", acct.URL)

	if acct.ClientID != "" {
		fmt.Fprintf(&b, "client_id = %q\n", acct.ClientID)
	}

	if acct.ClientSecret != "" {
		fmt.Fprintf(&b, "client_secret = %q\n", acct.ClientSecret)
	}

	if acct.TokenFile != "" {
		fmt.Fprintf(&b, "token_file = %q\n", acct.TokenFile)
	}

	return b.String()
}

// AddAccount appends an account section to the config file at path,
// creating the file from the template when it does not exist. Returns an
// error if the account is already configured.
func AddAccount(path, identity string, acct Account) error {
	slog.Info("adding account section to config",
		"path", path,
		"account", identity,
	)

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading config file: %w", err)
	}

	content := string(data)
	if content == "" {
		content = configTemplate
	}

	if existing, loadErr := LoadOrDefault(path); loadErr == nil {
		if _, ok := existing.Accounts[identity]; ok {
			return fmt.Errorf("account %q is already configured in %s", identity, path)
		}
	}

	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	content += accountSection(identity, acct)

	return atomicWriteFile(path, []byte(content))
}

// atomicWriteFile writes data to a temp file in the target directory, then
// renames it into place.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
