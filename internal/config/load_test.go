package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
default_account = "alice@cloud.example.com"
preview_width = 640
preview_height = 480
connect_timeout = "5s"
data_timeout = "2m"
user_agent = "test/1.0"
log_level = "debug"
log_format = "json"
listen = "0.0.0.0:9000"
max_concurrent = 4

[account."alice@cloud.example.com"]
url = "https://cloud.example.com/"
client_id = "cid"
client_secret = "secret"
token_file = "/tmp/alice.json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "alice@cloud.example.com", cfg.DefaultAccount)
	assert.Equal(t, 640, cfg.PreviewWidth)
	assert.Equal(t, 480, cfg.PreviewHeight)
	assert.Equal(t, "5s", cfg.ConnectTimeout)
	assert.Equal(t, "2m", cfg.DataTimeout)
	assert.Equal(t, "test/1.0", cfg.UserAgent)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, 4, cfg.MaxConcurrent)

	require.Contains(t, cfg.Accounts, "alice@cloud.example.com")
	acct := cfg.Accounts["alice@cloud.example.com"]
	assert.Equal(t, "https://cloud.example.com", acct.URL, "trailing slash trimmed")
	assert.Equal(t, "cid", acct.ClientID)
	assert.Equal(t, "secret", acct.ClientSecret)
	assert.Equal(t, "/tmp/alice.json", acct.TokenFile)
}

func TestLoad_DefaultsRetained(t *testing.T) {
	path := writeTestConfig(t, `log_level = "warn"`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, defaultPreviewWidth, cfg.PreviewWidth)
	assert.Equal(t, defaultListen, cfg.Listen)
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
}

func TestLoad_UnknownGlobalKeySuggests(t *testing.T) {
	path := writeTestConfig(t, `log_levl = "debug"`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "log_levl"`)
	assert.Contains(t, err.Error(), `did you mean "log_level"`)
}

func TestLoad_UnknownAccountKeySuggests(t *testing.T) {
	path := writeTestConfig(t, `
[account."bob@example.com"]
url = "https://example.com"
clientid = "x"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `in account ["bob@example.com"]`)
	assert.Contains(t, err.Error(), `did you mean "client_id"`)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `this is not toml = = =`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOrDefault_EmptyPath(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestResolve_Precedence(t *testing.T) {
	path := writeTestConfig(t, `
default_account = "a@h"
preview_width = 300

[account."a@h"]
url = "https://h"

[account."b@h"]
url = "https://h"
`)

	width := 50

	cfg, gotPath, err := Resolve(
		EnvOverrides{ConfigPath: path, Account: "b@h"},
		CLIOverrides{PreviewWidth: &width, Listen: "127.0.0.1:1"},
	)
	require.NoError(t, err)

	assert.Equal(t, path, gotPath)
	assert.Equal(t, "b@h", cfg.DefaultAccount, "env beats file")
	assert.Equal(t, 50, cfg.PreviewWidth, "CLI beats file")
	assert.Equal(t, "127.0.0.1:1", cfg.Listen)

	cfg, _, err = Resolve(
		EnvOverrides{ConfigPath: path, Account: "b@h"},
		CLIOverrides{Account: "a@h"},
	)
	require.NoError(t, err)
	assert.Equal(t, "a@h", cfg.DefaultAccount, "CLI beats env")
}

func TestResolve_CLIConfigPathWins(t *testing.T) {
	envPath := writeTestConfig(t, `log_level = "warn"`)
	cliPath := writeTestConfig(t, `log_level = "error"`)

	cfg, gotPath, err := Resolve(EnvOverrides{ConfigPath: envPath}, CLIOverrides{ConfigPath: cliPath})
	require.NoError(t, err)
	assert.Equal(t, cliPath, gotPath)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestResolve_UnknownDefaultAccount(t *testing.T) {
	path := writeTestConfig(t, `
[account."a@h"]
url = "https://h"
`)

	_, _, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{Account: "zzz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a configured account")
}
