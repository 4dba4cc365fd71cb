// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for ssofetch. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
// Account sections live under [account."<identity>"]; everything else is a
// flat top-level key.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	DefaultAccount string             `toml:"default_account"`
	Accounts       map[string]Account `toml:"account"`
	DisplayConfig
	NetworkConfig
	LoggingConfig
	ServerConfig
}

// Account describes one signed-in server account. The map key in
// Config.Accounts is the account identity (usually user@host).
type Account struct {
	URL          string `toml:"url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	TokenFile    string `toml:"token_file"`
}

// DisplayConfig holds the viewport used when file-id links are rewritten to
// preview requests.
type DisplayConfig struct {
	PreviewWidth  int `toml:"preview_width"`
	PreviewHeight int `toml:"preview_height"`
}

// NetworkConfig controls HTTP client behavior of the session clients.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// LoggingConfig controls log output: level and handler format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// ServerConfig controls the image proxy started by `serve`.
type ServerConfig struct {
	Listen        string `toml:"listen"`
	MaxConcurrent int    `toml:"max_concurrent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath    string // --config flag (empty = use default)
	Account       string // --account flag (empty = use default)
	PreviewWidth  *int   // --width flag
	PreviewHeight *int   // --height flag
	Listen        string // --listen flag
}
