package config

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultPreviewWidth   = 1080
	defaultPreviewHeight  = 1920
	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultListen         = "127.0.0.1:8765"
	defaultMaxConcurrent  = 8
)

// DefaultUserAgent is sent when user_agent is not configured.
const DefaultUserAgent = "ssofetch/0.1"

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Accounts: make(map[string]Account),
		DisplayConfig: DisplayConfig{
			PreviewWidth:  defaultPreviewWidth,
			PreviewHeight: defaultPreviewHeight,
		},
		NetworkConfig: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
			UserAgent:      DefaultUserAgent,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		ServerConfig: ServerConfig{
			Listen:        defaultListen,
			MaxConcurrent: defaultMaxConcurrent,
		},
	}
}
