package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "SSOFETCH_CONFIG"
	EnvAccount = "SSOFETCH_ACCOUNT"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // SSOFETCH_CONFIG: override config file path
	Account    string // SSOFETCH_ACCOUNT: active account identity
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Account:    os.Getenv(EnvAccount),
	}
}
