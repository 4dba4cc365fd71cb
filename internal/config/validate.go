package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minPreviewDimension = 1
	maxPreviewDimension = 8192
	minConnectTimeout   = 1 * time.Second
	minDataTimeout      = 5 * time.Second
	minConcurrent       = 1
	maxConcurrent       = 256
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"text": true, "json": true}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAccounts(cfg)...)
	errs = append(errs, validateDisplay(&cfg.DisplayConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateServer(&cfg.ServerConfig)...)

	return errors.Join(errs...)
}

func validateAccounts(cfg *Config) []error {
	var errs []error

	for name, acct := range cfg.Accounts {
		if name == "" {
			errs = append(errs, errors.New("account: section name must not be empty"))

			continue
		}

		if err := validateAccountURL(acct.URL); err != nil {
			errs = append(errs, fmt.Errorf("account %q: %w", name, err))
		}
	}

	if cfg.DefaultAccount != "" && len(cfg.Accounts) > 0 {
		if _, ok := cfg.Accounts[cfg.DefaultAccount]; !ok {
			errs = append(errs, fmt.Errorf("default_account: %q is not a configured account", cfg.DefaultAccount))
		}
	}

	return errs
}

// validateAccountURL requires an absolute http(s) URL without query or
// fragment; the URL is used as a string prefix for identifier matching.
func validateAccountURL(raw string) error {
	if raw == "" {
		return errors.New("url: must not be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("url: scheme must be http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("url: missing host")
	}

	if u.RawQuery != "" || u.Fragment != "" {
		return errors.New("url: must not contain a query or fragment")
	}

	return nil
}

func validateDisplay(c *DisplayConfig) []error {
	var errs []error

	if c.PreviewWidth < minPreviewDimension || c.PreviewWidth > maxPreviewDimension {
		errs = append(errs, fmt.Errorf("preview_width: must be between %d and %d, got %d",
			minPreviewDimension, maxPreviewDimension, c.PreviewWidth))
	}

	if c.PreviewHeight < minPreviewDimension || c.PreviewHeight > maxPreviewDimension {
		errs = append(errs, fmt.Errorf("preview_height: must be between %d and %d, got %d",
			minPreviewDimension, maxPreviewDimension, c.PreviewHeight))
	}

	return errs
}

func validateNetwork(c *NetworkConfig) []error {
	var errs []error

	if err := validateDurationMin(c.ConnectTimeout, "connect_timeout", minConnectTimeout); err != nil {
		errs = append(errs, err)
	}

	if err := validateDurationMin(c.DataTimeout, "data_timeout", minDataTimeout); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateLogging(c *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", c.LogLevel))
	}

	if !validLogFormats[c.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be text or json; got %q", c.LogFormat))
	}

	return errs
}

func validateServer(c *ServerConfig) []error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen: %w", err))
	}

	if c.MaxConcurrent < minConcurrent || c.MaxConcurrent > maxConcurrent {
		errs = append(errs, fmt.Errorf("max_concurrent: must be between %d and %d, got %d",
			minConcurrent, maxConcurrent, c.MaxConcurrent))
	}

	return errs
}

func validateDurationMin(value, field string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be at least %s, got %s", field, minimum, d)
	}

	return nil
}

// Durations parses the network timeouts. Call after Validate.
func (c *NetworkConfig) Durations() (connect, data time.Duration, err error) {
	connect, err = time.ParseDuration(c.ConnectTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("connect_timeout: %w", err)
	}

	data, err = time.ParseDuration(c.DataTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("data_timeout: %w", err)
	}

	return connect, data, nil
}
