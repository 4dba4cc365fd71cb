package config

import (
	"fmt"
	"sync"
)

// Holder provides thread-safe access to a mutable *Config and an immutable
// config file path. The proxy and the account resolver read through one
// shared Holder, so a reload updates config in exactly one place.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // immutable after construction
}

// NewHolder creates a Holder with the initial config and config file path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// Config returns the current config snapshot. Thread-safe (read lock).
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the config. Thread-safe (write lock).
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}

// Reload re-reads the config file and swaps it in. On error the current
// config is kept. CLI-level overrides are not re-applied; callers that need
// them pass an apply func.
func (h *Holder) Reload(apply func(*Config)) error {
	cfg, err := LoadOrDefault(h.path)
	if err != nil {
		return fmt.Errorf("reloading config: %w", err)
	}

	if apply != nil {
		apply(cfg)
	}

	h.Update(cfg)

	return nil
}
