package config

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolder_UpdateAndRead(t *testing.T) {
	h := NewHolder(DefaultConfig(), "/some/path")
	assert.Equal(t, "/some/path", h.Path())

	next := DefaultConfig()
	next.LogLevel = "error"
	h.Update(next)

	assert.Same(t, next, h.Config())
}

func TestHolder_Reload(t *testing.T) {
	path := writeTestConfig(t, `log_level = "warn"`)

	h := NewHolder(DefaultConfig(), path)
	require.NoError(t, h.Reload(func(cfg *Config) { cfg.DefaultAccount = "x" }))

	assert.Equal(t, "warn", h.Config().LogLevel)
	assert.Equal(t, "x", h.Config().DefaultAccount)
}

func TestHolder_ReloadKeepsConfigOnError(t *testing.T) {
	path := writeTestConfig(t, `log_level = "warn"`)
	h := NewHolder(DefaultConfig(), path)
	require.NoError(t, h.Reload(nil))

	require.NoError(t, os.WriteFile(path, []byte(`log_level = "shout"`), 0o600))

	err := h.Reload(nil)
	require.Error(t, err)
	assert.Equal(t, "warn", h.Config().LogLevel)
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	h := NewHolder(DefaultConfig(), "")

	var wg sync.WaitGroup

	for range 50 {
		wg.Add(2)

		go func() {
			defer wg.Done()
			h.Update(DefaultConfig())
		}()

		go func() {
			defer wg.Done()
			assert.NotNil(t, h.Config())
		}()
	}

	wg.Wait()
}
