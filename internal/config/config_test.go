package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-ledlink/pkg/platform"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	p, err := cfg.Platform()
	require.NoError(t, err)
	assert.Equal(t, platform.Default(), p)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledlink.yaml")
	data := `
listen: ":9000"
profile: constrained
limits:
  max_clients: 5
live_interval: 50ms
strip:
  name: desk
  width: 32
  height: 8
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 50*time.Millisecond, cfg.LiveInterval)
	assert.Equal(t, DefaultTick, cfg.Tick)
	assert.Equal(t, 256, cfg.Strip.Count())
	assert.Equal(t, "debug", cfg.Log.Level)

	p, err := cfg.Platform()
	require.NoError(t, err)
	assert.Equal(t, 256, p.MaxLiveLEDs)
	assert.True(t, p.HeapCheck)
	assert.Equal(t, 5, p.MaxClients)
}

func TestLoadFileUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lisen: \":1\"\n"), 0o644))

	cfg := Default()
	assert.Error(t, cfg.LoadFile(path))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"LEDLINK_PORT":          "81",
		"LEDLINK_PROFILE":       "Constrained",
		"LEDLINK_MATRIX":        "16x16",
		"LEDLINK_MAX_LIVE_LEDS": "128",
		"LEDLINK_HEAP_CHECK":    "false",
		"LEDLINK_LOG_LEVEL":     "warn",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":81", cfg.Listen)
	assert.Equal(t, 256, cfg.Strip.Count())
	assert.Equal(t, "warn", cfg.Log.Level)

	p, err := cfg.Platform()
	require.NoError(t, err)
	assert.Equal(t, platform.Constrained, p.Name)
	assert.Equal(t, 128, p.MaxLiveLEDs)
	assert.False(t, p.HeapCheck)
	assert.Equal(t, 3, p.MaxClients)
}

func TestApplyEnvErrors(t *testing.T) {
	tests := map[string]string{
		"LEDLINK_PORT":       "http",
		"LEDLINK_LEDS":       "many",
		"LEDLINK_MATRIX":     "16",
		"LEDLINK_HEAP_CHECK": "maybe",
		"LEDLINK_HEAP_LIMIT": "1k",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(envMap(map[string]string{key: val}))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"no leds", func(c *Config) { c.Strip.LEDs = 0 }, ErrNoLEDs},
		{"bad path", func(c *Config) { c.WSPath = "ws" }, ErrInvalid},
		{"no listen", func(c *Config) { c.Listen = "" }, ErrInvalid},
		{"negative split", func(c *Config) { c.SplitThreshold = -1 }, ErrInvalid},
		{"unknown profile", func(c *Config) { c.Profile = "esp32-c9" }, platform.ErrUnknownProfile},
		{"zero clients", func(c *Config) {
			n := 0
			c.Limits.MaxClients = &n
		}, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestParseMatrix(t *testing.T) {
	w, h, err := ParseMatrix("32X8")
	require.NoError(t, err)
	assert.Equal(t, 32, w)
	assert.Equal(t, 8, h)

	_, _, err = ParseMatrix("0x8")
	assert.ErrorIs(t, err, ErrInvalid)
}
