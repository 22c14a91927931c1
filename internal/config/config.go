// Package config loads ledlinkd configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// LEDLINK_* environment variables. Command-line flags are applied last by
// the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-ledlink/pkg/platform"
)

// Defaults.
const (
	DefaultListen            = ":8080"
	DefaultWSPath            = "/ws"
	DefaultLEDs              = 60
	DefaultSplitThreshold    = 1450
	DefaultTick              = 5 * time.Millisecond
	DefaultLiveInterval      = 40 * time.Millisecond
	DefaultBroadcastCooldown = time.Second
)

var (
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("config: invalid")

	// ErrNoLEDs is returned when the strip has no pixels.
	ErrNoLEDs = errors.New("config: strip needs at least one LED")
)

// Strip describes the reference LED installation.
type Strip struct {
	Name   string `yaml:"name"`
	LEDs   int    `yaml:"leds"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// Count returns the total number of pixels.
func (s Strip) Count() int {
	if s.Width > 0 && s.Height > 0 {
		return s.Width * s.Height
	}
	return s.LEDs
}

// Limits overrides individual fields of the selected platform profile.
type Limits struct {
	MaxLiveLEDs *int  `yaml:"max_live_leds"`
	HeapCheck   *bool `yaml:"heap_check"`
	HeapLimit   *int  `yaml:"heap_limit"`
	MaxClients  *int  `yaml:"max_clients"`
}

// Log configures logging.
type Log struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Journal bool   `yaml:"journal"`
	Access  bool   `yaml:"access"`
}

// Config is the daemon configuration.
type Config struct {
	Listen  string `yaml:"listen"`
	WSPath  string `yaml:"ws_path"`
	Profile string `yaml:"profile"`
	Limits  Limits `yaml:"limits"`

	SplitThreshold    int           `yaml:"split_threshold"`
	Tick              time.Duration `yaml:"tick"`
	LiveInterval      time.Duration `yaml:"live_interval"`
	BroadcastCooldown time.Duration `yaml:"broadcast_cooldown"`

	Strip Strip `yaml:"strip"`
	Log   Log   `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:            DefaultListen,
		WSPath:            DefaultWSPath,
		Profile:           platform.Standard,
		SplitThreshold:    DefaultSplitThreshold,
		Tick:              DefaultTick,
		LiveInterval:      DefaultLiveInterval,
		BroadcastCooldown: DefaultBroadcastCooldown,
		Strip:             Strip{Name: "ledlink", LEDs: DefaultLEDs},
		Log:               Log{Level: "info"},
	}
}

// Load returns defaults overlaid with the file at path (if non-empty) and
// the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path. Unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays LEDLINK_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	env := func(key string) string { return getenv("LEDLINK_" + key) }

	if v := env("LISTEN"); v != "" {
		c.Listen = v
	}
	if v := env("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: LEDLINK_PORT=%q", ErrInvalid, v)
		}
		c.Listen = fmt.Sprintf(":%d", port)
	}
	if v := env("PROFILE"); v != "" {
		c.Profile = v
	}
	if v := env("NAME"); v != "" {
		c.Strip.Name = v
	}
	if v := env("MATRIX"); v != "" {
		w, h, err := ParseMatrix(v)
		if err != nil {
			return err
		}
		c.Strip.Width, c.Strip.Height = w, h
	}
	if v := env("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"LEDS", &c.Strip.LEDs},
		{"SPLIT_THRESHOLD", &c.SplitThreshold},
	}
	for _, e := range ints {
		if v := env(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: LEDLINK_%s=%q", ErrInvalid, e.key, v)
			}
			*e.dst = n
		}
	}

	limits := []struct {
		key string
		dst **int
	}{
		{"MAX_LIVE_LEDS", &c.Limits.MaxLiveLEDs},
		{"HEAP_LIMIT", &c.Limits.HeapLimit},
		{"MAX_CLIENTS", &c.Limits.MaxClients},
	}
	for _, e := range limits {
		if v := env(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: LEDLINK_%s=%q", ErrInvalid, e.key, v)
			}
			*e.dst = &n
		}
	}
	if v := env("HEAP_CHECK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: LEDLINK_HEAP_CHECK=%q", ErrInvalid, v)
		}
		c.Limits.HeapCheck = &b
	}
	return nil
}

// ParseMatrix parses "WxH".
func ParseMatrix(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w: matrix %q, want WxH", ErrInvalid, s)
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w < 1 || h < 1 {
		return 0, 0, fmt.Errorf("%w: matrix %q, want WxH", ErrInvalid, s)
	}
	return w, h, nil
}

// Platform resolves the named profile with Limits applied.
func (c Config) Platform() (platform.Profile, error) {
	p, err := platform.Lookup(c.Profile)
	if err != nil {
		return p, err
	}
	if c.Limits.MaxLiveLEDs != nil {
		p.MaxLiveLEDs = *c.Limits.MaxLiveLEDs
	}
	if c.Limits.HeapCheck != nil {
		p.HeapCheck = *c.Limits.HeapCheck
	}
	if c.Limits.HeapLimit != nil {
		p.HeapLimit = *c.Limits.HeapLimit
	}
	if c.Limits.MaxClients != nil {
		p.MaxClients = *c.Limits.MaxClients
	}
	return p, nil
}

// Validate reports unusable settings.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalid)
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("%w: ws_path %q must start with /", ErrInvalid, c.WSPath)
	}
	if c.Strip.Count() < 1 {
		return ErrNoLEDs
	}
	if c.SplitThreshold < 0 {
		return fmt.Errorf("%w: split_threshold must be >= 0", ErrInvalid)
	}
	if c.Tick < 0 || c.LiveInterval < 0 || c.BroadcastCooldown < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalid)
	}
	p, err := c.Platform()
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
