// CLAUDE:SUMMARY Defines shadowtap config structs, parses YAML, overlays SHADOWTAP_* environment variables and applies defaults.
// Package config handles shadowtap configuration: a YAML file, then
// SHADOWTAP_* environment overrides, then defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level shadowtap configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser" env-prefix:"SHADOWTAP_BROWSER_"`
	Pages    []PageConfig   `yaml:"pages"`
	Recorder RecorderConfig `yaml:"recorder" env-prefix:"SHADOWTAP_RECORDER_"`
	Scroll   ScrollConfig   `yaml:"scroll" env-prefix:"SHADOWTAP_SCROLL_"`
	Control  ControlConfig  `yaml:"control" env-prefix:"SHADOWTAP_CONTROL_"`
	Sinks    []SinkConfig   `yaml:"sinks"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote" env:"REMOTE" env-description:"DevTools URL of an existing Chrome"`
	Mode             string        `yaml:"mode" env:"MODE" env-description:"headless | headful"`
	MemoryLimit      int64         `yaml:"memory_limit" env:"MEMORY_LIMIT" env-description:"JS heap bytes before recycling"`
	RecycleInterval  time.Duration `yaml:"recycle_interval" env:"RECYCLE_INTERVAL"`
	CheckInterval    time.Duration `yaml:"check_interval" env:"CHECK_INTERVAL"`
	ResourceBlocking []string      `yaml:"resource_blocking" env:"RESOURCE_BLOCKING" env-description:"comma separated: images,fonts,media,stylesheets"`
	XvfbDisplay      string        `yaml:"xvfb_display" env:"XVFB_DISPLAY"`
}

// PageConfig is one page to tap.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// RecorderConfig controls the snapshot/delta stream.
type RecorderConfig struct {
	DebounceWindow time.Duration `yaml:"debounce_window" env:"DEBOUNCE_WINDOW" env-description:"mutation batching window"`
	DebounceMax    int           `yaml:"debounce_max" env:"DEBOUNCE_MAX"`
	CheckoutEveryN int           `yaml:"checkout_every_n" env:"CHECKOUT_EVERY_N" env-description:"checkpoint snapshot after N incremental events"`
	CheckoutEvery  time.Duration `yaml:"checkout_every" env:"CHECKOUT_EVERY"`
}

// ScrollConfig controls scroll coalescing.
type ScrollConfig struct {
	Debounce time.Duration `yaml:"debounce" env:"DEBOUNCE"`
}

// ControlConfig controls the recording switch.
type ControlConfig struct {
	Listen string `yaml:"listen" env:"LISTEN" env-description:"control API address, empty disables it"`
	// StatusURL answers the startup status query. Empty falls back to Record.
	StatusURL    string        `yaml:"status_url" env:"STATUS_URL"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL" env-description:"follow status_url at this interval, 0 disables"`
	Record       bool          `yaml:"record" env:"RECORD"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type    string   `yaml:"type"`    // stdout | webhook | sqlite
	URL     string   `yaml:"url"`     // webhook
	Path    string   `yaml:"path"`    // sqlite
	Retries int      `yaml:"retries"` // webhook
	Kinds   []string `yaml:"kinds"`   // empty: every message kind
}

// Load reads path (optional), applies environment overrides and defaults,
// then validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EnvUsage describes the supported environment variables.
func EnvUsage() string {
	var cfg Config
	header := "Environment variables:"
	desc, err := cleanenv.GetDescription(&cfg, &header)
	if err != nil {
		return ""
	}
	return desc
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.CheckInterval <= 0 {
		c.Browser.CheckInterval = 30 * time.Second
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Recorder.DebounceWindow <= 0 {
		c.Recorder.DebounceWindow = 250 * time.Millisecond
	}
	if c.Recorder.DebounceMax <= 0 {
		c.Recorder.DebounceMax = 1000
	}
	if c.Recorder.CheckoutEveryN <= 0 {
		c.Recorder.CheckoutEveryN = 200
	}
	if c.Recorder.CheckoutEvery <= 0 {
		c.Recorder.CheckoutEvery = 5 * time.Minute
	}
	if c.Scroll.Debounce <= 0 {
		c.Scroll.Debounce = 500 * time.Millisecond
	}
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page%d", i+1)
		}
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	seen := make(map[string]bool, len(c.Pages))
	for _, p := range c.Pages {
		if strings.TrimSpace(p.URL) == "" {
			return fmt.Errorf("config: page %s: url is required", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sink %d: webhook needs url", i)
			}
		case "sqlite":
			if s.Path == "" {
				return fmt.Errorf("config: sink %d: sqlite needs path", i)
			}
		default:
			return fmt.Errorf("config: sink %d: unknown type %q", i, s.Type)
		}
	}
	return nil
}
