package shadowtap

import (
	"github.com/hazyhaar/shadowtap/internal/config"
)

// Config is the top-level shadowtap configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to tap.
type PageConfig = config.PageConfig

// RecorderConfig controls the snapshot/delta stream.
type RecorderConfig = config.RecorderConfig

// ControlConfig controls the recording switch.
type ControlConfig = config.ControlConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfig reads a YAML file (optional) and SHADOWTAP_* environment
// overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// EnvUsage describes the supported environment variables.
func EnvUsage() string { return config.EnvUsage() }
