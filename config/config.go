// Package config loads the daemon configuration from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Log holds the logging settings.
type Log struct {
	Path       string `yaml:"path"`
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or console
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Port declares one modem endpoint.
type Port struct {
	Name   string `yaml:"name"`
	Device string `yaml:"device"`
	// Kind is primary-at, secondary-at, qmi-control, network-data or ignored.
	Kind string `yaml:"kind"`
	Baud int    `yaml:"baud"`
}

// Modem declares one managed device. Device discovery lives outside the
// broker, so the inventory comes from here.
type Modem struct {
	Name      string `yaml:"name"`
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`
	Driver    string `yaml:"driver"`
	Ports     []Port `yaml:"ports"`
	// NoReset marks models rebooted by ATZ.
	NoReset bool `yaml:"no_reset"`
	// MaxBearers caps the bearer list.
	MaxBearers int `yaml:"max_bearers"`
}

// Dispatch holds the helper script directories.
type Dispatch struct {
	SysconfDir string `yaml:"sysconf_dir"`
	LibDir     string `yaml:"lib_dir"`
}

// Config is the root document.
type Config struct {
	Log      Log      `yaml:"log"`
	Modems   []Modem  `yaml:"modems"`
	Dispatch Dispatch `yaml:"dispatch"`
	// SignalRate is the default signal refresh period in seconds.
	SignalRate int `yaml:"signal_rate"`
	// QuiesceTimeoutSec bounds the sleep coordination wait.
	QuiesceTimeoutSec int `yaml:"quiesce_timeout_sec"`
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.SignalRate == 0 {
		c.SignalRate = 30
	}
	if c.QuiesceTimeoutSec == 0 {
		c.QuiesceTimeoutSec = 5
	}
	if c.Dispatch.SysconfDir == "" {
		c.Dispatch.SysconfDir = "/etc/modemd"
	}
	if c.Dispatch.LibDir == "" {
		c.Dispatch.LibDir = "/usr/lib/modemd"
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for i, m := range c.Modems {
		if m.Name == "" {
			return fmt.Errorf("modem %d: name is required", i)
		}
		control := false
		for j, p := range m.Ports {
			switch p.Kind {
			case "primary-at", "qmi-control":
				control = true
			case "secondary-at", "network-data", "ignored":
			default:
				return fmt.Errorf("modem %s port %d: unknown kind %q", m.Name, j, p.Kind)
			}
			if p.Device == "" {
				return fmt.Errorf("modem %s port %d: device is required", m.Name, j)
			}
		}
		if !control {
			return fmt.Errorf("modem %s: no control port declared", m.Name)
		}
	}
	return nil
}
