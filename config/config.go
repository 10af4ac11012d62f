// Package config loads usbdiag settings from a YAML file.
//
// Every field is optional; missing fields keep the values from [Default].
// Durations are written as Go duration strings ("200ms", "1s").
//
//	reset:
//	  policy: require-enabled
//	  maxAttempts: 5
//	  settleDelay: 200ms
//	transferTimeout: 1s
//	ping:
//	  count: 4
//	  size: 32
//	  timeout: 1s
//	  interval: 1s
//	  privileged: true
//	sysfs:
//	  usb: /sys/bus/usb/devices
//	  pci: /sys/bus/pci/devices
//	  devfs: /dev/bus/usb
//	log:
//	  level: debug
//	  format: json
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/ardnew/usbdiag/host"
	"github.com/ardnew/usbdiag/host/hub"
	"github.com/ardnew/usbdiag/pkg"
	"github.com/ardnew/usbdiag/ping"
)

// Duration is a time.Duration that reads and writes as a duration string.
type Duration struct {
	time.Duration
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%w: %w", pkg.ErrInvalidParameter, err)
		}
		d.Duration = v
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("%w: duration %s", pkg.ErrInvalidParameter, b)
	}
	d.Duration = time.Duration(n)
	return nil
}

// MarshalJSON writes the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// Reset configures the hub port reset sequence.
type Reset struct {
	Policy      string   `json:"policy"`
	MaxAttempts int      `json:"maxAttempts"`
	SettleDelay Duration `json:"settleDelay"`
}

// Ping holds the ping defaults.
type Ping struct {
	Count      int      `json:"count"`
	Size       int      `json:"size"`
	Timeout    Duration `json:"timeout"`
	Interval   Duration `json:"interval"`
	ID         uint16   `json:"id"`
	Privileged bool     `json:"privileged"`
}

// Sysfs holds the Linux filesystem roots.
type Sysfs struct {
	USB   string `json:"usb"`
	PCI   string `json:"pci"`
	Devfs string `json:"devfs"`
}

// Log configures the process logger.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Config is the complete usbdiag configuration.
type Config struct {
	Reset           Reset    `json:"reset"`
	TransferTimeout Duration `json:"transferTimeout"`
	Ping            Ping     `json:"ping"`
	Sysfs           Sysfs    `json:"sysfs"`
	Log             Log      `json:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := ping.DefaultConfig()
	return Config{
		Reset: Reset{
			Policy:      hub.PolicyFirstPass.String(),
			MaxAttempts: hub.DefaultMaxAttempts,
			SettleDelay: Duration{hub.DefaultSettleDelay},
		},
		TransferTimeout: Duration{time.Second},
		Ping: Ping{
			Count:    p.Count,
			Size:     p.Size,
			Timeout:  Duration{p.Timeout},
			Interval: Duration{p.Interval},
			ID:       p.ID,
		},
		Sysfs: Sysfs{
			USB:   "/sys/bus/usb/devices",
			PCI:   "/sys/bus/pci/devices",
			Devfs: "/dev/bus/usb",
		},
		Log: Log{Level: "warn", Format: "text"},
	}
}

// Load reads path over the defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// fields are rejected.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", pkg.ErrInvalidParameter, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal returns cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if _, err := hub.ParseResetPolicy(c.Reset.Policy); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if _, err := pkg.ParseLogFormat(c.Log.Format); err != nil {
		return err
	}
	switch {
	case c.Reset.MaxAttempts < 1:
		return fmt.Errorf("%w: reset.maxAttempts %d < 1", pkg.ErrInvalidParameter, c.Reset.MaxAttempts)
	case c.Reset.SettleDelay.Duration < 0:
		return fmt.Errorf("%w: reset.settleDelay %s < 0", pkg.ErrInvalidParameter, c.Reset.SettleDelay)
	case c.TransferTimeout.Duration < 0:
		return fmt.Errorf("%w: transferTimeout %s < 0", pkg.ErrInvalidParameter, c.TransferTimeout)
	}
	if err := c.PingConfig("").Validate(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// LogLevel parses Log.Level.
func (c Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", pkg.ErrInvalidParameter, c.Log.Level)
	}
	return level, nil
}

// HostConfig returns the host and reset settings. The reset clock is left
// nil, meaning the real clock.
func (c Config) HostConfig() (host.Config, error) {
	policy, err := hub.ParseResetPolicy(c.Reset.Policy)
	if err != nil {
		return host.Config{}, err
	}
	return host.Config{
		TransferTimeout: c.TransferTimeout.Duration,
		Reset: hub.Config{
			MaxAttempts: c.Reset.MaxAttempts,
			SettleDelay: c.Reset.SettleDelay.Duration,
			Policy:      policy,
		},
	}, nil
}

// PingConfig returns the ping settings for target.
func (c Config) PingConfig(target string) ping.Config {
	return ping.Config{
		Target:     target,
		Count:      c.Ping.Count,
		Size:       c.Ping.Size,
		Timeout:    c.Ping.Timeout.Duration,
		Interval:   c.Ping.Interval.Duration,
		ID:         c.Ping.ID,
		Privileged: c.Ping.Privileged,
	}
}
