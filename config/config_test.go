package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ardnew/usbdiag/host/hub"
	"github.com/ardnew/usbdiag/pkg"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}

	hc, err := cfg.HostConfig()
	if err != nil {
		t.Fatal(err)
	}
	if hc.Reset.Policy != hub.PolicyFirstPass || hc.Reset.MaxAttempts != 5 || hc.Reset.SettleDelay != 200*time.Millisecond {
		t.Errorf("HostConfig().Reset = %+v", hc.Reset)
	}
	if hc.TransferTimeout != time.Second {
		t.Errorf("TransferTimeout = %v", hc.TransferTimeout)
	}

	pc := cfg.PingConfig("10.0.0.1")
	if pc.Target != "10.0.0.1" || pc.Count != 4 || pc.Size != 32 || pc.ID != 0xAFAF ||
		pc.Timeout != time.Second || pc.Interval != time.Second || pc.Privileged {
		t.Errorf("PingConfig() = %+v", pc)
	}
}

func TestParse(t *testing.T) {
	doc := `
reset:
  policy: require-enabled
  settleDelay: 50ms
transferTimeout: 2500000000
ping:
  count: 10
  privileged: true
log:
  level: debug
  format: json
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Reset.Policy != "require-enabled" || cfg.Reset.SettleDelay.Duration != 50*time.Millisecond {
		t.Errorf("Reset = %+v", cfg.Reset)
	}
	if cfg.Reset.MaxAttempts != hub.DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want default", cfg.Reset.MaxAttempts)
	}
	if cfg.TransferTimeout.Duration != 2500*time.Millisecond {
		t.Errorf("TransferTimeout = %v", cfg.TransferTimeout)
	}
	if cfg.Ping.Count != 10 || !cfg.Ping.Privileged || cfg.Ping.Size != 32 {
		t.Errorf("Ping = %+v", cfg.Ping)
	}
	if level, err := cfg.LogLevel(); err != nil || level != slog.LevelDebug {
		t.Errorf("LogLevel() = %v, %v", level, err)
	}
	if cfg.Sysfs.USB != "/sys/bus/usb/devices" {
		t.Errorf("Sysfs.USB = %q, want default", cfg.Sysfs.USB)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "resett: {}\n"},
		{"bad policy", "reset:\n  policy: sometimes\n"},
		{"bad duration", "reset:\n  settleDelay: soon\n"},
		{"zero attempts", "reset:\n  maxAttempts: 0\n"},
		{"negative settle", "reset:\n  settleDelay: -1s\n"},
		{"oversized ping", "ping:\n  size: 70000\n"},
		{"zero ping timeout", "ping:\n  timeout: 0s\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"not yaml", "reset: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); !errors.Is(err, pkg.ErrInvalidParameter) {
				t.Errorf("Parse() error = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Reset.Policy = "strict"
	cfg.Ping.Interval = Duration{250 * time.Millisecond}

	b, err := cfg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "usbdiag.yaml")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != cfg {
		t.Errorf("Load() = %+v, want %+v", got, cfg)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want ErrNotExist", err)
	}
}
