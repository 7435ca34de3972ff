package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"naperf/internal/config"
)

// TestLoad_ExpandsEnvAndAppliesDefaults verifies env expansion and defaulting.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_NA_PASSWORD", "secret")

	path := writeConfig(t, `
[devices.filer1]
address = "10.0.0.10"
user = "monitor"
password = "${TEST_NA_PASSWORD}"

[devices.filer1.objects.aggregate]
total_transfers = "total_transfers"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	device := cfg.Devices["filer1"]
	if device.Password != "secret" {
		t.Fatalf("unexpected password: %q", device.Password)
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("expected console logging to be enabled by default")
	}
	if got := cfg.Global.Interval.Duration; got != 45*time.Second {
		t.Fatalf("unexpected default interval: %v", got)
	}
	if got := cfg.Global.HTTPTimeout.Duration; got != 40*time.Second {
		t.Fatalf("unexpected default http timeout: %v", got)
	}
	if got := cfg.Global.Reconnect; got != 60 {
		t.Fatalf("unexpected default reconnect: %d", got)
	}
	if got := cfg.Global.Prefix(); got != "netapp" {
		t.Fatalf("unexpected default path prefix: %q", got)
	}
	if got := device.PublishMode(); got != config.PublishAll {
		t.Fatalf("unexpected default publish mode: %d", got)
	}
}

// TestLoad_NormalizesCounterOverrides verifies string/placeholder/list override decoding.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_NormalizesCounterOverrides(t *testing.T) {
	path := writeConfig(t, `
[devices.filer1]
address = "10.0.0.10"
user = "monitor"
password = "secret"

[devices.filer1.objects."volume|volume=vol0"]
read_ops = "vol_read_ops"
avg_latency = "-"
cpu_busy = ""
"wp.read_io_type" = ["wp_read_normal", "wp_read_cache"]
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	counters := cfg.Devices["filer1"].Counters["volume|volume=vol0"]
	if counters == nil {
		t.Fatalf("expected normalized counters for object key")
	}
	if got := counters["read_ops"]; len(got) != 1 || got[0] != "vol_read_ops" {
		t.Fatalf("unexpected read_ops override: %v", got)
	}
	if got := counters["avg_latency"]; got != nil {
		t.Fatalf("expected nil override for placeholder, got %v", got)
	}
	if got := counters["cpu_busy"]; got != nil {
		t.Fatalf("expected nil override for empty string, got %v", got)
	}
	if got := counters["wp.read_io_type"]; len(got) != 2 || got[0] != "wp_read_normal" || got[1] != "wp_read_cache" {
		t.Fatalf("unexpected list override: %v", got)
	}
}

// TestLoad_ConfigDirMergesTomlFiles verifies config directory loading and file-order merge.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirMergesTomlFiles(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"00-global.toml": `
[global]
interval = "60s"
path_prefix = "storage"
`,
		"10-filer1.toml": `
[devices.filer1]
address = "10.0.0.10"
user = "monitor"
password = "secret"

[devices.filer1.objects.aggregate]
total_transfers = "total_transfers"
`,
		"notes.md": `
this file should be ignored by config loader
`,
	})

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load config dir: %v", err)
	}

	if got := cfg.Global.Interval.Duration; got != 60*time.Second {
		t.Fatalf("unexpected interval: %v", got)
	}
	if got := cfg.Global.Prefix(); got != "storage" {
		t.Fatalf("unexpected path prefix: %q", got)
	}
	if len(cfg.Devices) != 1 {
		t.Fatalf("unexpected devices count: %d", len(cfg.Devices))
	}
}

// TestLoad_ConfigDirRejectsWithoutToml verifies config dir validation on empty/non-toml-only directories.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirRejectsWithoutToml(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a config"), 0o644); err != nil {
		t.Fatalf("write non-toml file: %v", err)
	}

	_, err := config.Load(dir)
	if err == nil {
		t.Fatalf("expected error for config dir without *.toml")
	}
	if !strings.Contains(err.Error(), "no *.toml files") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_RejectsDeviceWithoutObjects verifies each device needs at least one object table.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsDeviceWithoutObjects(t *testing.T) {
	path := writeConfig(t, `
[devices.filer1]
address = "10.0.0.10"
user = "monitor"
password = "secret"
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for device without objects")
	}
}

// TestLoad_RejectsMissingDeviceFields verifies required device fields.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsMissingDeviceFields(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{
			name: "no devices",
			body: `
[global]
interval = "45s"
`,
		},
		{
			name: "missing address",
			body: `
[devices.filer1]
user = "monitor"
password = "secret"

[devices.filer1.objects.aggregate]
total_transfers = "total_transfers"
`,
		},
		{
			name: "missing user",
			body: `
[devices.filer1]
address = "10.0.0.10"
password = "secret"

[devices.filer1.objects.aggregate]
total_transfers = "total_transfers"
`,
		},
		{
			name: "invalid publish mode",
			body: `
[devices.filer1]
address = "10.0.0.10"
user = "monitor"
password = "secret"
publish = 3

[devices.filer1.objects.aggregate]
total_transfers = "total_transfers"
`,
		},
		{
			name: "negative rollover",
			body: `
[devices.filer1]
address = "10.0.0.10"
user = "monitor"
password = "secret"
rollover_max = -1.0

[devices.filer1.objects.aggregate]
total_transfers = "total_transfers"
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			if _, err := config.Load(path); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

// TestLoad_RejectsBadOverrideType verifies the override type error path.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsBadOverrideType(t *testing.T) {
	path := writeConfig(t, `
[devices.filer1]
address = "10.0.0.10"
user = "monitor"
password = "secret"

[devices.filer1.objects.aggregate]
total_transfers = 42
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected error for numeric counter override")
	}
	if !strings.Contains(err.Error(), "override must be a string or list of strings") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_ValidatesGraphiteSink verifies graphite sink address validation and defaults.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ValidatesGraphiteSink(t *testing.T) {
	valid := writeConfig(t, `
[devices.filer1]
address = "10.0.0.10"
user = "monitor"
password = "secret"

[devices.filer1.objects.aggregate]
total_transfers = "total_transfers"

[sinks.graphite]
enabled = true
addr = ["graphite.local:2003"]
`)

	cfg, err := config.Load(valid)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.Sinks.Graphite.Timeout.Duration; got <= 0 {
		t.Fatalf("expected graphite timeout default, got %v", got)
	}

	invalid := writeConfig(t, `
[devices.filer1]
address = "10.0.0.10"
user = "monitor"
password = "secret"

[devices.filer1.objects.aggregate]
total_transfers = "total_transfers"

[sinks.graphite]
enabled = true
addr = ["no-port"]
`)

	if _, err := config.Load(invalid); err == nil {
		t.Fatalf("expected validation error for graphite addr without port")
	}
}

// writeConfig creates a temp config file with provided body.
// Params: t test handle; body TOML content.
// Returns: absolute file path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

// writeConfigDir creates a temp config directory populated with provided files.
// Params: t test handle; files map[name]body.
// Returns: absolute directory path.
func writeConfigDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config file %q: %v", name, err)
		}
	}

	return dir
}
