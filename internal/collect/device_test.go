package collect

import (
	"strings"
	"testing"
	"time"

	"naperf/internal/config"
)

// TestNewDevice_ValidatesInputs verifies required device construction fields.
// Params: t test context.
// Returns: none.
func TestNewDevice_ValidatesInputs(t *testing.T) {
	tests := []struct {
		name    string
		cfg     DeviceConfig
		wantErr string
	}{
		{
			name:    "missing name",
			cfg:     DeviceConfig{Source: &fakeSource{}, Interval: time.Minute},
			wantErr: "device name",
		},
		{
			name:    "missing source",
			cfg:     DeviceConfig{Name: "d1", Interval: time.Minute},
			wantErr: "instance source",
		},
		{
			name:    "zero interval",
			cfg:     DeviceConfig{Name: "d1", Source: &fakeSource{}},
			wantErr: "interval",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDevice(tc.cfg, testLogger())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

// TestNewDevice_SkipsInvalidDropMasks verifies malformed masks are ignored at build time.
// Params: t test context.
// Returns: none.
func TestNewDevice_SkipsInvalidDropMasks(t *testing.T) {
	device, err := NewDevice(DeviceConfig{
		Name:        "d1",
		Source:      &fakeSource{},
		Interval:    time.Minute,
		PublishMode: config.PublishAll,
		DropMetrics: []string{"", "*read_ops*"},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}

	if len(device.drop) != 1 {
		t.Fatalf("compiled drop masks=%d, want=1", len(device.drop))
	}
	if !device.dropped("netapp.d1.volume.read_ops") {
		t.Fatal("drop mask did not match")
	}
	if device.dropped("netapp.d1.volume.write_ops") {
		t.Fatal("drop mask matched unrelated path")
	}
}

// TestRegistry_AddRemoveGet verifies registry bookkeeping and duplicate rejection.
// Params: t test context.
// Returns: none.
func TestRegistry_AddRemoveGet(t *testing.T) {
	registry := NewRegistry()

	first, err := NewDevice(DeviceConfig{Name: "filer1", Source: &fakeSource{}, Interval: time.Minute}, testLogger())
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	if err := registry.Add(first); err != nil {
		t.Fatalf("Add: %v", err)
	}

	duplicate, err := NewDevice(DeviceConfig{Name: "filer1", Source: &fakeSource{}, Interval: time.Minute}, testLogger())
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	if err := registry.Add(duplicate); err == nil {
		t.Fatal("expected duplicate registration error")
	}

	got, ok := registry.Get("filer1")
	if !ok || got != first {
		t.Fatal("Get returned wrong device")
	}

	registry.Remove("filer1")
	if _, ok := registry.Get("filer1"); ok {
		t.Fatal("device still present after Remove")
	}
}
