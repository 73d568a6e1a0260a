package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "labctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestLoadFileEmptyPathReturnsZeroValue(t *testing.T) {
	f, err := LoadFile("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.ProfileDir != "" || len(f.SimulatedDevices) != 0 {
		t.Errorf("expected zero-value File, got %+v", f)
	}
}

func TestLoadFileParsesSimulatedDevices(t *testing.T) {
	path := writeYAML(t, `
profileDir: /etc/labctl/profiles
simulatedDevices:
  - id: psu-1
    kind: psu
    manufacturer: Acme
    model: PS-30
    failRate: 0.01
session:
  pollIntervalMs: 500
  errorThreshold: 5
`)
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if f.ProfileDir != "/etc/labctl/profiles" {
		t.Errorf("expected profileDir to be parsed, got %s", f.ProfileDir)
	}
	if len(f.SimulatedDevices) != 1 || f.SimulatedDevices[0].ID != "psu-1" {
		t.Fatalf("expected one simulated device psu-1, got %+v", f.SimulatedDevices)
	}
	if f.Session.PollIntervalMs != 500 || f.Session.ErrorThreshold != 5 {
		t.Errorf("expected session overrides to be parsed, got %+v", f.Session)
	}
}

func TestLoadFileMissingPathErrors(t *testing.T) {
	if _, err := LoadFile("/nonexistent/labctl.yaml"); err == nil {
		t.Fatal("expected an error loading a nonexistent file")
	}
}

func TestSessionConfigAppliesOverridesOverDefaults(t *testing.T) {
	var f File
	f.Session.PollIntervalMs = 100
	f.Session.HistoryMinutes = 10

	cfg := SessionConfig(f)
	if cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("expected overridden poll interval, got %v", cfg.PollInterval)
	}
	if cfg.HistoryRetention != 10*time.Minute {
		t.Errorf("expected overridden history retention, got %v", cfg.HistoryRetention)
	}
	// Unset fields keep the package default.
	if cfg.ErrorThreshold != 3 {
		t.Errorf("expected default error threshold 3, got %d", cfg.ErrorThreshold)
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	f := ParseFlags(nil)
	if f.ListenAddr != ":8420" {
		t.Errorf("expected default listen addr :8420, got %s", f.ListenAddr)
	}
	if f.DBPath != "labctl.db" {
		t.Errorf("expected default db path labctl.db, got %s", f.DBPath)
	}
	if f.RedisAddr != "" {
		t.Errorf("expected relay disabled by default, got redis addr %s", f.RedisAddr)
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	f := ParseFlags([]string{"-listen", ":9000", "-redis", "localhost:6379", "-instance", "lab-02"})
	if f.ListenAddr != ":9000" {
		t.Errorf("expected overridden listen addr, got %s", f.ListenAddr)
	}
	if f.RedisAddr != "localhost:6379" {
		t.Errorf("expected overridden redis addr, got %s", f.RedisAddr)
	}
	if f.Instance != "lab-02" {
		t.Errorf("expected overridden instance, got %s", f.Instance)
	}
}
