package profile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeYAML(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestLoadDerivesIDFromFilename(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "acme_ps30.yaml", `
manufacturer: "Acme"
model: "PS-30"
deviceClass: "psu"
deviceType: "power-supply"
capabilities:
  deviceClass: "psu"
  modes: ["CV"]
  outputs:
    - name: "voltage"
      unit: "V"
      decimals: 2
      min: 0
      max: 30
    - name: "current"
      unit: "A"
      decimals: 3
      min: 0
      max: 5
  measurements:
    - name: "voltage"
      unit: "V"
      decimals: 3
`)

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.ID != "acme_ps30" {
		t.Errorf("expected id acme_ps30, got %q", p.ID)
	}
	if p.Manufacturer != "Acme" || p.Model != "PS-30" {
		t.Errorf("unexpected identity: %+v", p)
	}
	if len(p.Capabilities.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(p.Capabilities.Outputs))
	}
	if p.Capabilities.Outputs[0].Min == nil || *p.Capabilities.Outputs[0].Min != 0 {
		t.Errorf("expected voltage min 0, got %v", p.Capabilities.Outputs[0].Min)
	}
}

func TestLoadAllSortsByID(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "zeta.yaml", "manufacturer: Z\nmodel: Z1\n")
	writeYAML(t, dir, "alpha.yaml", "manufacturer: A\nmodel: A1\n")
	writeYAML(t, dir, "notes.txt", "ignored")

	profiles, err := LoadAll(dir)
	if err != nil {
		t.Fatalf("loadAll: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles (txt skipped), got %d", len(profiles))
	}
	if profiles[0].ID != "alpha" || profiles[1].ID != "zeta" {
		t.Errorf("expected sorted [alpha zeta], got [%s %s]", profiles[0].ID, profiles[1].ID)
	}
}

func TestRegistryMatchIsCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "acme_ps30.yaml", "manufacturer: Acme\nmodel: PS-30\n")

	profiles, err := LoadAll(dir)
	if err != nil {
		t.Fatalf("loadAll: %v", err)
	}
	reg := NewRegistry(profiles)

	if reg.Match("acme", "ps-30") == nil {
		t.Error("expected case-insensitive match")
	}
	if reg.Match("Other", "X1") != nil {
		t.Error("expected no match for unknown identity")
	}
	if reg.Len() != 1 {
		t.Errorf("expected 1 registered profile, got %d", reg.Len())
	}
}
