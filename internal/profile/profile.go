// Package profile loads device capability profiles from YAML files.
//
// A capability profile maps a manufacturer/model pair to the
// protocol.DeviceCapabilities the server should present for that
// instrument: its settable outputs, measurements, and supported modes.
// Profiles live under a single directory, one YAML file per instrument
// family, and are matched against a discovered device's identity string
// at session-creation time.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

// Profile is a single device family's capability description, loaded
// from one YAML file.
type Profile struct {
	Manufacturer string                     `yaml:"manufacturer"`
	Model        string                     `yaml:"model"`
	DeviceClass  protocol.DeviceClass       `yaml:"deviceClass"`
	DeviceType   protocol.DeviceType        `yaml:"deviceType"`
	Capabilities protocol.DeviceCapabilities `yaml:"capabilities"`

	// ID is derived from the filename (extension stripped), not from YAML.
	ID string `yaml:"-"`
}

// Load reads and parses a single YAML profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: reading %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: parsing %s: %w", path, err)
	}

	base := filepath.Base(path)
	p.ID = strings.TrimSuffix(base, filepath.Ext(base))
	return &p, nil
}

// LoadAll walks dir recursively, loads every .yaml/.yml file, and returns
// them sorted by ID for deterministic ordering. Non-YAML files are
// silently skipped.
func LoadAll(dir string) ([]*Profile, error) {
	var profiles []*Profile

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("profile: walking %s: %w", path, err)
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		p, err := Load(path)
		if err != nil {
			return err
		}
		profiles = append(profiles, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("profile: loading from %s: %w", dir, err)
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles, nil
}

// Registry matches discovered device identities to capability profiles.
type Registry struct {
	byKey map[string]*Profile
}

// NewRegistry indexes profiles by "manufacturer,model" (case-insensitive).
func NewRegistry(profiles []*Profile) *Registry {
	r := &Registry{byKey: make(map[string]*Profile, len(profiles))}
	for _, p := range profiles {
		r.byKey[key(p.Manufacturer, p.Model)] = p
	}
	return r
}

func key(manufacturer, model string) string {
	return strings.ToLower(manufacturer) + "," + strings.ToLower(model)
}

// Match returns the profile for manufacturer/model, or nil if none was
// loaded for that pair. A session falling back to driver-reported
// capabilities when Match returns nil is the caller's responsibility.
func (r *Registry) Match(manufacturer, model string) *Profile {
	return r.byKey[key(manufacturer, model)]
}

// Len reports how many profiles are registered.
func (r *Registry) Len() int { return len(r.byKey) }
