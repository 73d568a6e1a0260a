// Package discovery provides sessionmgr.Discoverer implementations. The
// only one provided here enumerates a fixed, configured fleet of
// simdriver instruments rather than physical serial ports — concrete
// instrument SCPI dialects are out of scope (spec Non-goal), so there is
// no generic real-hardware identification step to wire a Driver from; a
// deployment that needs one supplies its own Discoverer built on
// transport.OpenSerial and a dialect-specific driver.Driver.
package discovery

import (
	"context"
	"fmt"

	"github.com/multiverse-labs/labctl/internal/config"
	"github.com/multiverse-labs/labctl/internal/driver"
	"github.com/multiverse-labs/labctl/internal/driver/simdriver"
	"github.com/multiverse-labs/labctl/internal/profile"
	"github.com/multiverse-labs/labctl/internal/protocol"
	"github.com/multiverse-labs/labctl/internal/sessionmgr"
)

// Simulated is a sessionmgr.Discoverer backed by a fixed list of
// simdriver instruments, keyed by a synthetic "sim://<id>" port name so
// Manager.SyncDevices's reconciliation loop (built around port names)
// works unmodified.
type Simulated struct {
	devices  map[string]config.SimulatedDevice
	profiles *profile.Registry
}

// NewSimulated builds a Simulated discoverer from the configured fleet.
// profiles may be nil, in which case every device reports the
// capabilities its simdriver instance carries natively. When a profile
// matches a device's manufacturer/model, its capability set takes
// precedence — the same override a real discoverer would apply after
// identifying a physical instrument against the profile directory.
func NewSimulated(devices []config.SimulatedDevice, profiles *profile.Registry) *Simulated {
	byPort := make(map[string]config.SimulatedDevice, len(devices))
	for _, d := range devices {
		byPort[portName(d.ID)] = d
	}
	return &Simulated{devices: byPort, profiles: profiles}
}

func portName(id string) string { return "sim://" + id }

// ListPorts returns one synthetic port name per configured simulated
// device. The set never changes at runtime, so after the first
// SyncDevices pass every subsequent one is a no-op reconciliation.
func (s *Simulated) ListPorts(ctx context.Context) ([]string, error) {
	ports := make([]string, 0, len(s.devices))
	for port := range s.devices {
		ports = append(ports, port)
	}
	return ports, nil
}

// Identify builds the simdriver instrument configured for portName.
func (s *Simulated) Identify(ctx context.Context, portName string) (sessionmgr.DiscoveredDevice, error) {
	cfg, ok := s.devices[portName]
	if !ok {
		return sessionmgr.DiscoveredDevice{}, fmt.Errorf("discovery: no simulated device configured for %s", portName)
	}

	switch cfg.Kind {
	case "psu":
		d := simdriver.NewPSU(cfg.ID, cfg.Manufacturer, cfg.Model, cfg.FailRate)
		info, _ := d.Identify(ctx)
		caps, _ := d.GetCapabilities(ctx)
		return sessionmgr.DiscoveredDevice{ID: cfg.ID, Info: info, Capabilities: s.resolveCapabilities(info, caps), Driver: d}, nil
	case "load":
		d := simdriver.NewLoad(cfg.ID, cfg.Manufacturer, cfg.Model, cfg.FailRate)
		info, _ := d.Identify(ctx)
		caps, _ := d.GetCapabilities(ctx)
		return sessionmgr.DiscoveredDevice{ID: cfg.ID, Info: info, Capabilities: s.resolveCapabilities(info, caps), Driver: d}, nil
	case "scope":
		d := simdriver.NewScope(cfg.ID, cfg.Manufacturer, cfg.Model, cfg.FailRate)
		info, _ := d.Identify(ctx)
		caps, _ := d.GetCapabilities(ctx)
		return sessionmgr.DiscoveredDevice{ID: cfg.ID, Info: info, Capabilities: s.resolveCapabilities(info, caps), Oscilloscope: d}, nil
	default:
		return sessionmgr.DiscoveredDevice{}, fmt.Errorf("discovery: unknown simulated device kind %q for %s", cfg.Kind, cfg.ID)
	}
}

// resolveCapabilities prefers a matching profile's capability set over
// the simulated driver's own, mirroring how a real discoverer would
// treat a physical instrument's identification reply as provisional
// once a profile directory has a better answer.
func (s *Simulated) resolveCapabilities(info protocol.DeviceInfo, fallback protocol.DeviceCapabilities) protocol.DeviceCapabilities {
	if s.profiles == nil {
		return fallback
	}
	if p := s.profiles.Match(info.Manufacturer, info.Model); p != nil {
		return p.Capabilities
	}
	return fallback
}

var _ driver.Driver = (*simdriver.PSU)(nil)
var _ driver.Driver = (*simdriver.Load)(nil)
