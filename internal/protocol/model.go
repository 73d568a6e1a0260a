package protocol

import "time"

// ValueDescriptor describes one settable or readable numeric channel on a
// device, e.g. a PSU's "voltage" output or a load's "current" measurement.
type ValueDescriptor struct {
	Name     string   `json:"name"`
	Unit     string   `json:"unit"`
	Decimals int      `json:"decimals"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Modes    []string `json:"modes,omitempty"`
}

// DeviceCapabilities describes what a device can do, loaded from a profile
// (see internal/profile) and attached to a session at creation time.
type DeviceCapabilities struct {
	DeviceClass   DeviceClass       `json:"deviceClass"`
	Features      []string          `json:"features,omitempty"`
	Modes         []string          `json:"modes,omitempty"`
	ModesSettable bool              `json:"modesSettable"`
	Outputs       []ValueDescriptor `json:"outputs,omitempty"`
	Measurements  []ValueDescriptor `json:"measurements,omitempty"`
	ListMode      bool              `json:"listMode,omitempty"`
}

// OutputByName returns the output descriptor for name, or nil.
func (c DeviceCapabilities) OutputByName(name string) *ValueDescriptor {
	for i := range c.Outputs {
		if c.Outputs[i].Name == name {
			return &c.Outputs[i]
		}
	}
	return nil
}

// AppliesToMode reports whether a value descriptor's Modes restriction
// (if any) includes mode. An empty Modes list means "applies to all modes".
func (d ValueDescriptor) AppliesToMode(mode string) bool {
	if len(d.Modes) == 0 {
		return true
	}
	for _, m := range d.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// DeviceInfo is a device's immutable identity.
type DeviceInfo struct {
	ID           string     `json:"id"`
	Type         DeviceType `json:"type"`
	Manufacturer string     `json:"manufacturer"`
	Model        string     `json:"model"`
	Serial       string     `json:"serial,omitempty"`
}

// IDN returns the alias-store key for this device's identity.
func (d DeviceInfo) IDN() string {
	if d.Serial != "" {
		return d.Manufacturer + "," + d.Model + "," + d.Serial
	}
	return d.Manufacturer + "," + d.Model
}

// HistorySample is a single polled measurement snapshot.
type HistorySample struct {
	Timestamp    time.Time          `json:"timestamp"`
	Measurements map[string]float64 `json:"measurements"`
}

// DeviceSessionState is the authoritative, client-visible state of a
// PSU/load session.
type DeviceSessionState struct {
	Info              DeviceInfo         `json:"info"`
	Capabilities      DeviceCapabilities `json:"capabilities"`
	ConnectionStatus  ConnectionStatus   `json:"connectionStatus"`
	ConsecutiveErrors int                `json:"consecutiveErrors"`
	Mode              string             `json:"mode"`
	OutputEnabled     bool               `json:"outputEnabled"`
	Setpoints         map[string]float64 `json:"setpoints"`
	Measurements      map[string]float64 `json:"measurements"`
	ListRunning       *bool              `json:"listRunning,omitempty"`
	LastUpdated       time.Time          `json:"lastUpdated"`
}

// ChannelConfig is one oscilloscope channel's acquisition configuration.
type ChannelConfig struct {
	Enabled  bool    `json:"enabled"`
	Scale    float64 `json:"scale"`
	Offset   float64 `json:"offset"`
	Coupling string  `json:"coupling"` // AC, DC, GND
	Probe    int     `json:"probe"`    // 1, 10, 100
	BWLimit  bool    `json:"bwLimit"`
}

// OscilloscopeStatus is the condensed state polled at the scope session's
// baseline cadence.
type OscilloscopeStatus struct {
	Info             DeviceInfo                `json:"info"`
	Capabilities     DeviceCapabilities        `json:"capabilities"`
	ConnectionStatus ConnectionStatus          `json:"connectionStatus"`
	Running          bool                      `json:"running"`
	TriggerStatus    string                    `json:"triggerStatus"`
	SampleRate       float64                   `json:"sampleRate"`
	MemoryDepth      int                       `json:"memoryDepth"`
	Channels         map[string]ChannelConfig  `json:"channels"`
	Timebase         float64                   `json:"timebase"`
	Trigger          map[string]interface{}    `json:"trigger,omitempty"`
	Measurements     map[string]float64        `json:"measurements,omitempty"`
	LastUpdated      time.Time                 `json:"lastUpdated"`
}

// WaveformData is a single acquired waveform trace.
type WaveformData struct {
	Channel     string    `json:"channel"`
	Points      []float64 `json:"points"`
	XIncrement  float64   `json:"xIncrement"`
	XOrigin     float64   `json:"xOrigin"`
	YIncrement  float64   `json:"yIncrement"`
	YOrigin     float64   `json:"yOrigin"`
	YReference  float64   `json:"yReference"`
}
