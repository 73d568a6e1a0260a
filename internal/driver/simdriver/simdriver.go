// Package simdriver implements a simulated PSU, electronic load, and
// oscilloscope driver with no physical transport — used by tests and by
// cmd/labctl-probe to demo the server without hardware. Each simulated
// instrument is a mutex-guarded struct holding simulated physical state;
// a setpoint takes effect on the very next reading (there is no settling
// curve), and failures come from an explicit, injectable failure rate
// rather than hidden randomness.
package simdriver

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/multiverse-labs/labctl/internal/driver"
	"github.com/multiverse-labs/labctl/internal/protocol"
)

// PSU simulates a programmable power supply that runs in CV mode only;
// SetMode rejects any other mode.
type PSU struct {
	mu       sync.Mutex
	info     protocol.DeviceInfo
	caps     protocol.DeviceCapabilities
	mode     string
	output   bool
	voltSet  float64
	currSet  float64
	failRate float64
	rng      *rand.Rand
}

// NewPSU creates a simulated PSU identified by id/manufacturer/model.
func NewPSU(id, manufacturer, model string, failRate float64) *PSU {
	return &PSU{
		info: protocol.DeviceInfo{ID: id, Type: protocol.TypePowerSupply, Manufacturer: manufacturer, Model: model},
		caps: protocol.DeviceCapabilities{
			DeviceClass:   protocol.ClassPSU,
			Modes:         []string{"CV"},
			ModesSettable: false,
			Outputs: []protocol.ValueDescriptor{
				{Name: "voltage", Unit: "V", Decimals: 2, Min: ptr(0), Max: ptr(30)},
				{Name: "current", Unit: "A", Decimals: 3, Min: ptr(0), Max: ptr(5)},
			},
			Measurements: []protocol.ValueDescriptor{
				{Name: "voltage", Unit: "V", Decimals: 3},
				{Name: "current", Unit: "A", Decimals: 3},
				{Name: "power", Unit: "W", Decimals: 2},
			},
		},
		mode:    "CV",
		voltSet: 12,
		currSet: 1,
		failRate: failRate,
		rng:     rand.New(rand.NewSource(1)),
	}
}

func ptr(f float64) *float64 { return &f }

func (p *PSU) maybeFail(op string) error {
	if p.failRate > 0 && p.rng.Float64() < p.failRate {
		return fmt.Errorf("simulated failure on %s", op)
	}
	return nil
}

func (p *PSU) Identify(ctx context.Context) (protocol.DeviceInfo, error) {
	return p.info, nil
}

func (p *PSU) GetCapabilities(ctx context.Context) (protocol.DeviceCapabilities, error) {
	return p.caps, nil
}

func (p *PSU) ReadMeasurements(ctx context.Context) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.maybeFail("readMeasurements"); err != nil {
		return nil, driver.Wrap("readMeasurements", err)
	}
	v, c := 0.0, 0.0
	if p.output {
		v = p.voltSet
		c = p.currSet
	}
	return map[string]float64{"voltage": v, "current": c, "power": v * c}, nil
}

func (p *PSU) ReadStatusFields(ctx context.Context) (driver.StatusFields, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.maybeFail("readStatusFields"); err != nil {
		return driver.StatusFields{}, driver.Wrap("readStatusFields", err)
	}
	return driver.StatusFields{
		Mode:          p.mode,
		OutputEnabled: p.output,
		Setpoints:     map[string]float64{"voltage": p.voltSet, "current": p.currSet},
	}, nil
}

func (p *PSU) SetMode(ctx context.Context, mode string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if mode != "CV" {
		return driver.Wrap("setMode", fmt.Errorf("unsupported mode %q", mode))
	}
	p.mode = mode
	return nil
}

func (p *PSU) SetOutput(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.maybeFail("setOutput"); err != nil {
		return driver.Wrap("setOutput", err)
	}
	p.output = enabled
	return nil
}

func (p *PSU) SetValue(ctx context.Context, name string, value float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.maybeFail("setValue"); err != nil {
		return driver.Wrap("setValue", err)
	}
	switch name {
	case "voltage":
		p.voltSet = value
	case "current":
		p.currSet = value
	default:
		return driver.Wrap("setValue", fmt.Errorf("unknown output %q", name))
	}
	return nil
}

func (p *PSU) Close() error { return nil }

// Load simulates an electronic load with CC/CV/CR/CP modes.
type Load struct {
	mu       sync.Mutex
	info     protocol.DeviceInfo
	caps     protocol.DeviceCapabilities
	mode     string
	output   bool
	setpoints map[string]float64
	failRate float64
	rng      *rand.Rand
	lastModeChange time.Time
}

// NewLoad creates a simulated electronic load.
func NewLoad(id, manufacturer, model string, failRate float64) *Load {
	return &Load{
		info: protocol.DeviceInfo{ID: id, Type: protocol.TypeElectronicLoad, Manufacturer: manufacturer, Model: model},
		caps: protocol.DeviceCapabilities{
			DeviceClass:   protocol.ClassLoad,
			Modes:         []string{"CC", "CV", "CR", "CP"},
			ModesSettable: true,
			Outputs: []protocol.ValueDescriptor{
				{Name: "current", Unit: "A", Decimals: 3, Min: ptr(0), Max: ptr(30), Modes: []string{"CC"}},
				{Name: "voltage", Unit: "V", Decimals: 2, Min: ptr(0), Max: ptr(150), Modes: []string{"CV"}},
				{Name: "resistance", Unit: "Ω", Decimals: 2, Min: ptr(0.1), Max: ptr(10000), Modes: []string{"CR"}},
				{Name: "power", Unit: "W", Decimals: 2, Min: ptr(0), Max: ptr(300), Modes: []string{"CP"}},
			},
			Measurements: []protocol.ValueDescriptor{
				{Name: "voltage", Unit: "V", Decimals: 3},
				{Name: "current", Unit: "A", Decimals: 3},
				{Name: "power", Unit: "W", Decimals: 2},
				{Name: "resistance", Unit: "Ω", Decimals: 2},
			},
		},
		mode:      "CC",
		setpoints: map[string]float64{"current": 1, "voltage": 5, "resistance": 10, "power": 10},
		failRate:  failRate,
		rng:       rand.New(rand.NewSource(2)),
	}
}

func (l *Load) maybeFail(op string) error {
	if l.failRate > 0 && l.rng.Float64() < l.failRate {
		return fmt.Errorf("simulated failure on %s", op)
	}
	return nil
}

func (l *Load) Identify(ctx context.Context) (protocol.DeviceInfo, error) { return l.info, nil }

func (l *Load) GetCapabilities(ctx context.Context) (protocol.DeviceCapabilities, error) {
	return l.caps, nil
}

func (l *Load) ReadMeasurements(ctx context.Context) (map[string]float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.maybeFail("readMeasurements"); err != nil {
		return nil, driver.Wrap("readMeasurements", err)
	}
	if !l.output {
		return map[string]float64{"voltage": 0, "current": 0, "power": 0, "resistance": 0}, nil
	}
	var v, c float64
	switch l.mode {
	case "CC":
		c = l.setpoints["current"]
		v = 10 // simulated source impedance response
	case "CV":
		v = l.setpoints["voltage"]
		c = 1
	case "CR":
		v = 10
		c = v / l.setpoints["resistance"]
	case "CP":
		v = 10
		c = l.setpoints["power"] / v
	}
	return map[string]float64{"voltage": v, "current": c, "power": v * c, "resistance": safeDiv(v, c)}, nil
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func (l *Load) ReadStatusFields(ctx context.Context) (driver.StatusFields, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.maybeFail("readStatusFields"); err != nil {
		return driver.StatusFields{}, driver.Wrap("readStatusFields", err)
	}
	sp := make(map[string]float64)
	for _, d := range l.caps.Outputs {
		if d.AppliesToMode(l.mode) {
			sp[d.Name] = l.setpoints[d.Name]
		}
	}
	return driver.StatusFields{Mode: l.mode, OutputEnabled: l.output, Setpoints: sp}, nil
}

// SetMode enforces that a mode change while output is enabled must
// disable output first. This driver enforces it as an invariant rather
// than relying on the caller (the session also does this explicitly;
// belt-and-suspenders here matches a real instrument which often refuses
// SOUR:MODE while OUTP is ON).
func (l *Load) SetMode(ctx context.Context, mode string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.maybeFail("setMode"); err != nil {
		return driver.Wrap("setMode", err)
	}
	valid := false
	for _, m := range l.caps.Modes {
		if m == mode {
			valid = true
			break
		}
	}
	if !valid {
		return driver.Wrap("setMode", fmt.Errorf("unsupported mode %q", mode))
	}
	if l.output {
		return driver.Wrap("setMode", fmt.Errorf("output must be disabled before changing mode"))
	}
	l.mode = mode
	l.lastModeChange = time.Now()
	return nil
}

func (l *Load) SetOutput(ctx context.Context, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.maybeFail("setOutput"); err != nil {
		return driver.Wrap("setOutput", err)
	}
	l.output = enabled
	return nil
}

func (l *Load) SetValue(ctx context.Context, name string, value float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.maybeFail("setValue"); err != nil {
		return driver.Wrap("setValue", err)
	}
	if _, ok := l.setpoints[name]; !ok {
		return driver.Wrap("setValue", fmt.Errorf("unknown output %q", name))
	}
	l.setpoints[name] = value
	return nil
}

func (l *Load) Close() error { return nil }
