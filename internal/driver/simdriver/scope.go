package simdriver

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/multiverse-labs/labctl/internal/driver"
	"github.com/multiverse-labs/labctl/internal/protocol"
)

// Scope simulates a digital oscilloscope: fixed-shape synthetic waveforms
// per channel, a simple run/stop/single acquisition state machine, and
// canned measurements derived from the synthesized trace.
type Scope struct {
	mu       sync.Mutex
	info     protocol.DeviceInfo
	caps     protocol.DeviceCapabilities
	running  bool
	armed    bool // set by Single(), cleared by the next Run()
	channels map[string]protocol.ChannelConfig
	timebase float64
	trigger  map[string]interface{}
	failRate float64
	rng      *rand.Rand
	start    time.Time
}

// NewScope creates a simulated two-channel oscilloscope.
func NewScope(id, manufacturer, model string, failRate float64) *Scope {
	return &Scope{
		info: protocol.DeviceInfo{ID: id, Type: protocol.TypeOscilloscope, Manufacturer: manufacturer, Model: model},
		caps: protocol.DeviceCapabilities{
			DeviceClass: protocol.ClassOscilloscope,
			Features:    []string{"run", "stop", "single", "autosetup", "screenshot"},
		},
		channels: map[string]protocol.ChannelConfig{
			"CH1": {Enabled: true, Scale: 1, Coupling: "DC", Probe: 1},
			"CH2": {Enabled: false, Scale: 1, Coupling: "DC", Probe: 1},
		},
		timebase: 0.001,
		trigger:  map[string]interface{}{"source": "CH1", "level": 0.0, "slope": "rising"},
		failRate: failRate,
		rng:      rand.New(rand.NewSource(3)),
		start:    time.Now(),
		running:  true,
	}
}

func (s *Scope) maybeFail(op string) error {
	if s.failRate > 0 && s.rng.Float64() < s.failRate {
		return fmt.Errorf("simulated failure on %s", op)
	}
	return nil
}

func (s *Scope) Identify(ctx context.Context) (protocol.DeviceInfo, error) { return s.info, nil }

func (s *Scope) GetCapabilities(ctx context.Context) (protocol.DeviceCapabilities, error) {
	return s.caps, nil
}

// ReadMeasurements and ReadStatusFields satisfy driver.Driver so Scope can
// also be driven through the plain Driver vocabulary (e.g. a status poll
// that doesn't care about scope specifics); OscilloscopeSession uses the
// richer Oscilloscope methods below for its own polling.
func (s *Scope) ReadMeasurements(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"CH1_vpp": s.sampleVpp("CH1")}, nil
}

func (s *Scope) ReadStatusFields(ctx context.Context) (driver.StatusFields, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return driver.StatusFields{Mode: "", OutputEnabled: s.running}, nil
}

func (s *Scope) SetMode(ctx context.Context, mode string) error { return nil }

func (s *Scope) SetOutput(ctx context.Context, enabled bool) error {
	if enabled {
		return s.Run(ctx)
	}
	return s.Stop(ctx)
}

func (s *Scope) SetValue(ctx context.Context, name string, value float64) error {
	return driver.Wrap("setValue", fmt.Errorf("oscilloscope has no settable outputs"))
}

func (s *Scope) Close() error { return nil }

func (s *Scope) Run(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("run"); err != nil {
		return driver.Wrap("run", err)
	}
	s.running = true
	s.armed = false
	return nil
}

func (s *Scope) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("stop"); err != nil {
		return driver.Wrap("stop", err)
	}
	s.running = false
	return nil
}

func (s *Scope) Single(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("single"); err != nil {
		return driver.Wrap("single", err)
	}
	s.running = false
	s.armed = true
	return nil
}

func (s *Scope) AutoSetup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("autoSetup"); err != nil {
		return driver.Wrap("autoSetup", err)
	}
	s.timebase = 0.0005
	ch := s.channels["CH1"]
	ch.Scale = 0.5
	s.channels["CH1"] = ch
	return nil
}

func (s *Scope) GetStatus(ctx context.Context) (protocol.OscilloscopeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("getStatus"); err != nil {
		return protocol.OscilloscopeStatus{}, driver.Wrap("getStatus", err)
	}
	chCopy := make(map[string]protocol.ChannelConfig, len(s.channels))
	for k, v := range s.channels {
		chCopy[k] = v
	}
	triggerStatus := "AUTO"
	if s.armed {
		triggerStatus = "ARMED"
	} else if !s.running {
		triggerStatus = "STOPPED"
	}
	return protocol.OscilloscopeStatus{
		Info:             s.info,
		Capabilities:     s.caps,
		ConnectionStatus: protocol.StatusConnected,
		Running:          s.running,
		TriggerStatus:    triggerStatus,
		SampleRate:       1e9,
		MemoryDepth:      1400,
		Channels:         chCopy,
		Timebase:         s.timebase,
		Trigger:          s.trigger,
		Measurements:     map[string]float64{"CH1_vpp": s.sampleVpp("CH1")},
		LastUpdated:      time.Now(),
	}, nil
}

// sampleVpp synthesizes a peak-to-peak reading that drifts slightly with
// elapsed time so repeated polls aren't perfectly static, without the
// session needing any special-case "scope is alive" heuristic.
func (s *Scope) sampleVpp(channel string) float64 {
	elapsed := time.Since(s.start).Seconds()
	return 2.0 + 0.05*math.Sin(elapsed)
}

func (s *Scope) GetWaveform(ctx context.Context, channel string) (protocol.WaveformData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("getWaveform"); err != nil {
		return protocol.WaveformData{}, driver.Wrap("getWaveform", err)
	}
	cfg, ok := s.channels[channel]
	if !ok || !cfg.Enabled {
		return protocol.WaveformData{}, driver.Wrap("getWaveform", fmt.Errorf("channel %q not enabled", channel))
	}
	const n = 1200
	points := make([]float64, n)
	freq := 1000.0
	for i := range points {
		t := float64(i) * s.timebase / float64(n) * 10
		points[i] = math.Sin(2*math.Pi*freq*t) + 0.01*(s.rng.Float64()-0.5)
	}
	return protocol.WaveformData{
		Channel:    channel,
		Points:     points,
		XIncrement: s.timebase / float64(n) * 10,
		XOrigin:    0,
		YIncrement: cfg.Scale / 25,
		YOrigin:    0,
		YReference: 0,
	}, nil
}

func (s *Scope) GetMeasurement(ctx context.Context, channel, measurementType string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("getMeasurement"); err != nil {
		return 0, driver.Wrap("getMeasurement", err)
	}
	switch measurementType {
	case "vpp":
		return s.sampleVpp(channel), nil
	case "frequency":
		return 1000, nil
	case "mean":
		return 0, nil
	default:
		return 0, driver.Wrap("getMeasurement", fmt.Errorf("unknown measurement type %q", measurementType))
	}
}

func (s *Scope) GetScreenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("getScreenshot"); err != nil {
		return nil, driver.Wrap("getScreenshot", err)
	}
	// A minimal placeholder PNG-like payload; real pixel content doesn't
	// matter here, only that the call succeeds and returns a non-empty
	// blob for the client to save.
	return []byte{0x89, 'P', 'N', 'G', 0, 0, 0, 0}, nil
}

func (s *Scope) SetChannel(ctx context.Context, channel string, cfg protocol.ChannelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("setChannel"); err != nil {
		return driver.Wrap("setChannel", err)
	}
	s.channels[channel] = cfg
	return nil
}

func (s *Scope) SetTimebase(ctx context.Context, secondsPerDiv float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("setTimebase"); err != nil {
		return driver.Wrap("setTimebase", err)
	}
	s.timebase = secondsPerDiv
	return nil
}

func (s *Scope) SetTrigger(ctx context.Context, params map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail("setTrigger"); err != nil {
		return driver.Wrap("setTrigger", err)
	}
	for k, v := range params {
		s.trigger[k] = v
	}
	return nil
}
