package session

import (
	"context"
	"time"

	"github.com/multiverse-labs/labctl/internal/driver"
	"github.com/multiverse-labs/labctl/internal/eventbus"
	"github.com/multiverse-labs/labctl/internal/protocol"
)

// ScopeWaveformPayload is the payload of a {type:'scopeWaveform'} frame.
type ScopeWaveformPayload struct {
	DeviceID string                 `json:"deviceId"`
	Waveform protocol.WaveformData  `json:"waveform"`
}

// ScopeMeasurementPayload is the payload of a {type:'scopeMeasurement'} frame.
type ScopeMeasurementPayload struct {
	DeviceID        string  `json:"deviceId"`
	Channel         string  `json:"channel"`
	MeasurementType string  `json:"measurementType"`
	Value           float64 `json:"value"`
}

// ScopeSession is an OscilloscopeSession: same polling/subscriber shape
// as Session but the baseline poll reads condensed status, and
// waveform/measurement/screenshot acquisitions are on-demand rather than
// part of the poll tick.
type ScopeSession struct {
	l    *loop
	id   string
	drv  driver.Oscilloscope
	cfg  Config
	subs *eventbus.Subscribers

	status protocol.OscilloscopeStatus

	pollTicker *time.Ticker

	streamCancel context.CancelFunc
}

// NewScope constructs a ScopeSession. Start must be called to begin polling.
func NewScope(id string, drv driver.Oscilloscope, info protocol.DeviceInfo, caps protocol.DeviceCapabilities, cfg Config) *ScopeSession {
	return &ScopeSession{
		l:    newLoop(),
		id:   id,
		drv:  drv,
		cfg:  cfg,
		subs: eventbus.NewSubscribers(),
		status: protocol.OscilloscopeStatus{
			Info:             info,
			Capabilities:     caps,
			ConnectionStatus: protocol.StatusConnected,
		},
	}
}

func (s *ScopeSession) ID() string { return s.id }

func (s *ScopeSession) Start(ctx context.Context) {
	s.pollTicker = time.NewTicker(s.cfg.PollInterval)
	go s.run(ctx)
}

func (s *ScopeSession) run(ctx context.Context) {
	defer close(s.l.doneCh)
	defer s.pollTicker.Stop()

	s.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.l.stopCh:
			return
		case cmd := <-s.l.cmdCh:
			cmd()
		case <-s.pollTicker.C:
			s.refresh(ctx)
		}
	}
}

func (s *ScopeSession) refresh(ctx context.Context) {
	status, err := s.drv.GetStatus(ctx)
	if err != nil {
		s.onError()
		return
	}
	if s.status.ConnectionStatus != protocol.StatusConnected {
		s.status.ConnectionStatus = protocol.StatusConnected
		s.broadcastField("connectionStatus", protocol.StatusConnected)
	}
	if s.status.Running != status.Running {
		s.broadcastField("running", status.Running)
	}
	if s.status.TriggerStatus != status.TriggerStatus {
		s.broadcastField("triggerStatus", status.TriggerStatus)
	}
	s.status = status
}

func (s *ScopeSession) onError() {
	if s.status.ConnectionStatus == protocol.StatusDisconnected {
		return
	}
	s.status.ConnectionStatus = protocol.StatusDisconnected
	s.broadcastField("connectionStatus", protocol.StatusDisconnected)
}

func (s *ScopeSession) broadcastField(field string, value interface{}) {
	s.subs.Broadcast(mustWrap(protocol.MsgField, protocol.FieldPayload{
		DeviceID: s.id,
		Field:    field,
		Value:    value,
	}))
}

func (s *ScopeSession) Subscribe(clientID string, sink eventbus.Func) {
	s.l.enqueue(func() {
		s.subs.SafeDeliver(clientID, sink, mustWrap(protocol.MsgSubscribed, protocol.SubscribedPayload{
			DeviceID: s.id,
			State:    s.status,
		}))
		s.subs.Subscribe(clientID, sink)
	})
}

// Unsubscribe removes clientID's sink and, per spec, stops any active
// stream for this device (streaming is keyed per-session, not per-client,
// so any unsubscribe tears the one active stream down).
func (s *ScopeSession) Unsubscribe(clientID string) {
	s.l.enqueue(func() {
		s.subs.Unsubscribe(clientID)
		s.stopStreamingLocked()
	})
}

func (s *ScopeSession) GetState() protocol.OscilloscopeStatus {
	var snap protocol.OscilloscopeStatus
	s.l.enqueue(func() { snap = s.status })
	return snap
}

func (s *ScopeSession) Run(ctx context.Context) error {
	var opErr error
	s.l.enqueue(func() {
		if err := s.drv.Run(ctx); err != nil {
			opErr = err
			return
		}
		s.refresh(ctx)
	})
	return opErr
}

func (s *ScopeSession) Stop(ctx context.Context) error {
	var opErr error
	s.l.enqueue(func() {
		if err := s.drv.Stop(ctx); err != nil {
			opErr = err
			return
		}
		s.refresh(ctx)
	})
	return opErr
}

func (s *ScopeSession) Single(ctx context.Context) error {
	var opErr error
	s.l.enqueue(func() {
		if err := s.drv.Single(ctx); err != nil {
			opErr = err
			return
		}
		s.refresh(ctx)
	})
	return opErr
}

func (s *ScopeSession) AutoSetup(ctx context.Context) error {
	var opErr error
	s.l.enqueue(func() {
		if err := s.drv.AutoSetup(ctx); err != nil {
			opErr = err
			return
		}
		s.refresh(ctx)
	})
	return opErr
}

func (s *ScopeSession) GetWaveform(ctx context.Context, channel string) (protocol.WaveformData, error) {
	var wf protocol.WaveformData
	var opErr error
	s.l.enqueue(func() { wf, opErr = s.drv.GetWaveform(ctx, channel) })
	return wf, opErr
}

func (s *ScopeSession) GetMeasurement(ctx context.Context, channel, measurementType string) (float64, error) {
	var val float64
	var opErr error
	s.l.enqueue(func() { val, opErr = s.drv.GetMeasurement(ctx, channel, measurementType) })
	return val, opErr
}

func (s *ScopeSession) GetScreenshot(ctx context.Context) ([]byte, error) {
	var data []byte
	var opErr error
	s.l.enqueue(func() { data, opErr = s.drv.GetScreenshot(ctx) })
	return data, opErr
}

func (s *ScopeSession) SetChannel(ctx context.Context, channel string, cfg protocol.ChannelConfig) error {
	var opErr error
	s.l.enqueue(func() {
		if err := s.drv.SetChannel(ctx, channel, cfg); err != nil {
			opErr = err
			return
		}
		s.refresh(ctx)
	})
	return opErr
}

func (s *ScopeSession) SetTimebase(ctx context.Context, secondsPerDiv float64) error {
	var opErr error
	s.l.enqueue(func() {
		if err := s.drv.SetTimebase(ctx, secondsPerDiv); err != nil {
			opErr = err
			return
		}
		s.refresh(ctx)
	})
	return opErr
}

func (s *ScopeSession) SetTrigger(ctx context.Context, params map[string]interface{}) error {
	var opErr error
	s.l.enqueue(func() {
		if err := s.drv.SetTrigger(ctx, params); err != nil {
			opErr = err
			return
		}
		s.refresh(ctx)
	})
	return opErr
}

// StartStreaming registers a secondary timer that, each tick, reads the
// requested channels/measurements and broadcasts them to all current
// subscribers. Starting streaming cancels any previously running stream
// on this device.
func (s *ScopeSession) StartStreaming(ctx context.Context, channels []string, interval time.Duration, measurementTypes []string) {
	s.l.enqueue(func() {
		s.stopStreamingLocked()
		streamCtx, cancel := context.WithCancel(ctx)
		s.streamCancel = cancel
		go s.streamLoop(streamCtx, channels, interval, measurementTypes)
	})
}

func (s *ScopeSession) StopStreaming() {
	s.l.enqueue(func() { s.stopStreamingLocked() })
}

func (s *ScopeSession) stopStreamingLocked() {
	if s.streamCancel != nil {
		s.streamCancel()
		s.streamCancel = nil
	}
}

func (s *ScopeSession) streamLoop(ctx context.Context, channels []string, interval time.Duration, measurementTypes []string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.l.enqueueAsync(func() { s.streamTick(ctx, channels, measurementTypes) })
		}
	}
}

func (s *ScopeSession) streamTick(ctx context.Context, channels []string, measurementTypes []string) {
	for _, ch := range channels {
		wf, err := s.drv.GetWaveform(ctx, ch)
		if err != nil {
			continue
		}
		s.subs.Broadcast(mustWrap(protocol.MsgScopeWaveform, ScopeWaveformPayload{DeviceID: s.id, Waveform: wf}))
		for _, mt := range measurementTypes {
			v, err := s.drv.GetMeasurement(ctx, ch, mt)
			if err != nil {
				continue
			}
			s.subs.Broadcast(mustWrap(protocol.MsgScopeMeasurement, ScopeMeasurementPayload{
				DeviceID: s.id, Channel: ch, MeasurementType: mt, Value: v,
			}))
		}
	}
}

// Shutdown stops streaming and the polling loop.
func (s *ScopeSession) Shutdown() {
	s.l.enqueue(func() { s.stopStreamingLocked() })
	s.l.close()
}
