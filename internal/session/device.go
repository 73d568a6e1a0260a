// Package session implements DeviceSession and OscilloscopeSession: the
// per-instrument object that owns a driver, caches authoritative state,
// polls on a timer, debounces setpoint writes, and fans measurement/field
// events out to subscribers. State is owned by a single goroutine (see
// loop.go) because a session has to coalesce debounced writes against
// the same state a concurrent poll tick might be updating, which a lock
// protects less clearly than funneling every mutation through one loop.
package session

import (
	"context"
	"log"
	"time"

	"github.com/multiverse-labs/labctl/internal/driver"
	"github.com/multiverse-labs/labctl/internal/eventbus"
	"github.com/multiverse-labs/labctl/internal/history"
	"github.com/multiverse-labs/labctl/internal/protocol"
)

type pendingWrite struct {
	value      float64
	generation uint64
	timer      *time.Timer
}

// Session is a DeviceSession: PSU/load state cache, polling loop,
// debounced setpoint writer, error budget, subscriber fan-out.
type Session struct {
	l    *loop
	id   string
	drv  driver.Driver
	cfg  Config
	subs *eventbus.Subscribers
	hist *history.Ring

	state      protocol.DeviceSessionState
	pending    map[string]*pendingWrite
	generation uint64
	pollCount  int

	pollTicker *time.Ticker
}

// New constructs a Session. Start must be called to begin polling.
func New(id string, drv driver.Driver, info protocol.DeviceInfo, caps protocol.DeviceCapabilities, cfg Config) *Session {
	now := time.Now()
	return &Session{
		l:    newLoop(),
		id:   id,
		drv:  drv,
		cfg:  cfg,
		subs: eventbus.NewSubscribers(),
		hist: history.New(cfg.HistoryRetention),
		state: protocol.DeviceSessionState{
			Info:             info,
			Capabilities:     caps,
			ConnectionStatus: protocol.StatusConnected,
			Setpoints:        map[string]float64{},
			Measurements:     map[string]float64{},
			LastUpdated:      now,
		},
		pending: make(map[string]*pendingWrite),
	}
}

// ID returns the stable device identifier this session owns.
func (s *Session) ID() string { return s.id }

// Start launches the polling goroutine. It returns once the loop is
// ready to accept commands.
func (s *Session) Start(ctx context.Context) {
	s.pollTicker = time.NewTicker(s.cfg.PollInterval)
	go s.run(ctx)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.l.doneCh)
	defer s.pollTicker.Stop()

	// Seed the initial refresh so the very first poll tick already has
	// mode/output/setpoints rather than the zero values from New.
	s.refreshStatus(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.l.stopCh:
			return
		case cmd := <-s.l.cmdCh:
			cmd()
		case <-s.pollTicker.C:
			s.poll(ctx)
		}
	}
}

// poll is one measurement tick: read measurements, append to history,
// broadcast, and manage the consecutive-error budget.
func (s *Session) poll(ctx context.Context) {
	measurements, err := s.drv.ReadMeasurements(ctx)
	now := time.Now()

	if err != nil {
		s.onError(now)
		return
	}

	s.state.ConsecutiveErrors = 0
	s.state.Measurements = measurements
	s.state.LastUpdated = now
	s.hist.Append(now, measurements)

	prevStatus := s.state.ConnectionStatus
	if prevStatus != protocol.StatusConnected {
		s.state.ConnectionStatus = protocol.StatusConnected
		s.broadcastField("connectionStatus", protocol.StatusConnected)
	}

	s.subs.Broadcast(mustWrap(protocol.MsgMeasurement, protocol.MeasurementPayload{
		DeviceID: s.id,
		Update: protocol.MeasurementUpdate{
			Timestamp:    now.UnixMilli(),
			Measurements: measurements,
		},
	}))

	s.pollCount++
	if s.pollCount%s.cfg.StatusRefreshEvery == 0 {
		s.refreshStatus(ctx)
	}
}

func (s *Session) onError(now time.Time) {
	s.state.ConsecutiveErrors++
	if s.state.ConsecutiveErrors < s.cfg.ErrorThreshold {
		return
	}
	if s.state.ConnectionStatus == protocol.StatusDisconnected {
		return
	}
	s.state.ConnectionStatus = protocol.StatusDisconnected
	s.broadcastField("connectionStatus", protocol.StatusDisconnected)
}

// refreshStatus is the lower-cadence mode/outputEnabled/setpoints diff
// push, run on every Nth poll tick and once at startup.
func (s *Session) refreshStatus(ctx context.Context) {
	fields, err := s.drv.ReadStatusFields(ctx)
	if err != nil {
		return
	}
	if fields.Mode != s.state.Mode {
		s.state.Mode = fields.Mode
		s.broadcastField("mode", fields.Mode)
	}
	if fields.OutputEnabled != s.state.OutputEnabled {
		s.state.OutputEnabled = fields.OutputEnabled
		s.broadcastField("outputEnabled", fields.OutputEnabled)
	}
	if !setpointsEqual(s.state.Setpoints, fields.Setpoints) {
		s.state.Setpoints = fields.Setpoints
		s.broadcastField("setpoints", fields.Setpoints)
	}
}

func setpointsEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func (s *Session) broadcastField(field string, value interface{}) {
	s.subs.Broadcast(mustWrap(protocol.MsgField, protocol.FieldPayload{
		DeviceID: s.id,
		Field:    field,
		Value:    value,
	}))
}

// Subscribe attaches sink under clientID and immediately delivers the
// current state as a {type:'subscribed'} message — the one message that
// is never subject to sink backpressure drops, since it is sent before
// the subscriber is registered for the regular broadcast stream.
func (s *Session) Subscribe(clientID string, sink eventbus.Func) {
	s.l.enqueue(func() {
		s.subs.SafeDeliver(clientID, sink, mustWrap(protocol.MsgSubscribed, protocol.SubscribedPayload{
			DeviceID: s.id,
			State:    s.stateSnapshot(),
		}))
		s.subs.Subscribe(clientID, sink)
	})
}

func (s *Session) Unsubscribe(clientID string) {
	s.l.enqueue(func() { s.subs.Unsubscribe(clientID) })
}

func (s *Session) stateSnapshot() protocol.DeviceSessionState {
	snap := s.state
	snap.Setpoints = copyMap(s.state.Setpoints)
	snap.Measurements = copyMap(s.state.Measurements)
	return snap
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetState returns a snapshot of the session's current state.
func (s *Session) GetState() protocol.DeviceSessionState {
	var snap protocol.DeviceSessionState
	s.l.enqueue(func() { snap = s.stateSnapshot() })
	return snap
}

// SetMode changes the device operating mode. A mode change while output
// is enabled must disable output first.
func (s *Session) SetMode(ctx context.Context, mode string) error {
	var opErr error
	s.l.enqueue(func() {
		if s.state.OutputEnabled {
			if err := s.drv.SetOutput(ctx, false); err != nil {
				opErr = err
				return
			}
			s.state.OutputEnabled = false
			s.broadcastField("outputEnabled", false)
		}
		if err := s.drv.SetMode(ctx, mode); err != nil {
			opErr = err
			return
		}
		s.state.Mode = mode
		s.broadcastField("mode", mode)
	})
	return opErr
}

func (s *Session) SetOutput(ctx context.Context, enabled bool) error {
	var opErr error
	s.l.enqueue(func() {
		if err := s.drv.SetOutput(ctx, enabled); err != nil {
			opErr = err
			return
		}
		s.state.OutputEnabled = enabled
		s.broadcastField("outputEnabled", enabled)
	})
	return opErr
}

// SetValue implements write-coalescing debounce for non-immediate calls
// and strict program-order immediate writes.
func (s *Session) SetValue(ctx context.Context, name string, value float64, immediate bool) error {
	if immediate {
		var opErr error
		s.l.enqueue(func() {
			if err := s.drv.SetValue(ctx, name, value); err != nil {
				opErr = err
				return
			}
			s.state.Setpoints[name] = value
			s.broadcastField("setpoints", copyMap(s.state.Setpoints))
		})
		return opErr
	}

	s.l.enqueue(func() {
		s.generation++
		gen := s.generation
		if existing, ok := s.pending[name]; ok {
			existing.timer.Stop()
		}
		pw := &pendingWrite{value: value, generation: gen}
		pw.timer = time.AfterFunc(s.cfg.DebounceInterval, func() {
			s.l.enqueueAsync(func() { s.flushPending(ctx, name, gen) })
		})
		s.pending[name] = pw
	})
	return nil
}

func (s *Session) flushPending(ctx context.Context, name string, generation uint64) {
	pw, ok := s.pending[name]
	if !ok || pw.generation != generation {
		return // superseded by a later call, or already flushed
	}
	delete(s.pending, name)
	if err := s.drv.SetValue(ctx, name, pw.value); err != nil {
		log.Printf("session: %s: debounced setValue(%s=%v): %v", s.id, name, pw.value, err)
		return
	}
	s.state.Setpoints[name] = pw.value
	s.broadcastField("setpoints", copyMap(s.state.Setpoints))
}

// Reconnect swaps in a freshly opened driver (its transport re-dialed by
// the caller) and resumes normal polling. The deviceId and subscribers
// are unchanged — physical reappearance never renames a session.
func (s *Session) Reconnect(drv driver.Driver) {
	s.l.enqueue(func() {
		s.drv = drv
		s.state.ConsecutiveErrors = 0
		s.state.ConnectionStatus = protocol.StatusConnected
		s.broadcastField("connectionStatus", protocol.StatusConnected)
	})
}

// MarkDisconnected flags the session disconnected without destroying it,
// used by the manager's reconciliation pass when a device's port goes
// missing from a scan.
func (s *Session) MarkDisconnected() {
	s.l.enqueue(func() {
		if s.state.ConnectionStatus == protocol.StatusDisconnected {
			return
		}
		s.state.ConnectionStatus = protocol.StatusDisconnected
		s.broadcastField("connectionStatus", protocol.StatusDisconnected)
	})
}

// Stop halts polling and pending debounce timers. The driver itself is
// closed by the caller, which owns the underlying transport.
func (s *Session) Stop() {
	s.l.enqueue(func() {
		for _, pw := range s.pending {
			pw.timer.Stop()
		}
		s.pending = nil
	})
	s.l.close()
}

func mustWrap(msgType string, payload interface{}) interface{} {
	data, err := protocol.Wrap(msgType, payload)
	if err != nil {
		log.Printf("session: wrap %s: %v", msgType, err)
		return nil
	}
	return data
}
