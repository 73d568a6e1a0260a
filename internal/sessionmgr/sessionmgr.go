// Package sessionmgr implements the session manager: a registry of
// device sessions keyed by stable device id, reconciled against physical
// discovery, routing client-visible verbs to the right session and
// tracking per-client subscriptions. A PSU/load device missing from a
// discovery scan is marked disconnected rather than deleted — sessions, once
// created, live until Stop tears the whole manager down.
package sessionmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/multiverse-labs/labctl/internal/driver"
	"github.com/multiverse-labs/labctl/internal/eventbus"
	"github.com/multiverse-labs/labctl/internal/protocol"
	"github.com/multiverse-labs/labctl/internal/session"
)

// RoutingError is returned by Manager methods when a deviceId does not
// resolve to a session, or resolves to a session of the wrong kind.
type RoutingError struct {
	Code    string
	Message string
}

func (e *RoutingError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// ErrorCode satisfies protocol.CodedError.
func (e *RoutingError) ErrorCode() string { return e.Code }

func notFound(deviceID string) error {
	return &RoutingError{Code: protocol.ErrDeviceNotFound, Message: "no session for device " + deviceID}
}

func wrongType(deviceID string) error {
	return &RoutingError{Code: protocol.ErrWrongDeviceType, Message: "device " + deviceID + " is not of the requested type"}
}

// DiscoveredDevice is what a Discoverer produces for one physical port
// that successfully identified as an instrument. Exactly one of Driver
// or Oscilloscope is set.
type DiscoveredDevice struct {
	ID           string
	Info         protocol.DeviceInfo
	Capabilities protocol.DeviceCapabilities
	Driver       driver.Driver
	Oscilloscope driver.Oscilloscope
}

// Discoverer abstracts physical port enumeration and per-port
// identification so the manager stays transport-agnostic; concrete
// serial/driver wiring lives at the composition root.
type Discoverer interface {
	ListPorts(ctx context.Context) ([]string, error)
	Identify(ctx context.Context, portName string) (DiscoveredDevice, error)
}

// Manager is the session manager.
type Manager struct {
	mu                sync.Mutex
	sessions          map[string]*session.Session
	scopeSessions     map[string]*session.ScopeSession
	subscribedClients map[string]map[string]struct{} // deviceId -> set of clientId

	discoverer Discoverer
	cfg        session.Config
	rootCtx    context.Context
}

// New creates an empty Manager. rootCtx governs every session's polling
// goroutine lifetime; canceling it stops every session at once.
func New(rootCtx context.Context, discoverer Discoverer, cfg session.Config) *Manager {
	return &Manager{
		sessions:          make(map[string]*session.Session),
		scopeSessions:     make(map[string]*session.ScopeSession),
		subscribedClients: make(map[string]map[string]struct{}),
		discoverer:        discoverer,
		cfg:               cfg,
		rootCtx:           rootCtx,
	}
}

// SyncDevices enumerates candidate ports, identifies each, and reconciles
// the session registry: new devices get sessions started, PSU/load
// sessions whose port disappeared are marked disconnected (never
// destroyed), and PSU/load sessions found by the scan are reconnected in
// place. Oscilloscope sessions are only created here: a scan does not
// mark a missing one disconnected or reconnect a returning one; their
// connection status follows their own status poll.
func (m *Manager) SyncDevices(ctx context.Context) error {
	ports, err := m.discoverer.ListPorts(ctx)
	if err != nil {
		return fmt.Errorf("sessionmgr: list ports: %w", err)
	}

	seen := make(map[string]bool, len(ports))
	for _, port := range ports {
		dev, err := m.discoverer.Identify(ctx, port)
		if err != nil {
			continue // nothing recognizable on this port right now
		}
		seen[dev.ID] = true
		m.reconcileOne(ctx, dev)
	}

	m.mu.Lock()
	for id, sess := range m.sessions {
		if !seen[id] {
			sess.MarkDisconnected()
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) reconcileOne(ctx context.Context, dev DiscoveredDevice) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dev.Oscilloscope != nil {
		if _, ok := m.scopeSessions[dev.ID]; ok {
			return // already running; re-identification just confirms liveness
		}
		sc := session.NewScope(dev.ID, dev.Oscilloscope, dev.Info, dev.Capabilities, m.cfg)
		sc.Start(m.rootCtx)
		m.scopeSessions[dev.ID] = sc
		return
	}

	if existing, ok := m.sessions[dev.ID]; ok {
		existing.Reconnect(dev.Driver)
		return
	}
	sess := session.New(dev.ID, dev.Driver, dev.Info, dev.Capabilities, m.cfg)
	sess.Start(m.rootCtx)
	m.sessions[dev.ID] = sess
}

func (m *Manager) lookupSession(deviceID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[deviceID]; ok {
		return sess, nil
	}
	if _, ok := m.scopeSessions[deviceID]; ok {
		return nil, wrongType(deviceID)
	}
	return nil, notFound(deviceID)
}

func (m *Manager) lookupScope(deviceID string) (*session.ScopeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sc, ok := m.scopeSessions[deviceID]; ok {
		return sc, nil
	}
	if _, ok := m.sessions[deviceID]; ok {
		return nil, wrongType(deviceID)
	}
	return nil, notFound(deviceID)
}

// GetState returns the PSU/load session's current state.
func (m *Manager) GetState(deviceID string) (protocol.DeviceSessionState, error) {
	sess, err := m.lookupSession(deviceID)
	if err != nil {
		return protocol.DeviceSessionState{}, err
	}
	return sess.GetState(), nil
}

// GetScopeState returns the oscilloscope session's current status.
func (m *Manager) GetScopeState(deviceID string) (protocol.OscilloscopeStatus, error) {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return protocol.OscilloscopeStatus{}, err
	}
	return sc.GetState(), nil
}

// SetMode routes to DeviceSession.SetMode.
func (m *Manager) SetMode(ctx context.Context, deviceID, mode string) error {
	sess, err := m.lookupSession(deviceID)
	if err != nil {
		return err
	}
	return sess.SetMode(ctx, mode)
}

// SetOutput routes to DeviceSession.SetOutput.
func (m *Manager) SetOutput(ctx context.Context, deviceID string, enabled bool) error {
	sess, err := m.lookupSession(deviceID)
	if err != nil {
		return err
	}
	return sess.SetOutput(ctx, enabled)
}

// SetValue routes to DeviceSession.SetValue.
func (m *Manager) SetValue(ctx context.Context, deviceID, name string, value float64, immediate bool) error {
	sess, err := m.lookupSession(deviceID)
	if err != nil {
		return err
	}
	return sess.SetValue(ctx, name, value, immediate)
}

// ScopeRun/ScopeStop/ScopeSingle/ScopeAutoSetup route to the matching
// ScopeSession lifecycle verb.
func (m *Manager) ScopeRun(ctx context.Context, deviceID string) error {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return err
	}
	return sc.Run(ctx)
}

func (m *Manager) ScopeStop(ctx context.Context, deviceID string) error {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return err
	}
	return sc.Stop(ctx)
}

func (m *Manager) ScopeSingle(ctx context.Context, deviceID string) error {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return err
	}
	return sc.Single(ctx)
}

func (m *Manager) ScopeAutoSetup(ctx context.Context, deviceID string) error {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return err
	}
	return sc.AutoSetup(ctx)
}

func (m *Manager) ScopeGetWaveform(ctx context.Context, deviceID, channel string) (protocol.WaveformData, error) {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return protocol.WaveformData{}, err
	}
	return sc.GetWaveform(ctx, channel)
}

func (m *Manager) ScopeGetMeasurement(ctx context.Context, deviceID, channel, measurementType string) (float64, error) {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return 0, err
	}
	return sc.GetMeasurement(ctx, channel, measurementType)
}

func (m *Manager) ScopeGetScreenshot(ctx context.Context, deviceID string) ([]byte, error) {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return nil, err
	}
	return sc.GetScreenshot(ctx)
}

func (m *Manager) ScopeSetChannel(ctx context.Context, deviceID, channel string, cfg protocol.ChannelConfig) error {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return err
	}
	return sc.SetChannel(ctx, channel, cfg)
}

func (m *Manager) ScopeSetTimebase(ctx context.Context, deviceID string, secondsPerDiv float64) error {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return err
	}
	return sc.SetTimebase(ctx, secondsPerDiv)
}

func (m *Manager) ScopeSetTrigger(ctx context.Context, deviceID string, params map[string]interface{}) error {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return err
	}
	return sc.SetTrigger(ctx, params)
}

func (m *Manager) ScopeStartStreaming(ctx context.Context, deviceID string, channels []string, interval time.Duration, measurementTypes []string) error {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return err
	}
	sc.StartStreaming(ctx, channels, interval, measurementTypes)
	return nil
}

func (m *Manager) ScopeStopStreaming(deviceID string) error {
	sc, err := m.lookupScope(deviceID)
	if err != nil {
		return err
	}
	sc.StopStreaming()
	return nil
}

// Subscribe attaches clientID's sink to deviceID's session, whichever
// kind it is, and records the subscription so UnsubscribeAll can find it
// later. It returns DEVICE_NOT_FOUND if deviceID resolves to nothing.
func (m *Manager) Subscribe(deviceID, clientID string, sink eventbus.Func) error {
	m.mu.Lock()
	sess, isSession := m.sessions[deviceID]
	sc, isScope := m.scopeSessions[deviceID]
	if !isSession && !isScope {
		m.mu.Unlock()
		return notFound(deviceID)
	}
	if m.subscribedClients[deviceID] == nil {
		m.subscribedClients[deviceID] = make(map[string]struct{})
	}
	m.subscribedClients[deviceID][clientID] = struct{}{}
	m.mu.Unlock()

	if isSession {
		sess.Subscribe(clientID, sink)
	} else {
		sc.Subscribe(clientID, sink)
	}
	return nil
}

// Unsubscribe detaches clientID from deviceID's session.
func (m *Manager) Unsubscribe(deviceID, clientID string) error {
	m.mu.Lock()
	sess, isSession := m.sessions[deviceID]
	sc, isScope := m.scopeSessions[deviceID]
	if set := m.subscribedClients[deviceID]; set != nil {
		delete(set, clientID)
	}
	m.mu.Unlock()

	if isSession {
		sess.Unsubscribe(clientID)
		return nil
	}
	if isScope {
		sc.Unsubscribe(clientID)
		return nil
	}
	return notFound(deviceID)
}

// UnsubscribeAll removes clientID from every device it is currently
// subscribed to — called when a client connection closes.
func (m *Manager) UnsubscribeAll(clientID string) {
	m.mu.Lock()
	type target struct {
		sess *session.Session
		sc   *session.ScopeSession
	}
	var targets []target
	for deviceID, clients := range m.subscribedClients {
		if _, ok := clients[clientID]; ok {
			if sc, isScope := m.scopeSessions[deviceID]; isScope {
				targets = append(targets, target{sc: sc})
			} else if sess, isSession := m.sessions[deviceID]; isSession {
				targets = append(targets, target{sess: sess})
			}
			delete(clients, clientID)
		}
	}
	m.mu.Unlock()

	for _, tgt := range targets {
		if tgt.sc != nil {
			tgt.sc.Unsubscribe(clientID)
			continue
		}
		if tgt.sess != nil {
			tgt.sess.Unsubscribe(clientID)
		}
	}
}

// ListDevices returns a snapshot entry per known session, PSU/load and
// oscilloscope alike, for the getDevices/deviceList response. Alias
// enrichment is the caller's job (the alias store lives above this
// layer).
func (m *Manager) ListDevices() []protocol.DeviceListEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]protocol.DeviceListEntry, 0, len(m.sessions)+len(m.scopeSessions))
	for _, sess := range m.sessions {
		state := sess.GetState()
		out = append(out, protocol.DeviceListEntry{
			DeviceInfo:       state.Info,
			ConnectionStatus: state.ConnectionStatus,
		})
	}
	for _, sc := range m.scopeSessions {
		status := sc.GetState()
		out = append(out, protocol.DeviceListEntry{
			DeviceInfo:       status.Info,
			ConnectionStatus: status.ConnectionStatus,
		})
	}
	return out
}

// Stop tears down every session: polling loops, pending debounce timers,
// and active scope streams. Drivers are closed by the discoverer/caller
// that owns the underlying transports.
func (m *Manager) Stop() {
	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	scopes := make([]*session.ScopeSession, 0, len(m.scopeSessions))
	for _, sc := range m.scopeSessions {
		scopes = append(scopes, sc)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}
	for _, sc := range scopes {
		sc.Shutdown()
	}
}
