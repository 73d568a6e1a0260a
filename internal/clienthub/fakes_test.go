package clienthub

import (
	"context"
	"sync"
	"time"

	"github.com/multiverse-labs/labctl/internal/eventbus"
	"github.com/multiverse-labs/labctl/internal/protocol"
)

// fakeDevices is a minimal Devices double: ListDevices/GetState answer
// from canned maps, Subscribe/Unsubscribe/UnsubscribeAll record calls so
// tests can assert teardown behavior without a real session.
type fakeDevices struct {
	mu        sync.Mutex
	entries   []protocol.DeviceListEntry
	states    map[string]protocol.DeviceSessionState
	scopes    map[string]protocol.OscilloscopeStatus
	subs      map[string]map[string]eventbus.Func // deviceId -> clientId -> sink
	failNext  error
	setValues []setValueRequest
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		states: make(map[string]protocol.DeviceSessionState),
		scopes: make(map[string]protocol.OscilloscopeStatus),
		subs:   make(map[string]map[string]eventbus.Func),
	}
}

func (f *fakeDevices) ListDevices() []protocol.DeviceListEntry { return f.entries }

func (f *fakeDevices) GetState(deviceID string) (protocol.DeviceSessionState, error) {
	s, ok := f.states[deviceID]
	if !ok {
		return protocol.DeviceSessionState{}, notFoundErr(deviceID)
	}
	return s, nil
}

func (f *fakeDevices) GetScopeState(deviceID string) (protocol.OscilloscopeStatus, error) {
	s, ok := f.scopes[deviceID]
	if !ok {
		return protocol.OscilloscopeStatus{}, notFoundErr(deviceID)
	}
	return s, nil
}

func (f *fakeDevices) SetMode(ctx context.Context, deviceID, mode string) error    { return f.takeErr() }
func (f *fakeDevices) SetOutput(ctx context.Context, deviceID string, enabled bool) error {
	return f.takeErr()
}
func (f *fakeDevices) SetValue(ctx context.Context, deviceID, name string, value float64, immediate bool) error {
	f.mu.Lock()
	f.setValues = append(f.setValues, setValueRequest{deviceID, name, value, immediate})
	f.mu.Unlock()
	return f.takeErr()
}
func (f *fakeDevices) ScopeRun(ctx context.Context, deviceID string) error       { return f.takeErr() }
func (f *fakeDevices) ScopeStop(ctx context.Context, deviceID string) error      { return f.takeErr() }
func (f *fakeDevices) ScopeSingle(ctx context.Context, deviceID string) error    { return f.takeErr() }
func (f *fakeDevices) ScopeAutoSetup(ctx context.Context, deviceID string) error { return f.takeErr() }

func (f *fakeDevices) ScopeGetWaveform(ctx context.Context, deviceID, channel string) (protocol.WaveformData, error) {
	return protocol.WaveformData{Channel: channel}, f.takeErr()
}
func (f *fakeDevices) ScopeGetMeasurement(ctx context.Context, deviceID, channel, measurementType string) (float64, error) {
	return 1.5, f.takeErr()
}
func (f *fakeDevices) ScopeGetScreenshot(ctx context.Context, deviceID string) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, f.takeErr()
}
func (f *fakeDevices) ScopeSetChannel(ctx context.Context, deviceID, channel string, cfg protocol.ChannelConfig) error {
	return f.takeErr()
}
func (f *fakeDevices) ScopeSetTimebase(ctx context.Context, deviceID string, secondsPerDiv float64) error {
	return f.takeErr()
}
func (f *fakeDevices) ScopeSetTrigger(ctx context.Context, deviceID string, params map[string]interface{}) error {
	return f.takeErr()
}
func (f *fakeDevices) ScopeStartStreaming(ctx context.Context, deviceID string, channels []string, interval time.Duration, measurementTypes []string) error {
	return f.takeErr()
}
func (f *fakeDevices) ScopeStopStreaming(deviceID string) error { return f.takeErr() }

func (f *fakeDevices) Subscribe(deviceID, clientID string, sink eventbus.Func) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErrLocked(); err != nil {
		return err
	}
	if f.subs[deviceID] == nil {
		f.subs[deviceID] = make(map[string]eventbus.Func)
	}
	f.subs[deviceID][clientID] = sink
	return nil
}

func (f *fakeDevices) Unsubscribe(deviceID, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[deviceID], clientID)
	return nil
}

func (f *fakeDevices) UnsubscribeAll(clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, clients := range f.subs {
		delete(clients, clientID)
	}
}

func (f *fakeDevices) SyncDevices(ctx context.Context) error { return f.takeErr() }

func (f *fakeDevices) subscriberCount(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[deviceID])
}

func (f *fakeDevices) takeErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.takeErrLocked()
}

func (f *fakeDevices) takeErrLocked() error {
	err := f.failNext
	f.failNext = nil
	return err
}

type routingErr struct{ code, msg string }

func (e *routingErr) Error() string      { return e.msg }
func (e *routingErr) ErrorCode() string  { return e.code }

func notFoundErr(deviceID string) error {
	return &routingErr{code: protocol.ErrDeviceNotFound, msg: "no session for device " + deviceID}
}

// fakeSequences is a minimal Sequences double.
type fakeSequences struct {
	mu        sync.Mutex
	library   []protocol.SequenceDefinition
	runErr    error
	lastRun   protocol.SequenceRunConfig
	runCount  int
	abortN    int
	pauseN    int
	resumeN   int
	sub       eventbus.Func
	subClient string
}

func (f *fakeSequences) ListLibrary() ([]protocol.SequenceDefinition, error) { return f.library, nil }
func (f *fakeSequences) GetFromLibrary(id string) (protocol.SequenceDefinition, error) {
	for _, d := range f.library {
		if d.ID == id {
			return d, nil
		}
	}
	return protocol.SequenceDefinition{}, notFoundErr(id)
}
func (f *fakeSequences) SaveToLibrary(def protocol.SequenceDefinition) (string, error) {
	f.library = append(f.library, def)
	return def.ID, nil
}
func (f *fakeSequences) UpdateInLibrary(def protocol.SequenceDefinition) error { return nil }
func (f *fakeSequences) DeleteFromLibrary(id string) error                    { return nil }

func (f *fakeSequences) Run(ctx context.Context, cfg protocol.SequenceRunConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runCount++
	f.lastRun = cfg
	return f.runErr
}
func (f *fakeSequences) Abort(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortN++
}
func (f *fakeSequences) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseN++
}
func (f *fakeSequences) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeN++
}
func (f *fakeSequences) Subscribe(clientID string, sink eventbus.Func) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sub = sink
	f.subClient = clientID
}
func (f *fakeSequences) Unsubscribe(clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subClient == clientID {
		f.sub = nil
	}
}

// fakeTriggers is a minimal Triggers double.
type fakeTriggers struct {
	mu      sync.Mutex
	library []protocol.TriggerScript
	runErr  error
	runN    int
	stopN   int
	pauseN  int
	resumeN int
}

func (f *fakeTriggers) ListLibrary() ([]protocol.TriggerScript, error) { return f.library, nil }
func (f *fakeTriggers) GetFromLibrary(id string) (protocol.TriggerScript, error) {
	for _, s := range f.library {
		if s.ID == id {
			return s, nil
		}
	}
	return protocol.TriggerScript{}, notFoundErr(id)
}
func (f *fakeTriggers) SaveToLibrary(s protocol.TriggerScript) (string, error) {
	f.library = append(f.library, s)
	return s.ID, nil
}
func (f *fakeTriggers) UpdateInLibrary(s protocol.TriggerScript) error { return nil }
func (f *fakeTriggers) DeleteFromLibrary(id string) error              { return nil }

func (f *fakeTriggers) Run(ctx context.Context, scriptID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runN++
	return f.runErr
}
func (f *fakeTriggers) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopN++
}
func (f *fakeTriggers) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseN++
}
func (f *fakeTriggers) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeN++
}
func (f *fakeTriggers) Subscribe(clientID string, sink eventbus.Func)   {}
func (f *fakeTriggers) Unsubscribe(clientID string)                    {}

// fakeAliases is a minimal Aliases double.
type fakeAliases struct {
	mu      sync.Mutex
	aliases map[string]string
}

func newFakeAliases() *fakeAliases { return &fakeAliases{aliases: make(map[string]string)} }

func (f *fakeAliases) List() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.aliases))
	for k, v := range f.aliases {
		out[k] = v
	}
	return out
}
func (f *fakeAliases) Set(idn, alias string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases[idn] = alias
	return nil
}
func (f *fakeAliases) Clear(idn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.aliases, idn)
	return nil
}

// fakeSettings is a minimal Settings double.
type fakeSettings struct {
	doc       protocol.SettingsDocument
	importErr error
	imported  *protocol.SettingsDocument
}

func (f *fakeSettings) Export() (protocol.SettingsDocument, error) { return f.doc, nil }
func (f *fakeSettings) Import(doc protocol.SettingsDocument) error {
	if f.importErr != nil {
		return f.importErr
	}
	f.imported = &doc
	return nil
}

// fakeSender records every frame sent directly or broadcast, keyed by
// clientID ("" for broadcasts), so tests can assert on decoded payloads
// without a real WebSocket connection.
type fakeSender struct {
	mu         sync.Mutex
	sentTo     map[string][][]byte
	broadcasts [][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{sentTo: make(map[string][][]byte)}
}

func (s *fakeSender) SendTo(clientID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentTo[clientID] = append(s.sentTo[clientID], data)
}

func (s *fakeSender) Broadcast(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, data)
}

func (s *fakeSender) last(clientID string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.sentTo[clientID]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (s *fakeSender) count(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sentTo[clientID])
}
