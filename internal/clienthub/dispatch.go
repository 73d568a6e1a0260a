package clienthub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/multiverse-labs/labctl/internal/eventbus"
	"github.com/multiverse-labs/labctl/internal/protocol"
)

// requestTimeout bounds how long a single client-initiated driver call may
// run before the hub gives up waiting and replies with a failure; it does
// not cancel the underlying session call, which is owned by that
// session's single-goroutine loop.
const requestTimeout = 5 * time.Second

// ClientState is the per-connection record: an id plus its set of
// subscribed device ids.
type ClientState struct {
	ID            string
	mu            sync.Mutex
	Subscriptions map[string]struct{}
}

func newClientState(id string) *ClientState {
	return &ClientState{ID: id, Subscriptions: make(map[string]struct{})}
}

func (c *ClientState) addSubscription(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Subscriptions[deviceID] = struct{}{}
}

func (c *ClientState) removeSubscription(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Subscriptions, deviceID)
}

// Sender is the narrow slice of Hub the dispatcher needs: deliver to one
// connection, or fan out to all of them.
type Sender interface {
	SendTo(clientID string, data []byte)
	Broadcast(data []byte)
}

// Devices is the narrow slice of SessionManager the hub dispatches
// device/oscilloscope verbs against.
type Devices interface {
	ListDevices() []protocol.DeviceListEntry
	GetState(deviceID string) (protocol.DeviceSessionState, error)
	GetScopeState(deviceID string) (protocol.OscilloscopeStatus, error)
	SetMode(ctx context.Context, deviceID, mode string) error
	SetOutput(ctx context.Context, deviceID string, enabled bool) error
	SetValue(ctx context.Context, deviceID, name string, value float64, immediate bool) error
	ScopeRun(ctx context.Context, deviceID string) error
	ScopeStop(ctx context.Context, deviceID string) error
	ScopeSingle(ctx context.Context, deviceID string) error
	ScopeAutoSetup(ctx context.Context, deviceID string) error
	ScopeGetWaveform(ctx context.Context, deviceID, channel string) (protocol.WaveformData, error)
	ScopeGetMeasurement(ctx context.Context, deviceID, channel, measurementType string) (float64, error)
	ScopeGetScreenshot(ctx context.Context, deviceID string) ([]byte, error)
	ScopeSetChannel(ctx context.Context, deviceID, channel string, cfg protocol.ChannelConfig) error
	ScopeSetTimebase(ctx context.Context, deviceID string, secondsPerDiv float64) error
	ScopeSetTrigger(ctx context.Context, deviceID string, params map[string]interface{}) error
	ScopeStartStreaming(ctx context.Context, deviceID string, channels []string, interval time.Duration, measurementTypes []string) error
	ScopeStopStreaming(deviceID string) error
	Subscribe(deviceID, clientID string, sink eventbus.Func) error
	Unsubscribe(deviceID, clientID string) error
	UnsubscribeAll(clientID string)
	SyncDevices(ctx context.Context) error
}

// Sequences is the narrow slice of the sequence engine the hub dispatches
// sequenceRun/Abort/Pause/Resume and library verbs against.
type Sequences interface {
	ListLibrary() ([]protocol.SequenceDefinition, error)
	GetFromLibrary(id string) (protocol.SequenceDefinition, error)
	SaveToLibrary(def protocol.SequenceDefinition) (string, error)
	UpdateInLibrary(def protocol.SequenceDefinition) error
	DeleteFromLibrary(id string) error
	Run(ctx context.Context, cfg protocol.SequenceRunConfig) error
	Abort(ctx context.Context)
	Pause()
	Resume()
	Subscribe(clientID string, sink eventbus.Func)
	Unsubscribe(clientID string)
}

// Triggers is the narrow slice of the trigger engine the hub dispatches
// triggerScriptRun/Stop/Pause/Resume and library verbs against.
type Triggers interface {
	ListLibrary() ([]protocol.TriggerScript, error)
	GetFromLibrary(id string) (protocol.TriggerScript, error)
	SaveToLibrary(s protocol.TriggerScript) (string, error)
	UpdateInLibrary(s protocol.TriggerScript) error
	DeleteFromLibrary(id string) error
	Run(ctx context.Context, scriptID string) error
	Stop()
	Pause()
	Resume()
	Subscribe(clientID string, sink eventbus.Func)
	Unsubscribe(clientID string)
}

// Aliases is the device-alias half of the persistence boundary, keyed by
// a device's IDN (manufacturer,model[,serial]).
type Aliases interface {
	List() map[string]string
	Set(idn, alias string) error
	Clear(idn string) error
}

// Settings is the all-or-nothing export/import half of the persistence
// boundary.
type Settings interface {
	Export() (protocol.SettingsDocument, error)
	Import(doc protocol.SettingsDocument) error
}

// Dispatcher owns the handler table and the translation between decoded
// client frames and the session manager, sequence engine, trigger
// engine, and persistence layer.
type Dispatcher struct {
	devices   Devices
	sequences Sequences
	triggers  Triggers
	aliases   Aliases
	settings  Settings

	mu      sync.Mutex
	sender  Sender
	clients map[string]*ClientState
}

// NewDispatcher wires the ClientHub to its four collaborating subsystems.
func NewDispatcher(devices Devices, sequences Sequences, triggers Triggers, aliases Aliases, settings Settings) *Dispatcher {
	return &Dispatcher{
		devices:   devices,
		sequences: sequences,
		triggers:  triggers,
		aliases:   aliases,
		settings:  settings,
		clients:   make(map[string]*ClientState),
	}
}

// engineBroadcastClientID is the synthetic subscriber id the dispatcher
// uses to receive every sequence/trigger lifecycle event and relay it to
// all connected clients, mirroring the "trigger-engine:<id>" synthetic
// client id the trigger engine itself uses against SessionManager.
const engineBroadcastClientID = "clienthub:broadcast"

// Start wires the dispatcher to receive every sequence/trigger engine
// event so it can relay each one to every connected client via
// broadcastAll. Call once, after SetSender, before accepting connections.
func (d *Dispatcher) Start() {
	relay := func(msg interface{}) {
		if data, ok := msg.([]byte); ok {
			d.broadcast(data)
		}
	}
	d.sequences.Subscribe(engineBroadcastClientID, relay)
	d.triggers.Subscribe(engineBroadcastClientID, relay)
}

// SetSender attaches the transport the dispatcher uses for every
// broadcast, whether triggered asynchronously by an engine event or by an
// inbound frame (scan, alias and settings changes). The Sender passed
// into handle carries only replies addressed to the originating client.
func (d *Dispatcher) SetSender(s Sender) {
	d.mu.Lock()
	d.sender = s
	d.mu.Unlock()
}

func (d *Dispatcher) broadcast(data []byte) {
	if data == nil {
		return
	}
	d.mu.Lock()
	sender := d.sender
	d.mu.Unlock()
	if sender != nil {
		sender.Broadcast(data)
	}
}

// onConnect registers a fresh ClientState for a newly accepted connection.
func (d *Dispatcher) onConnect(clientID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[clientID] = newClientState(clientID)
}

// onDisconnect tears down every subscription a dropped client held,
// across devices, the sequence engine, and the trigger engine, so no
// future event reaches a torn-down sink.
func (d *Dispatcher) onDisconnect(clientID string) {
	d.mu.Lock()
	delete(d.clients, clientID)
	d.mu.Unlock()

	d.devices.UnsubscribeAll(clientID)
	d.sequences.Unsubscribe(clientID)
	d.triggers.Unsubscribe(clientID)
}

func (d *Dispatcher) clientState(clientID string) *ClientState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[clientID]
}

// handle decodes one inbound frame and routes it to the matching handler,
// or emits the matching protocol error for a malformed or unrecognized
// frame. sender is the connection's own Hub reference, used for replies
// that must reach only the originating client.
func (d *Dispatcher) handle(clientID string, raw []byte, sender Sender) {
	msgType, err := protocol.ParseType(raw)
	if err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}

	fn, ok := handlers[msgType]
	if !ok {
		d.sendError(sender, clientID, "", protocol.ErrUnknownMessageType, "unrecognized message type "+msgType)
		return
	}
	fn(d, sender, clientID, raw)
}

func (d *Dispatcher) sendError(sender Sender, clientID, deviceID, code, message string) {
	data, err := protocol.Wrap(protocol.MsgError, protocol.ErrorPayload{DeviceID: deviceID, Code: code, Message: message})
	if err != nil {
		return
	}
	sender.SendTo(clientID, data)
}

func (d *Dispatcher) reply(sender Sender, clientID, msgType string, payload interface{}) {
	data, err := protocol.Wrap(msgType, payload)
	if err != nil {
		return
	}
	sender.SendTo(clientID, data)
}

// broadcastDeviceList re-sends the alias-enriched device list to every
// connected client, on any discovery change or alias change.
func (d *Dispatcher) broadcastDeviceList() {
	data, err := protocol.Wrap(protocol.MsgDeviceList, protocol.DeviceListPayload{Devices: d.enrichedDeviceList()})
	if err != nil {
		return
	}
	d.broadcast(data)
}

// enrichedDeviceList attaches an alias (keyed by IDN) to every device
// entry SessionManager reports.
func (d *Dispatcher) enrichedDeviceList() []protocol.DeviceListEntry {
	entries := d.devices.ListDevices()
	aliases := d.aliases.List()
	out := make([]protocol.DeviceListEntry, len(entries))
	for i, e := range entries {
		if alias, ok := aliases[e.DeviceInfo.IDN()]; ok {
			e.Alias = alias
		}
		out[i] = e
	}
	return out
}

// codeOf extracts a stable wire error code from err if it implements
// protocol.CodedError (a routing or domain violation), otherwise falls
// back to the handler-specific *_FAILED code for an opaque driver error.
func codeOf(err error, fallback string) string {
	if ce, ok := err.(protocol.CodedError); ok {
		return ce.ErrorCode()
	}
	return fallback
}

func decode(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}

// handlerFunc is the shape of every entry in the dispatch table: built as
// a method expression on Dispatcher so the table itself is a flat
// literal keyed by message type, rather than a pile of closures.
type handlerFunc func(d *Dispatcher, sender Sender, clientID string, raw []byte)

var handlers = map[string]handlerFunc{
	protocol.MsgGetDevices:  (*Dispatcher).handleGetDevices,
	protocol.MsgScan:        (*Dispatcher).handleScan,
	protocol.MsgSubscribe:   (*Dispatcher).handleSubscribe,
	protocol.MsgUnsubscribe: (*Dispatcher).handleUnsubscribe,
	protocol.MsgSetMode:     (*Dispatcher).handleSetMode,
	protocol.MsgSetOutput:   (*Dispatcher).handleSetOutput,
	protocol.MsgSetValue:    (*Dispatcher).handleSetValue,
	protocol.MsgStartList:   (*Dispatcher).handleNotImplemented,
	protocol.MsgStopList:    (*Dispatcher).handleNotImplemented,

	protocol.MsgScopeRun:            (*Dispatcher).handleScopeRun,
	protocol.MsgScopeStop:           (*Dispatcher).handleScopeStop,
	protocol.MsgScopeSingle:         (*Dispatcher).handleScopeSingle,
	protocol.MsgScopeAutoSetup:      (*Dispatcher).handleScopeAutoSetup,
	protocol.MsgScopeGetWaveform:    (*Dispatcher).handleScopeGetWaveform,
	protocol.MsgScopeGetMeasurement: (*Dispatcher).handleScopeGetMeasurement,
	protocol.MsgScopeGetScreenshot:  (*Dispatcher).handleScopeGetScreenshot,
	protocol.MsgScopeSetChannel:     (*Dispatcher).handleScopeSetChannel,
	protocol.MsgScopeSetTimebase:    (*Dispatcher).handleScopeSetTimebase,
	protocol.MsgScopeSetTrigger:     (*Dispatcher).handleScopeSetTrigger,
	protocol.MsgScopeStartStreaming: (*Dispatcher).handleScopeStartStreaming,
	protocol.MsgScopeStopStreaming:  (*Dispatcher).handleScopeStopStreaming,

	protocol.MsgSequenceLibraryList:   (*Dispatcher).handleSequenceLibraryList,
	protocol.MsgSequenceLibrarySave:   (*Dispatcher).handleSequenceLibrarySave,
	protocol.MsgSequenceLibraryUpdate: (*Dispatcher).handleSequenceLibraryUpdate,
	protocol.MsgSequenceLibraryDelete: (*Dispatcher).handleSequenceLibraryDelete,
	protocol.MsgSequenceRun:           (*Dispatcher).handleSequenceRun,
	protocol.MsgSequenceAbort:         (*Dispatcher).handleSequenceAbort,
	protocol.MsgSequencePause:         (*Dispatcher).handleSequencePause,
	protocol.MsgSequenceResume:        (*Dispatcher).handleSequenceResume,

	protocol.MsgTriggerScriptLibraryList:   (*Dispatcher).handleTriggerScriptLibraryList,
	protocol.MsgTriggerScriptLibrarySave:   (*Dispatcher).handleTriggerScriptLibrarySave,
	protocol.MsgTriggerScriptLibraryUpdate: (*Dispatcher).handleTriggerScriptLibraryUpdate,
	protocol.MsgTriggerScriptLibraryDelete: (*Dispatcher).handleTriggerScriptLibraryDelete,
	protocol.MsgTriggerScriptRun:           (*Dispatcher).handleTriggerScriptRun,
	protocol.MsgTriggerScriptStop:          (*Dispatcher).handleTriggerScriptStop,
	protocol.MsgTriggerScriptPause:         (*Dispatcher).handleTriggerScriptPause,
	protocol.MsgTriggerScriptResume:        (*Dispatcher).handleTriggerScriptResume,

	protocol.MsgDeviceAliasList:  (*Dispatcher).handleDeviceAliasList,
	protocol.MsgDeviceAliasSet:   (*Dispatcher).handleDeviceAliasSet,
	protocol.MsgDeviceAliasClear: (*Dispatcher).handleDeviceAliasClear,
	protocol.MsgSettingsExport:   (*Dispatcher).handleSettingsExport,
	protocol.MsgSettingsImport:   (*Dispatcher).handleSettingsImport,
}

func (d *Dispatcher) handleNotImplemented(sender Sender, clientID string, raw []byte) {
	var req struct {
		DeviceID string `json:"deviceId"`
	}
	_ = decode(raw, &req)
	d.sendError(sender, clientID, req.DeviceID, protocol.ErrNotImplemented, "startList/stopList are reserved but not implemented")
}
