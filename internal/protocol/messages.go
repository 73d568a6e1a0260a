package protocol

// Message type tags, both inbound (client -> server) and outbound
// (server -> client). Centralized here because session, sequence,
// trigger and clienthub packages all need the same vocabulary to agree
// on what a frame's "type" field means.
const (
	// Inbound: devices
	MsgGetDevices  = "getDevices"
	MsgScan        = "scan"
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgSetMode     = "setMode"
	MsgSetOutput   = "setOutput"
	MsgSetValue    = "setValue"
	MsgStartList   = "startList"
	MsgStopList    = "stopList"

	// Inbound: oscilloscope
	MsgScopeRun             = "scopeRun"
	MsgScopeStop            = "scopeStop"
	MsgScopeSingle          = "scopeSingle"
	MsgScopeAutoSetup       = "scopeAutoSetup"
	MsgScopeGetWaveform     = "scopeGetWaveform"
	MsgScopeGetMeasurement  = "scopeGetMeasurement"
	MsgScopeGetScreenshot   = "scopeGetScreenshot"
	MsgScopeSetChannel      = "scopeSetChannel"
	MsgScopeSetTimebase     = "scopeSetTimebase"
	MsgScopeSetTrigger      = "scopeSetTrigger"
	MsgScopeStartStreaming  = "scopeStartStreaming"
	MsgScopeStopStreaming   = "scopeStopStreaming"

	// Inbound: sequences & scripts
	MsgSequenceLibraryList   = "sequenceLibraryList"
	MsgSequenceLibrarySave   = "sequenceLibrarySave"
	MsgSequenceLibraryUpdate = "sequenceLibraryUpdate"
	MsgSequenceLibraryDelete = "sequenceLibraryDelete"
	MsgSequenceRun           = "sequenceRun"
	MsgSequenceAbort         = "sequenceAbort"
	MsgSequencePause         = "sequencePause"
	MsgSequenceResume        = "sequenceResume"

	MsgTriggerScriptLibraryList   = "triggerScriptLibraryList"
	MsgTriggerScriptLibrarySave   = "triggerScriptLibrarySave"
	MsgTriggerScriptLibraryUpdate = "triggerScriptLibraryUpdate"
	MsgTriggerScriptLibraryDelete = "triggerScriptLibraryDelete"
	MsgTriggerScriptRun           = "triggerScriptRun"
	MsgTriggerScriptStop          = "triggerScriptStop"
	MsgTriggerScriptPause         = "triggerScriptPause"
	MsgTriggerScriptResume        = "triggerScriptResume"

	// Inbound: aliases & settings
	MsgDeviceAliasList  = "deviceAliasList"
	MsgDeviceAliasSet   = "deviceAliasSet"
	MsgDeviceAliasClear = "deviceAliasClear"
	MsgSettingsExport   = "settingsExport"
	MsgSettingsImport   = "settingsImport"

	// Outbound
	MsgDeviceList        = "deviceList"
	MsgSubscribed        = "subscribed"
	MsgUnsubscribed      = "unsubscribed"
	MsgMeasurement       = "measurement"
	MsgField             = "field"
	MsgError             = "error"
	MsgScopeWaveform     = "scopeWaveform"
	MsgScopeMeasurement  = "scopeMeasurement"
	MsgScopeScreenshot   = "scopeScreenshot"
	MsgScopeStatus       = "scopeStatus"

	MsgSequenceStarted   = "sequenceStarted"
	MsgSequenceProgress  = "sequenceProgress"
	MsgSequenceCompleted = "sequenceCompleted"
	MsgSequenceAborted   = "sequenceAborted"
	MsgSequenceError     = "sequenceError"
	MsgSequenceLibrary   = "sequenceLibrary"

	MsgTriggerFired           = "triggerFired"
	MsgTriggerActionFailed    = "triggerActionFailed"
	MsgTriggerScriptStarted   = "triggerScriptStarted"
	MsgTriggerScriptStopped  = "triggerScriptStopped"
	MsgTriggerScriptPaused    = "triggerScriptPaused"
	MsgTriggerScriptResumed   = "triggerScriptResumed"
	MsgTriggerScriptLibrary   = "triggerScriptLibrary"

	MsgDeviceAliases      = "deviceAliases"
	MsgDeviceAliasChanged = "deviceAliasChanged"
	MsgSettingsExported   = "settingsExported"
	MsgSettingsImported   = "settingsImported"
)

// MeasurementUpdate is the payload of a {type:'measurement'} frame.
type MeasurementUpdate struct {
	Timestamp    int64              `json:"timestamp"`
	Measurements map[string]float64 `json:"measurements"`
}

type MeasurementPayload struct {
	DeviceID string            `json:"deviceId"`
	Update   MeasurementUpdate `json:"update"`
}

// FieldPayload is the payload of a {type:'field'} frame: one changed
// field on a device's session state.
type FieldPayload struct {
	DeviceID string      `json:"deviceId"`
	Field    string      `json:"field"`
	Value    interface{} `json:"value"`
}

// SubscribedPayload is sent once, immediately, to a newly subscribed
// client: the full current state snapshot.
type SubscribedPayload struct {
	DeviceID string      `json:"deviceId"`
	State    interface{} `json:"state"`
}

type UnsubscribedPayload struct {
	DeviceID string `json:"deviceId"`
}

// DeviceListEntry is one row of a {type:'deviceList'} frame, alias-enriched.
type DeviceListEntry struct {
	DeviceInfo
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	Alias            string           `json:"alias,omitempty"`
}

type DeviceListPayload struct {
	Devices []DeviceListEntry `json:"devices"`
}

// SequenceStartedPayload is the payload of a {type:'sequenceStarted'} frame.
type SequenceStartedPayload struct {
	State SequenceState `json:"state"`
}

// SequenceProgressPayload is emitted on every tick.
type SequenceProgressPayload struct {
	State SequenceState `json:"state"`
}

// SequenceCompletedPayload marks a cycle-limited run finishing normally.
type SequenceCompletedPayload struct {
	SequenceID string `json:"sequenceId"`
}

// SequenceAbortedPayload marks an operator- or trigger-initiated abort.
type SequenceAbortedPayload struct {
	SequenceID string `json:"sequenceId"`
}

// SequenceErrorPayload reports a driver failure that halted the run.
type SequenceErrorPayload struct {
	SequenceID string `json:"sequenceId"`
	Message    string `json:"message"`
}

// SequenceLibraryPayload answers sequenceLibraryList/Save/Update/Delete.
type SequenceLibraryPayload struct {
	Sequences []SequenceDefinition `json:"sequences,omitempty"`
	Sequence  *SequenceDefinition  `json:"sequence,omitempty"`
	ID        string                `json:"id,omitempty"`
}

// TriggerFiredPayload is the payload of a {type:'triggerFired'} frame.
type TriggerFiredPayload struct {
	TriggerID string       `json:"triggerId"`
	State     TriggerState `json:"state"`
}

// TriggerActionFailedPayload reports an action that failed to apply.
type TriggerActionFailedPayload struct {
	TriggerID string `json:"triggerId"`
	Message   string `json:"message"`
}

// TriggerScriptLibraryPayload answers triggerScriptLibraryList/Save/Update/Delete.
type TriggerScriptLibraryPayload struct {
	Scripts []TriggerScript `json:"scripts,omitempty"`
	Script  *TriggerScript  `json:"script,omitempty"`
	ID      string          `json:"id,omitempty"`
}

// DeviceAliasesPayload answers deviceAliasList.
type DeviceAliasesPayload struct {
	Aliases map[string]string `json:"aliases"`
}

// DeviceAliasChangedPayload is broadcast whenever deviceAliasSet/Clear
// mutates the alias store.
type DeviceAliasChangedPayload struct {
	IDN   string `json:"idn"`
	Alias string `json:"alias,omitempty"`
}

// SettingsDocument is the single exportable/importable bundle of all
// three persisted namespaces.
type SettingsDocument struct {
	Sequences      []SequenceDefinition `json:"sequences"`
	TriggerScripts []TriggerScript      `json:"triggerScripts"`
	Aliases        map[string]string    `json:"aliases"`
}
