// Package protocol defines the client<->server wire messages for labctl:
// a framed JSON protocol discriminated by a "type" field, plus the stable
// error code vocabulary used in error replies.
package protocol

import (
	"encoding/json"
	"fmt"
)

// DeviceClass enumerates the instrument categories the server understands.
type DeviceClass string

const (
	ClassPSU         DeviceClass = "psu"
	ClassLoad        DeviceClass = "load"
	ClassOscilloscope DeviceClass = "oscilloscope"
	ClassAWG         DeviceClass = "awg"
)

// DeviceType mirrors DeviceInfo.Type in the data model.
type DeviceType string

const (
	TypePowerSupply    DeviceType = "power-supply"
	TypeElectronicLoad DeviceType = "electronic-load"
	TypeOscilloscope   DeviceType = "oscilloscope"
)

// ConnectionStatus enumerates session connection states.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Error codes: stable strings carried on the wire.
const (
	ErrInvalidMessage       = "INVALID_MESSAGE"
	ErrUnknownMessageType   = "UNKNOWN_MESSAGE_TYPE"
	ErrDeviceNotFound       = "DEVICE_NOT_FOUND"
	ErrWrongDeviceType      = "WRONG_DEVICE_TYPE"
	ErrSubscribeFailed      = "SUBSCRIBE_FAILED"
	ErrSetModeFailed        = "SET_MODE_FAILED"
	ErrSetOutputFailed      = "SET_OUTPUT_FAILED"
	ErrSetValueFailed       = "SET_VALUE_FAILED"
	ErrScopeRunFailed       = "SCOPE_RUN_FAILED"
	ErrScopeStopFailed      = "SCOPE_STOP_FAILED"
	ErrScopeSingleFailed    = "SCOPE_SINGLE_FAILED"
	ErrScopeAutoSetupFailed = "SCOPE_AUTOSETUP_FAILED"
	ErrScopeWaveformFailed  = "SCOPE_WAVEFORM_FAILED"
	ErrScopeMeasurementFailed = "SCOPE_MEASUREMENT_FAILED"
	ErrScopeScreenshotFailed  = "SCOPE_SCREENSHOT_FAILED"
	ErrScopeConfigFailed      = "SCOPE_CONFIG_FAILED"
	ErrScopeStreamFailed      = "SCOPE_STREAM_FAILED"
	ErrSequenceNotAvailable = "SEQUENCE_NOT_AVAILABLE"
	ErrSequenceSaveFailed   = "SEQUENCE_SAVE_FAILED"
	ErrSequenceUpdateFailed = "SEQUENCE_UPDATE_FAILED"
	ErrSequenceDeleteFailed = "SEQUENCE_DELETE_FAILED"
	ErrSequenceRunFailed    = "SEQUENCE_RUN_FAILED"
	ErrSequenceAlreadyRunning = "ALREADY_RUNNING"
	ErrTriggerScriptSaveFailed   = "TRIGGER_SCRIPT_SAVE_FAILED"
	ErrTriggerScriptUpdateFailed = "TRIGGER_SCRIPT_UPDATE_FAILED"
	ErrTriggerScriptDeleteFailed = "TRIGGER_SCRIPT_DELETE_FAILED"
	ErrTriggerScriptRunFailed    = "TRIGGER_SCRIPT_RUN_FAILED"
	ErrTriggerScriptStopFailed   = "TRIGGER_SCRIPT_STOP_FAILED"
	ErrDeviceAliasSetFailed   = "DEVICE_ALIAS_SET_FAILED"
	ErrDeviceAliasClearFailed = "DEVICE_ALIAS_CLEAR_FAILED"
	ErrSettingsExportFailed = "SETTINGS_EXPORT_FAILED"
	ErrSettingsImportFailed = "SETTINGS_IMPORT_FAILED"
	ErrNotImplemented       = "NOT_IMPLEMENTED"
	ErrTransportDisconnected = "TRANSPORT_DISCONNECTED"
)

// ClientEnvelope carries minimal per-frame metadata for inbound messages.
// Unlike a service-to-service envelope, the hub always knows which socket
// a frame arrived on, so no Source routing field is needed here.
type ClientEnvelope struct {
	Type string `json:"type"`
}

// ParseType decodes just enough of a raw frame to dispatch on Type.
func ParseType(data []byte) (string, error) {
	var env ClientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("parse frame: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("frame missing \"type\"")
	}
	return env.Type, nil
}

// ServerMessage is the outbound envelope: {type, ...fields}. Handlers build
// one of the typed payloads below and marshal it with Type set via
// composition (each payload embeds no envelope; Wrap adds it).
type ServerMessage struct {
	Type string `json:"type"`
	Payload interface{} `json:"-"`
}

// Wrap merges a type tag with a payload struct into one JSON object by
// marshaling the payload and injecting "type" into the resulting map —
// a single flat JSON object per frame, not an envelope/payload pair.
func Wrap(msgType string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	typeBytes, _ := json.Marshal(msgType)
	m["type"] = typeBytes
	return json.Marshal(m)
}

// CodedError is implemented by the domain error types in sessionmgr,
// sequence, and trigger so ClientHub can extract a stable wire error code
// without importing each package's concrete error type.
type CodedError interface {
	error
	ErrorCode() string
}

// ErrorPayload is the {type:'error', ...} server message.
type ErrorPayload struct {
	DeviceID string `json:"deviceId,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}
