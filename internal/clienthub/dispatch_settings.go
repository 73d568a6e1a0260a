package clienthub

import (
	"github.com/multiverse-labs/labctl/internal/protocol"
)

func (d *Dispatcher) handleDeviceAliasList(sender Sender, clientID string, raw []byte) {
	d.reply(sender, clientID, protocol.MsgDeviceAliases, protocol.DeviceAliasesPayload{Aliases: d.aliases.List()})
}

type deviceAliasSetRequest struct {
	IDN   string `json:"idn"`
	Alias string `json:"alias"`
}

func (d *Dispatcher) handleDeviceAliasSet(sender Sender, clientID string, raw []byte) {
	var req deviceAliasSetRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	if err := d.aliases.Set(req.IDN, req.Alias); err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrDeviceAliasSetFailed), err.Error())
		return
	}
	d.broadcast(mustWrapLocal(protocol.MsgDeviceAliasChanged, protocol.DeviceAliasChangedPayload{IDN: req.IDN, Alias: req.Alias}))
	d.broadcastDeviceList()
}

type deviceAliasClearRequest struct {
	IDN string `json:"idn"`
}

func (d *Dispatcher) handleDeviceAliasClear(sender Sender, clientID string, raw []byte) {
	var req deviceAliasClearRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	if err := d.aliases.Clear(req.IDN); err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrDeviceAliasClearFailed), err.Error())
		return
	}
	d.broadcast(mustWrapLocal(protocol.MsgDeviceAliasChanged, protocol.DeviceAliasChangedPayload{IDN: req.IDN}))
	d.broadcastDeviceList()
}

func (d *Dispatcher) handleSettingsExport(sender Sender, clientID string, raw []byte) {
	doc, err := d.settings.Export()
	if err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrSettingsExportFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgSettingsExported, doc)
}

type settingsImportRequest struct {
	Document protocol.SettingsDocument `json:"document"`
}

// handleSettingsImport imports the whole bundle atomically: the store's
// Import is all-or-nothing, so a failure here leaves every namespace
// untouched.
func (d *Dispatcher) handleSettingsImport(sender Sender, clientID string, raw []byte) {
	var req settingsImportRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	if err := d.settings.Import(req.Document); err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrSettingsImportFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgSettingsImported, struct{}{})
	d.broadcastDeviceList()
}

// mustWrapLocal wraps a payload, discarding a marshal error by returning
// nil (broadcast silently drops a nil frame the same way Engine's
// mustWrap does).
func mustWrapLocal(msgType string, payload interface{}) []byte {
	data, err := protocol.Wrap(msgType, payload)
	if err != nil {
		return nil
	}
	return data
}
