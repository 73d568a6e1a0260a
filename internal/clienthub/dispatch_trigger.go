package clienthub

import (
	"context"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

func (d *Dispatcher) handleTriggerScriptLibraryList(sender Sender, clientID string, raw []byte) {
	scripts, err := d.triggers.ListLibrary()
	if err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrTriggerScriptSaveFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgTriggerScriptLibrary, protocol.TriggerScriptLibraryPayload{Scripts: scripts})
}

type triggerScriptRequest struct {
	Script protocol.TriggerScript `json:"script"`
}

func (d *Dispatcher) handleTriggerScriptLibrarySave(sender Sender, clientID string, raw []byte) {
	var req triggerScriptRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	id, err := d.triggers.SaveToLibrary(req.Script)
	if err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrTriggerScriptSaveFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgTriggerScriptLibrary, protocol.TriggerScriptLibraryPayload{ID: id})
}

func (d *Dispatcher) handleTriggerScriptLibraryUpdate(sender Sender, clientID string, raw []byte) {
	var req triggerScriptRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	if err := d.triggers.UpdateInLibrary(req.Script); err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrTriggerScriptUpdateFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgTriggerScriptLibrary, protocol.TriggerScriptLibraryPayload{ID: req.Script.ID})
}

func (d *Dispatcher) handleTriggerScriptLibraryDelete(sender Sender, clientID string, raw []byte) {
	var req idRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	if err := d.triggers.DeleteFromLibrary(req.ID); err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrTriggerScriptDeleteFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgTriggerScriptLibrary, protocol.TriggerScriptLibraryPayload{ID: req.ID})
}

type triggerScriptRunRequest struct {
	ScriptID string `json:"scriptId"`
}

func (d *Dispatcher) handleTriggerScriptRun(sender Sender, clientID string, raw []byte) {
	var req triggerScriptRunRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.triggers.Run(ctx, req.ScriptID); err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrTriggerScriptRunFailed), err.Error())
	}
}

func (d *Dispatcher) handleTriggerScriptStop(sender Sender, clientID string, raw []byte) {
	d.triggers.Stop()
}

func (d *Dispatcher) handleTriggerScriptPause(sender Sender, clientID string, raw []byte) {
	d.triggers.Pause()
}

func (d *Dispatcher) handleTriggerScriptResume(sender Sender, clientID string, raw []byte) {
	d.triggers.Resume()
}
