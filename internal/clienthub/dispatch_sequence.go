package clienthub

import (
	"context"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

func (d *Dispatcher) handleSequenceLibraryList(sender Sender, clientID string, raw []byte) {
	defs, err := d.sequences.ListLibrary()
	if err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrSequenceNotAvailable), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgSequenceLibrary, protocol.SequenceLibraryPayload{Sequences: defs})
}

type sequenceDefinitionRequest struct {
	Definition protocol.SequenceDefinition `json:"definition"`
}

func (d *Dispatcher) handleSequenceLibrarySave(sender Sender, clientID string, raw []byte) {
	var req sequenceDefinitionRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	id, err := d.sequences.SaveToLibrary(req.Definition)
	if err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrSequenceSaveFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgSequenceLibrary, protocol.SequenceLibraryPayload{ID: id})
}

func (d *Dispatcher) handleSequenceLibraryUpdate(sender Sender, clientID string, raw []byte) {
	var req sequenceDefinitionRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	if err := d.sequences.UpdateInLibrary(req.Definition); err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrSequenceUpdateFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgSequenceLibrary, protocol.SequenceLibraryPayload{ID: req.Definition.ID})
}

type idRequest struct {
	ID string `json:"id"`
}

func (d *Dispatcher) handleSequenceLibraryDelete(sender Sender, clientID string, raw []byte) {
	var req idRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	if err := d.sequences.DeleteFromLibrary(req.ID); err != nil {
		d.sendError(sender, clientID, "", codeOf(err, protocol.ErrSequenceDeleteFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgSequenceLibrary, protocol.SequenceLibraryPayload{ID: req.ID})
}

func (d *Dispatcher) handleSequenceRun(sender Sender, clientID string, raw []byte) {
	var cfg protocol.SequenceRunConfig
	if err := decode(raw, &cfg); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.sequences.Run(ctx, cfg); err != nil {
		d.sendError(sender, clientID, cfg.DeviceID, codeOf(err, protocol.ErrSequenceRunFailed), err.Error())
	}
}

func (d *Dispatcher) handleSequenceAbort(sender Sender, clientID string, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	d.sequences.Abort(ctx)
}

func (d *Dispatcher) handleSequencePause(sender Sender, clientID string, raw []byte) {
	d.sequences.Pause()
}

func (d *Dispatcher) handleSequenceResume(sender Sender, clientID string, raw []byte) {
	d.sequences.Resume()
}
