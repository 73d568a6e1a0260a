package clienthub

import (
	"context"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

// handleGetDevices replies with the alias-enriched device list, the
// getDevices -> deviceList round trip.
func (d *Dispatcher) handleGetDevices(sender Sender, clientID string, raw []byte) {
	d.reply(sender, clientID, protocol.MsgDeviceList, protocol.DeviceListPayload{Devices: d.enrichedDeviceList()})
}

// handleScan triggers a fresh discovery pass and broadcasts the result to
// everyone, not just the requester, since a rescan can surface devices
// other clients care about.
func (d *Dispatcher) handleScan(sender Sender, clientID string, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	_ = d.devices.SyncDevices(ctx)
	d.broadcastDeviceList()
}

type subscribeRequest struct {
	DeviceID string `json:"deviceId"`
}

// handleSubscribe sends the current state snapshot directly to the
// requesting client before registering its callback for ongoing ticks, so
// the initial subscribed frame always arrives first. Ticks delivered
// afterward go through sender.SendTo, which queues onto that client's
// own bounded eventbus.Sink (drop-oldest plus a running Dropped count)
// rather than this call.
func (d *Dispatcher) handleSubscribe(sender Sender, clientID string, raw []byte) {
	var req subscribeRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}

	state, err := d.stateFor(req.DeviceID)
	if err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrSubscribeFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgSubscribed, protocol.SubscribedPayload{DeviceID: req.DeviceID, State: state})

	if err := d.devices.Subscribe(req.DeviceID, clientID, func(msg interface{}) {
		if data, ok := msg.([]byte); ok {
			sender.SendTo(clientID, data)
		}
	}); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrSubscribeFailed), err.Error())
		return
	}

	if cs := d.clientState(clientID); cs != nil {
		cs.addSubscription(req.DeviceID)
	}
}

// stateFor resolves either a PSU/load snapshot or an oscilloscope
// snapshot, since both answer the same subscribed{state} shape.
func (d *Dispatcher) stateFor(deviceID string) (interface{}, error) {
	if state, err := d.devices.GetState(deviceID); err == nil {
		return state, nil
	}
	return d.devices.GetScopeState(deviceID)
}

func (d *Dispatcher) handleUnsubscribe(sender Sender, clientID string, raw []byte) {
	var req subscribeRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	if err := d.devices.Unsubscribe(req.DeviceID, clientID); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrSubscribeFailed), err.Error())
		return
	}
	if cs := d.clientState(clientID); cs != nil {
		cs.removeSubscription(req.DeviceID)
	}
	d.reply(sender, clientID, protocol.MsgUnsubscribed, protocol.UnsubscribedPayload{DeviceID: req.DeviceID})
}

type setModeRequest struct {
	DeviceID string `json:"deviceId"`
	Mode     string `json:"mode"`
}

func (d *Dispatcher) handleSetMode(sender Sender, clientID string, raw []byte) {
	var req setModeRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.devices.SetMode(ctx, req.DeviceID, req.Mode); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrSetModeFailed), err.Error())
	}
}

type setOutputRequest struct {
	DeviceID string `json:"deviceId"`
	Enabled  bool   `json:"enabled"`
}

func (d *Dispatcher) handleSetOutput(sender Sender, clientID string, raw []byte) {
	var req setOutputRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.devices.SetOutput(ctx, req.DeviceID, req.Enabled); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrSetOutputFailed), err.Error())
	}
}

type setValueRequest struct {
	DeviceID  string  `json:"deviceId"`
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Immediate bool    `json:"immediate"`
}

func (d *Dispatcher) handleSetValue(sender Sender, clientID string, raw []byte) {
	var req setValueRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.devices.SetValue(ctx, req.DeviceID, req.Name, req.Value, req.Immediate); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrSetValueFailed), err.Error())
	}
}
