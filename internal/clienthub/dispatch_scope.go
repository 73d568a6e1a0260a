package clienthub

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

type deviceIDRequest struct {
	DeviceID string `json:"deviceId"`
}

func (d *Dispatcher) handleScopeRun(sender Sender, clientID string, raw []byte) {
	var req deviceIDRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.devices.ScopeRun(ctx, req.DeviceID); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrScopeRunFailed), err.Error())
	}
}

func (d *Dispatcher) handleScopeStop(sender Sender, clientID string, raw []byte) {
	var req deviceIDRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.devices.ScopeStop(ctx, req.DeviceID); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrScopeStopFailed), err.Error())
	}
}

func (d *Dispatcher) handleScopeSingle(sender Sender, clientID string, raw []byte) {
	var req deviceIDRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.devices.ScopeSingle(ctx, req.DeviceID); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrScopeSingleFailed), err.Error())
	}
}

func (d *Dispatcher) handleScopeAutoSetup(sender Sender, clientID string, raw []byte) {
	var req deviceIDRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.devices.ScopeAutoSetup(ctx, req.DeviceID); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrScopeAutoSetupFailed), err.Error())
	}
}

type scopeChannelRequest struct {
	DeviceID string `json:"deviceId"`
	Channel  string `json:"channel"`
}

func (d *Dispatcher) handleScopeGetWaveform(sender Sender, clientID string, raw []byte) {
	var req scopeChannelRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	wave, err := d.devices.ScopeGetWaveform(ctx, req.DeviceID, req.Channel)
	if err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrScopeWaveformFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgScopeWaveform, struct {
		DeviceID string               `json:"deviceId"`
		Waveform protocol.WaveformData `json:"waveform"`
	}{req.DeviceID, wave})
}

type scopeMeasurementRequest struct {
	DeviceID        string `json:"deviceId"`
	Channel         string `json:"channel"`
	MeasurementType string `json:"measurementType"`
}

func (d *Dispatcher) handleScopeGetMeasurement(sender Sender, clientID string, raw []byte) {
	var req scopeMeasurementRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	value, err := d.devices.ScopeGetMeasurement(ctx, req.DeviceID, req.Channel, req.MeasurementType)
	if err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrScopeMeasurementFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgScopeMeasurement, struct {
		DeviceID        string  `json:"deviceId"`
		Channel         string  `json:"channel"`
		MeasurementType string  `json:"measurementType"`
		Value           float64 `json:"value"`
	}{req.DeviceID, req.Channel, req.MeasurementType, value})
}

func (d *Dispatcher) handleScopeGetScreenshot(sender Sender, clientID string, raw []byte) {
	var req deviceIDRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	png, err := d.devices.ScopeGetScreenshot(ctx, req.DeviceID)
	if err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrScopeScreenshotFailed), err.Error())
		return
	}
	d.reply(sender, clientID, protocol.MsgScopeScreenshot, struct {
		DeviceID string `json:"deviceId"`
		PNGBase64 string `json:"pngBase64"`
	}{req.DeviceID, base64.StdEncoding.EncodeToString(png)})
}

type scopeSetChannelRequest struct {
	DeviceID string                `json:"deviceId"`
	Channel  string                `json:"channel"`
	Config   protocol.ChannelConfig `json:"config"`
}

func (d *Dispatcher) handleScopeSetChannel(sender Sender, clientID string, raw []byte) {
	var req scopeSetChannelRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.devices.ScopeSetChannel(ctx, req.DeviceID, req.Channel, req.Config); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrScopeConfigFailed), err.Error())
	}
}

type scopeSetTimebaseRequest struct {
	DeviceID      string  `json:"deviceId"`
	SecondsPerDiv float64 `json:"secondsPerDiv"`
}

func (d *Dispatcher) handleScopeSetTimebase(sender Sender, clientID string, raw []byte) {
	var req scopeSetTimebaseRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.devices.ScopeSetTimebase(ctx, req.DeviceID, req.SecondsPerDiv); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrScopeConfigFailed), err.Error())
	}
}

type scopeSetTriggerRequest struct {
	DeviceID string                 `json:"deviceId"`
	Params   map[string]interface{} `json:"params"`
}

func (d *Dispatcher) handleScopeSetTrigger(sender Sender, clientID string, raw []byte) {
	var req scopeSetTriggerRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := d.devices.ScopeSetTrigger(ctx, req.DeviceID, req.Params); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrScopeConfigFailed), err.Error())
	}
}

type scopeStartStreamingRequest struct {
	DeviceID         string   `json:"deviceId"`
	Channels         []string `json:"channels"`
	IntervalMs       int      `json:"intervalMs"`
	MeasurementTypes []string `json:"measurementTypes"`
}

func (d *Dispatcher) handleScopeStartStreaming(sender Sender, clientID string, raw []byte) {
	var req scopeStartStreamingRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	interval := time.Duration(req.IntervalMs) * time.Millisecond
	if err := d.devices.ScopeStartStreaming(ctx, req.DeviceID, req.Channels, interval, req.MeasurementTypes); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrScopeStreamFailed), err.Error())
	}
}

func (d *Dispatcher) handleScopeStopStreaming(sender Sender, clientID string, raw []byte) {
	var req deviceIDRequest
	if err := decode(raw, &req); err != nil {
		d.sendError(sender, clientID, "", protocol.ErrInvalidMessage, err.Error())
		return
	}
	if err := d.devices.ScopeStopStreaming(req.DeviceID); err != nil {
		d.sendError(sender, clientID, req.DeviceID, codeOf(err, protocol.ErrScopeStreamFailed), err.Error())
	}
}
