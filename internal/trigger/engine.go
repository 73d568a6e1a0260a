// Package trigger implements the trigger script engine: a process-wide
// singleton that evaluates value/time conditions against live
// measurements and dispatches actions against devices and sequences. Its
// pause semantics reuse the same channel-close-to-resume gate as
// internal/sequence, since both engines need to suspend a background
// evaluation loop without tearing down its subscriptions.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/multiverse-labs/labctl/internal/eventbus"
	"github.com/multiverse-labs/labctl/internal/pausegate"
	"github.com/multiverse-labs/labctl/internal/protocol"
)

// tickInterval is the coarse ticker period driving time-conditions and
// elapsed-time evaluation.
const tickInterval = 100 * time.Millisecond

// Setter is the narrow slice of SessionManager the engine dispatches
// setValue/setOutput actions against.
type Setter interface {
	SetValue(ctx context.Context, deviceID, name string, value float64, immediate bool) error
	SetOutput(ctx context.Context, deviceID string, enabled bool) error
}

// SessionSubscriber is the narrow slice of SessionManager the engine
// uses to watch live measurements with a synthetic client id.
type SessionSubscriber interface {
	Subscribe(deviceID, clientID string, sink eventbus.Func) error
	Unsubscribe(deviceID, clientID string) error
}

// SequenceController is the narrow slice of the sequence engine that
// startSequence/stopSequence/pauseSequence actions dispatch against.
type SequenceController interface {
	Run(ctx context.Context, cfg protocol.SequenceRunConfig) error
	Abort(ctx context.Context)
	Pause()
}

// Library is the trigger-script persistence boundary.
type Library interface {
	List() ([]protocol.TriggerScript, error)
	Get(id string) (protocol.TriggerScript, error)
	Save(s protocol.TriggerScript) (string, error)
	Update(s protocol.TriggerScript) error
	Delete(id string) error
}

// Error reports a domain violation (already running, unknown script id).
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// ErrorCode satisfies protocol.CodedError.
func (e *Error) ErrorCode() string { return e.Code }

type activeScript struct {
	mu        sync.Mutex
	script    protocol.TriggerScript
	states    map[string]*protocol.TriggerState
	execState protocol.TriggerScriptExecutionState
	startedAt time.Time

	gate    *pausegate.Gate
	cancel  context.CancelFunc
	done    chan struct{}
	devices []string
	clientID string
}

func (a *activeScript) stateOf(triggerID string) *protocol.TriggerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.states[triggerID]
}

// Engine is the trigger script engine.
type Engine struct {
	mu       sync.Mutex
	subs     *eventbus.Subscribers
	setter   Setter
	sessions SessionSubscriber
	seq      SequenceController
	lib      Library

	active *activeScript
}

// New constructs an idle Engine.
func New(setter Setter, sessions SessionSubscriber, seq SequenceController, lib Library) *Engine {
	return &Engine{
		subs:     eventbus.NewSubscribers(),
		setter:   setter,
		sessions: sessions,
		seq:      seq,
		lib:      lib,
	}
}

func (e *Engine) Subscribe(clientID string, sink eventbus.Func) { e.subs.Subscribe(clientID, sink) }
func (e *Engine) Unsubscribe(clientID string)                   { e.subs.Unsubscribe(clientID) }

func (e *Engine) broadcast(msgType string, payload interface{}) {
	data, err := protocol.Wrap(msgType, payload)
	if err != nil {
		return
	}
	e.subs.Broadcast(data)
}

// Run activates scriptID. Rejects with ALREADY_RUNNING if another
// script is already active.
func (e *Engine) Run(ctx context.Context, scriptID string) error {
	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return &Error{Code: protocol.ErrSequenceAlreadyRunning, Message: "a trigger script is already running"}
	}
	script, err := e.lib.Get(scriptID)
	if err != nil {
		e.mu.Unlock()
		return &Error{Code: protocol.ErrTriggerScriptRunFailed, Message: err.Error()}
	}

	states := make(map[string]*protocol.TriggerState, len(script.Triggers))
	for _, tr := range script.Triggers {
		states[tr.ID] = &protocol.TriggerState{TriggerID: tr.ID}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a := &activeScript{
		script:    script,
		states:    states,
		execState: protocol.TriggerScriptRunning,
		startedAt: time.Now(),
		gate:      pausegate.New(),
		cancel:    cancel,
		done:      make(chan struct{}),
		clientID:  "trigger-engine:" + scriptID,
	}
	e.active = a
	e.mu.Unlock()

	for _, deviceID := range distinctValueDeviceIDs(script) {
		devID := deviceID
		if err := e.sessions.Subscribe(devID, a.clientID, func(msg interface{}) {
			e.onMeasurement(runCtx, a, devID, msg)
		}); err == nil {
			a.devices = append(a.devices, devID)
		}
	}

	go e.timeLoop(runCtx, a)
	e.broadcast(protocol.MsgTriggerScriptStarted, struct {
		ScriptID string `json:"scriptId"`
	}{scriptID})
	return nil
}

func distinctValueDeviceIDs(script protocol.TriggerScript) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tr := range script.Triggers {
		if tr.Condition.Type != protocol.ConditionValue {
			continue
		}
		if !seen[tr.Condition.DeviceID] {
			seen[tr.Condition.DeviceID] = true
			out = append(out, tr.Condition.DeviceID)
		}
	}
	return out
}

// onMeasurement is the sink installed for every distinct device a
// value-condition references. It decodes the generic session message
// and, for measurement frames, evaluates every value-condition on this
// device against the update.
func (e *Engine) onMeasurement(ctx context.Context, a *activeScript, deviceID string, msg interface{}) {
	data, ok := msg.([]byte)
	if !ok {
		return
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type != protocol.MsgMeasurement {
		return
	}
	var payload protocol.MeasurementPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	now := time.Now()
	for _, tr := range a.script.Triggers {
		if tr.Condition.Type != protocol.ConditionValue || tr.Condition.DeviceID != deviceID {
			continue
		}
		measured, ok := payload.Update.Measurements[tr.Condition.Parameter]
		if !ok {
			continue
		}
		met := tr.Condition.Evaluate(measured)
		e.applyEdge(ctx, a, tr, met, now)
	}
}

// timeLoop drives time-conditions on a coarse ticker and is also the
// natural place to evaluate elapsed-time reporting.
func (e *Engine) timeLoop(ctx context.Context, a *activeScript) {
	defer close(a.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsedSeconds := now.Sub(a.startedAt).Seconds()
			for _, tr := range a.script.Triggers {
				if tr.Condition.Type != protocol.ConditionTime {
					continue
				}
				met := elapsedSeconds >= tr.Condition.Seconds
				e.applyEdge(ctx, a, tr, met, now)
			}
		}
	}
}

// applyEdge implements edge-triggering, debounce, and repeat-mode
// capping uniformly for value- and time-conditions.
// Evaluation is skipped entirely while paused, but ConditionMet is
// still left unmodified so the edge is re-detected correctly on resume.
func (e *Engine) applyEdge(ctx context.Context, a *activeScript, tr protocol.Trigger, met bool, now time.Time) {
	if a.gate.IsPaused() {
		return
	}

	state := a.stateOf(tr.ID)
	if state == nil {
		return
	}

	a.mu.Lock()
	prevMet := state.ConditionMet
	edge := met && !prevMet
	debounceOK := state.LastFiredAt == 0 || now.UnixMilli()-state.LastFiredAt >= int64(tr.DebounceMs)
	repeatOK := !(tr.RepeatMode == protocol.RepeatOnce && state.FiredCount >= 1)
	shouldFire := edge && debounceOK && repeatOK
	state.ConditionMet = met
	a.mu.Unlock()

	if !shouldFire {
		return
	}

	if err := e.dispatchAction(ctx, tr.Action); err != nil {
		e.broadcast(protocol.MsgTriggerActionFailed, protocol.TriggerActionFailedPayload{
			TriggerID: tr.ID,
			Message:   err.Error(),
		})
		return
	}

	a.mu.Lock()
	state.FiredCount++
	state.LastFiredAt = now.UnixMilli()
	snapshot := *state
	a.mu.Unlock()

	e.broadcast(protocol.MsgTriggerFired, protocol.TriggerFiredPayload{TriggerID: tr.ID, State: snapshot})
}

func (e *Engine) dispatchAction(ctx context.Context, action protocol.TriggerAction) error {
	switch {
	case action.SetValue != nil:
		return e.setter.SetValue(ctx, action.SetValue.DeviceID, action.SetValue.Name, action.SetValue.Value, true)
	case action.SetOutput != nil:
		return e.setter.SetOutput(ctx, action.SetOutput.DeviceID, action.SetOutput.Enabled)
	case action.StartSequence != nil:
		return e.seq.Run(ctx, *action.StartSequence)
	case action.StopSequence != nil:
		e.seq.Abort(ctx)
		return nil
	case action.PauseSequence != nil:
		e.seq.Pause()
		return nil
	default:
		return fmt.Errorf("trigger: action has no recognized variant")
	}
}

// Stop unsubscribes from every source and clears the active script.
func (e *Engine) Stop() {
	e.mu.Lock()
	a := e.active
	if a != nil {
		e.active = nil
	}
	e.mu.Unlock()
	if a == nil {
		return
	}

	a.cancel()
	<-a.done
	for _, deviceID := range a.devices {
		_ = e.sessions.Unsubscribe(deviceID, a.clientID)
	}
	e.broadcast(protocol.MsgTriggerScriptStopped, struct {
		ScriptID string `json:"scriptId"`
	}{a.script.ID})
}

// Pause suspends condition evaluation without unsubscribing.
func (e *Engine) Pause() {
	e.mu.Lock()
	a := e.active
	e.mu.Unlock()
	if a == nil {
		return
	}
	a.gate.Pause()
	a.mu.Lock()
	a.execState = protocol.TriggerScriptPaused
	a.mu.Unlock()
	e.broadcast(protocol.MsgTriggerScriptPaused, struct {
		ScriptID string `json:"scriptId"`
	}{a.script.ID})
}

// Resume re-enables condition evaluation.
func (e *Engine) Resume() {
	e.mu.Lock()
	a := e.active
	e.mu.Unlock()
	if a == nil {
		return
	}
	a.gate.Resume()
	a.mu.Lock()
	a.execState = protocol.TriggerScriptRunning
	a.mu.Unlock()
	e.broadcast(protocol.MsgTriggerScriptResumed, struct {
		ScriptID string `json:"scriptId"`
	}{a.script.ID})
}

// TriggerStates returns a snapshot of every trigger's runtime state for
// the active script, or nil if nothing is running.
func (e *Engine) TriggerStates() map[string]protocol.TriggerState {
	e.mu.Lock()
	a := e.active
	e.mu.Unlock()
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]protocol.TriggerState, len(a.states))
	for id, s := range a.states {
		out[id] = *s
	}
	return out
}

func (e *Engine) ListLibrary() ([]protocol.TriggerScript, error)    { return e.lib.List() }
func (e *Engine) GetFromLibrary(id string) (protocol.TriggerScript, error) { return e.lib.Get(id) }
func (e *Engine) SaveToLibrary(s protocol.TriggerScript) (string, error)   { return e.lib.Save(s) }
func (e *Engine) UpdateInLibrary(s protocol.TriggerScript) error           { return e.lib.Update(s) }
func (e *Engine) DeleteFromLibrary(id string) error                       { return e.lib.Delete(id) }
