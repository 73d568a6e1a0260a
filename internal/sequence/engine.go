package sequence

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/multiverse-labs/labctl/internal/eventbus"
	"github.com/multiverse-labs/labctl/internal/pausegate"
	"github.com/multiverse-labs/labctl/internal/protocol"
)

// Recorder captures a run's commanded-value-vs-time series so it can
// later be rendered as a CSV/JSON/PDF report. A nil Recorder (the
// Engine's default) means no run history is kept — report export is an
// additive feature, not a load-bearing part of running a sequence.
type Recorder interface {
	Start(runID string, cfg protocol.SequenceRunConfig)
	Point(runID string, ts time.Time, value float64)
	Finish(runID string, state protocol.SequenceExecutionState)
}

// ValueSetter is the narrow slice of SessionManager the engine needs: a
// single immediate setpoint write.
type ValueSetter interface {
	SetValue(ctx context.Context, deviceID, name string, value float64, immediate bool) error
}

// Library is the sequence-definition persistence boundary, implemented
// by internal/store against sqlite.
type Library interface {
	List() ([]protocol.SequenceDefinition, error)
	Get(id string) (protocol.SequenceDefinition, error)
	Save(def protocol.SequenceDefinition) (string, error)
	Update(def protocol.SequenceDefinition) error
	Delete(id string) error
}

// Error is returned by Engine methods for domain violations (run while
// already running, unknown sequence id, and so on).
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// ErrorCode satisfies protocol.CodedError.
func (e *Error) ErrorCode() string { return e.Code }

// activeRun is the engine's singleton run state while executionState is
// running or paused.
type activeRun struct {
	runID      string
	cfg        protocol.SequenceRunConfig
	def        protocol.SequenceDefinition
	state      protocol.SequenceState
	gate       *pausegate.Gate
	cancel     context.CancelFunc
	done       chan struct{}
	iter       stepFunc
	recorder   Recorder
	mu         sync.Mutex // guards state, read by GetState concurrently with the tick goroutine
}

func (r *activeRun) snapshot() protocol.SequenceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Engine is the sequence engine.
type Engine struct {
	mu       sync.Mutex
	subs     *eventbus.Subscribers
	setter   ValueSetter
	lib      Library
	rng      *rand.Rand
	recorder Recorder

	active *activeRun
}

// New constructs an idle Engine.
func New(setter ValueSetter, lib Library) *Engine {
	return &Engine{
		subs:   eventbus.NewSubscribers(),
		setter: setter,
		lib:    lib,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRecorder attaches a run-history recorder. Must be called before any
// Run, since the engine does not retroactively record an in-flight run.
func (e *Engine) SetRecorder(r Recorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder = r
}

// Subscribe attaches a sink for sequence lifecycle events.
func (e *Engine) Subscribe(clientID string, sink eventbus.Func) {
	e.subs.Subscribe(clientID, sink)
}

func (e *Engine) Unsubscribe(clientID string) {
	e.subs.Unsubscribe(clientID)
}

func (e *Engine) broadcast(msgType string, payload interface{}) {
	e.subs.Broadcast(mustWrap(msgType, payload))
}

func mustWrap(msgType string, payload interface{}) interface{} {
	data, err := protocol.Wrap(msgType, payload)
	if err != nil {
		return nil
	}
	return data
}

// GetState returns the active run's snapshot, or the zero value with
// ExecutionState "idle" if nothing is running.
func (e *Engine) GetState() protocol.SequenceState {
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	if active == nil {
		return protocol.SequenceState{ExecutionState: protocol.SequenceIdle}
	}
	return active.snapshot()
}

// Run starts a sequence per cfg. Rejects with ALREADY_RUNNING if another
// run is already active (property/scenario 6).
func (e *Engine) Run(ctx context.Context, cfg protocol.SequenceRunConfig) error {
	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return &Error{Code: protocol.ErrSequenceAlreadyRunning, Message: "a sequence is already running"}
	}
	def, err := e.lib.Get(cfg.SequenceID)
	if err != nil {
		e.mu.Unlock()
		return &Error{Code: protocol.ErrSequenceNotAvailable, Message: err.Error()}
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	r := &activeRun{
		runID:  runID,
		cfg:    cfg,
		def:    def,
		gate:   pausegate.New(),
		cancel: cancel,
		done:   make(chan struct{}),
		iter:   newStepFunc(def, e.rng),
		state: protocol.SequenceState{
			RunID:          runID,
			SequenceID:     cfg.SequenceID,
			DeviceID:       cfg.DeviceID,
			Parameter:      cfg.Parameter,
			ExecutionState: protocol.SequenceRunning,
			StartedAt:      time.Now().UnixMilli(),
		},
	}
	r.recorder = e.recorder
	e.active = r
	e.mu.Unlock()

	if r.recorder != nil {
		r.recorder.Start(r.runID, cfg)
	}

	if def.PreValue != nil {
		if err := e.setter.SetValue(ctx, cfg.DeviceID, cfg.Parameter, *def.PreValue, true); err != nil {
			e.mu.Lock()
			e.active = nil
			e.mu.Unlock()
			return &Error{Code: protocol.ErrSequenceRunFailed, Message: err.Error()}
		}
	}

	e.broadcast(protocol.MsgSequenceStarted, protocol.SequenceStartedPayload{State: r.snapshot()})
	go e.runLoop(runCtx, r)
	return nil
}

// runLoop is the wall-clock scheduled tick driver: each step's target
// time is startedAt + sum(dwellMs of all prior steps) + accumulated
// pause offset, so scheduling drift stays O(dwellMs) rather than
// compounding per tick.
func (e *Engine) runLoop(ctx context.Context, r *activeRun) {
	defer close(r.done)

	startedAt := time.UnixMilli(r.state.StartedAt)
	var cumulative time.Duration
	var previousCommand *float64

	for {
		if err := r.gate.Wait(ctx); err != nil {
			return
		}

		deadline := startedAt.Add(cumulative + r.gate.Offset())
		if d := time.Until(deadline); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
		}

		raw, dwellMs, endOfCycle := r.iter()
		processed := postProcess(r.def, raw, dwellMs, previousCommand)
		previousCommand = &processed

		if err := e.setter.SetValue(ctx, r.cfg.DeviceID, r.cfg.Parameter, processed, true); err != nil {
			e.fail(r, err)
			return
		}

		r.mu.Lock()
		r.state.StepIndex++
		r.state.CommandedValue = processed
		r.mu.Unlock()
		e.broadcast(protocol.MsgSequenceProgress, protocol.SequenceProgressPayload{State: r.snapshot()})
		if r.recorder != nil {
			r.recorder.Point(r.runID, time.Now(), processed)
		}

		cumulative += time.Duration(dwellMs) * time.Millisecond

		if !endOfCycle {
			continue
		}

		r.mu.Lock()
		r.state.CurrentCycle++
		done := r.cfg.RepeatMode == protocol.RepeatOnce || r.state.CurrentCycle >= r.cfg.RepeatCount
		r.mu.Unlock()
		if !done {
			continue
		}

		deadline = startedAt.Add(cumulative + r.gate.Offset())
		if d := time.Until(deadline); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
		}
		e.complete(r)
		return
	}
}

func (e *Engine) complete(r *activeRun) {
	if r.def.PostValue != nil {
		_ = e.setter.SetValue(context.Background(), r.cfg.DeviceID, r.cfg.Parameter, *r.def.PostValue, true)
	}
	r.mu.Lock()
	r.state.ExecutionState = protocol.SequenceCompleted
	r.mu.Unlock()

	e.mu.Lock()
	if e.active == r {
		e.active = nil
	}
	e.mu.Unlock()

	e.broadcast(protocol.MsgSequenceCompleted, protocol.SequenceCompletedPayload{SequenceID: r.cfg.SequenceID})
	if r.recorder != nil {
		r.recorder.Finish(r.runID, protocol.SequenceCompleted)
	}
}

func (e *Engine) fail(r *activeRun, cause error) {
	r.mu.Lock()
	r.state.ExecutionState = protocol.SequenceErrored
	r.mu.Unlock()

	e.mu.Lock()
	if e.active == r {
		e.active = nil
	}
	e.mu.Unlock()

	e.broadcast(protocol.MsgSequenceError, protocol.SequenceErrorPayload{
		SequenceID: r.cfg.SequenceID,
		Message:    cause.Error(),
	})
	if r.recorder != nil {
		r.recorder.Finish(r.runID, protocol.SequenceErrored)
	}
}

// Abort cancels the active run's tick schedule, optionally writes
// postValue, and emits sequenceAborted. Idempotent: aborting with no
// active run is a no-op.
func (e *Engine) Abort(ctx context.Context) {
	e.mu.Lock()
	r := e.active
	if r != nil {
		e.active = nil
	}
	e.mu.Unlock()
	if r == nil {
		return
	}

	r.cancel()
	<-r.done

	if r.def.PostValue != nil {
		_ = e.setter.SetValue(ctx, r.cfg.DeviceID, r.cfg.Parameter, *r.def.PostValue, true)
	}
	r.mu.Lock()
	r.state.ExecutionState = protocol.SequenceAborted
	r.mu.Unlock()

	e.broadcast(protocol.MsgSequenceAborted, protocol.SequenceAbortedPayload{SequenceID: r.cfg.SequenceID})
	if r.recorder != nil {
		r.recorder.Finish(r.runID, protocol.SequenceAborted)
	}
}

// Pause suspends the tick schedule in place without canceling the run.
// A no-op if nothing is running or it is already paused.
func (e *Engine) Pause() {
	e.mu.Lock()
	r := e.active
	e.mu.Unlock()
	if r == nil {
		return
	}
	r.gate.Pause()
	r.mu.Lock()
	r.state.ExecutionState = protocol.SequencePaused
	r.mu.Unlock()
}

// Resume re-enables the tick schedule, shifting subsequent deadlines
// forward by however long the run was paused.
func (e *Engine) Resume() {
	e.mu.Lock()
	r := e.active
	e.mu.Unlock()
	if r == nil {
		return
	}
	r.gate.Resume()
	r.mu.Lock()
	r.state.ExecutionState = protocol.SequenceRunning
	r.mu.Unlock()
}

// ListLibrary, SaveToLibrary, UpdateInLibrary, DeleteFromLibrary, and
// GetFromLibrary delegate directly to the persistence layer; the engine
// adds no behavior beyond routing.

func (e *Engine) ListLibrary() ([]protocol.SequenceDefinition, error) { return e.lib.List() }

func (e *Engine) GetFromLibrary(id string) (protocol.SequenceDefinition, error) { return e.lib.Get(id) }

func (e *Engine) SaveToLibrary(def protocol.SequenceDefinition) (string, error) { return e.lib.Save(def) }

func (e *Engine) UpdateInLibrary(def protocol.SequenceDefinition) error { return e.lib.Update(def) }

func (e *Engine) DeleteFromLibrary(id string) error { return e.lib.Delete(id) }
