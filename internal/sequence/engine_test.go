package sequence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

type recordedWrite struct {
	deviceID string
	name     string
	value    float64
	at       time.Time
}

type fakeSetter struct {
	mu     sync.Mutex
	writes []recordedWrite
	err    error
}

func (f *fakeSetter) SetValue(ctx context.Context, deviceID, name string, value float64, immediate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, recordedWrite{deviceID: deviceID, name: name, value: value, at: time.Now()})
	return nil
}

func (f *fakeSetter) Writes() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

type fakeLibrary struct {
	mu   sync.Mutex
	defs map[string]protocol.SequenceDefinition
}

func newFakeLibrary(defs ...protocol.SequenceDefinition) *fakeLibrary {
	l := &fakeLibrary{defs: make(map[string]protocol.SequenceDefinition)}
	for _, d := range defs {
		l.defs[d.ID] = d
	}
	return l
}

func (l *fakeLibrary) List() ([]protocol.SequenceDefinition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]protocol.SequenceDefinition, 0, len(l.defs))
	for _, d := range l.defs {
		out = append(out, d)
	}
	return out, nil
}

func (l *fakeLibrary) Get(id string) (protocol.SequenceDefinition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.defs[id]
	if !ok {
		return protocol.SequenceDefinition{}, &Error{Code: protocol.ErrSequenceNotAvailable, Message: "unknown sequence " + id}
	}
	return d, nil
}

func (l *fakeLibrary) Save(def protocol.SequenceDefinition) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defs[def.ID] = def
	return def.ID, nil
}

func (l *fakeLibrary) Update(def protocol.SequenceDefinition) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defs[def.ID] = def
	return nil
}

func (l *fakeLibrary) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.defs, id)
	return nil
}

// rampDefinition builds a 100-point ramp from 0 to 10 at intervalMs per
// step (callers pick a short interval to keep the test quick).
func rampDefinition(intervalMs int) protocol.SequenceDefinition {
	return protocol.SequenceDefinition{
		ID:           "ramp-1",
		Name:         "ramp",
		Unit:         "V",
		WaveformKind: protocol.WaveformKindStandard,
		Standard: &protocol.WaveformParams{
			Type:           protocol.WaveformRamp,
			Min:            0,
			Max:            10,
			PointsPerCycle: 100,
			IntervalMs:     intervalMs,
		},
	}
}

func TestSequenceValueLawForRamp(t *testing.T) {
	setter := &fakeSetter{}
	lib := newFakeLibrary(rampDefinition(2))
	eng := New(setter, lib)

	ctx := context.Background()
	cfg := protocol.SequenceRunConfig{SequenceID: "ramp-1", DeviceID: "psu-1", Parameter: "voltage", RepeatMode: protocol.RepeatOnce}
	if err := eng.Run(ctx, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}

	deadline := time.After(2 * time.Second)
	// Completion clears the active run, so GetState reports idle once the
	// last step has been written.
	for eng.GetState().ExecutionState == protocol.SequenceRunning {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for sequence completion")
		case <-time.After(5 * time.Millisecond):
		}
	}

	writes := setter.Writes()
	if len(writes) != 100 {
		t.Fatalf("expected 100 driver writes, got %d", len(writes))
	}
	if got := writes[5].value; got < 0.49 || got > 0.51 {
		t.Fatalf("expected step 5 commandedValue ~0.5, got %v", got)
	}
	if got := writes[99].value; got < 9.89 || got > 9.91 {
		t.Fatalf("expected step 99 commandedValue ~9.9, got %v", got)
	}
}

func TestSequenceSingletonRejectsSecondRun(t *testing.T) {
	setter := &fakeSetter{}
	lib := newFakeLibrary(rampDefinition(20))
	eng := New(setter, lib)

	ctx := context.Background()
	cfg := protocol.SequenceRunConfig{SequenceID: "ramp-1", DeviceID: "psu-1", Parameter: "voltage", RepeatMode: protocol.RepeatOnce}
	if err := eng.Run(ctx, cfg); err != nil {
		t.Fatalf("first run: %v", err)
	}
	defer eng.Abort(ctx)

	err := eng.Run(ctx, cfg)
	se, ok := err.(*Error)
	if !ok || se.Code != protocol.ErrSequenceAlreadyRunning {
		t.Fatalf("expected ALREADY_RUNNING, got %v", err)
	}

	// The first run must still be the one making progress — Run should
	// not have canceled it.
	state := eng.GetState()
	if state.SequenceID != "ramp-1" {
		t.Fatalf("expected the original run still active, got state %+v", state)
	}
}

func TestSequenceAbortIsIdempotentAndWritesPostValue(t *testing.T) {
	setter := &fakeSetter{}
	post := 0.0
	def := rampDefinition(5)
	def.PostValue = &post
	lib := newFakeLibrary(def)
	eng := New(setter, lib)

	ctx := context.Background()
	cfg := protocol.SequenceRunConfig{SequenceID: "ramp-1", DeviceID: "psu-1", Parameter: "voltage", RepeatMode: protocol.RepeatOnce}
	if err := eng.Run(ctx, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	eng.Abort(ctx)
	eng.Abort(ctx) // idempotent: must not panic or double-emit

	state := eng.GetState()
	if state.ExecutionState != protocol.SequenceIdle {
		t.Fatalf("expected idle after abort, got %v", state.ExecutionState)
	}

	writes := setter.Writes()
	if len(writes) == 0 {
		t.Fatal("expected at least one write before abort")
	}
	if last := writes[len(writes)-1]; last.value != 0 {
		t.Fatalf("expected postValue 0 as final write, got %v", last.value)
	}
}

func TestSequenceErrorHaltsRunAndClearsActive(t *testing.T) {
	setter := &fakeSetter{err: context.DeadlineExceeded}
	lib := newFakeLibrary(rampDefinition(5))
	eng := New(setter, lib)

	// fail clears the active run before broadcasting sequenceError, so the
	// error is observed as that frame rather than through GetState.
	errored := make(chan struct{}, 1)
	eng.Subscribe("test", func(msg interface{}) {
		data, ok := msg.([]byte)
		if !ok {
			return
		}
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &env) == nil && env.Type == protocol.MsgSequenceError {
			select {
			case errored <- struct{}{}:
			default:
			}
		}
	})

	ctx := context.Background()
	cfg := protocol.SequenceRunConfig{SequenceID: "ramp-1", DeviceID: "psu-1", Parameter: "voltage", RepeatMode: protocol.RepeatOnce}
	if err := eng.Run(ctx, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}

	select {
	case <-errored:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sequenceError")
	}

	// A new run must now be accepted since active was cleared, even
	// though the underlying driver will keep failing it too.
	if err := eng.Run(ctx, cfg); err != nil {
		t.Fatalf("expected second run to be accepted after the first errored out, got %v", err)
	}
	eng.Abort(ctx)
}
