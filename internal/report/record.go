// Package report exports a completed or aborted sequence run as
// CSV/JSON/PDF, optionally rendering the commanded-value curve as a PNG
// chart via gonum/plot.
//
// Run history itself is kept by Store, an in-memory sequence.Recorder —
// the commanded-value series is small and short-lived (one run at a
// time), so it never needs its own table in internal/store.
package report

import (
	"sync"
	"time"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

// Point is one commanded-value sample at a point in wall-clock time.
type Point struct {
	Time  time.Time
	Value float64
}

// Record is one sequence run's full commanded-value-vs-time history.
type Record struct {
	RunID      string
	SequenceID string
	DeviceID   string
	Parameter  string
	StartedAt  time.Time
	FinishedAt time.Time
	FinalState protocol.SequenceExecutionState
	Points     []Point
}

// Store is an in-memory, bounded collection of recent run Records,
// satisfying sequence.Recorder. It keeps at most maxRuns records,
// evicting the oldest once full.
type Store struct {
	mu      sync.Mutex
	maxRuns int
	order   []string
	byID    map[string]*Record
}

// NewStore creates a Store retaining at most maxRuns runs, counting runs
// still in progress as well as finished ones.
func NewStore(maxRuns int) *Store {
	if maxRuns < 1 {
		maxRuns = 1
	}
	return &Store{maxRuns: maxRuns, byID: make(map[string]*Record)}
}

// Start begins recording a new run.
func (s *Store) Start(runID string, cfg protocol.SequenceRunConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[runID] = &Record{
		RunID:      runID,
		SequenceID: cfg.SequenceID,
		DeviceID:   cfg.DeviceID,
		Parameter:  cfg.Parameter,
		StartedAt:  time.Now(),
	}
	s.order = append(s.order, runID)
	for len(s.order) > s.maxRuns {
		delete(s.byID, s.order[0])
		s.order = s.order[1:]
	}
}

// Point appends one commanded-value sample to runID's series. A point
// for a run that was evicted (or never started) is silently dropped.
func (s *Store) Point(runID string, ts time.Time, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[runID]
	if !ok {
		return
	}
	r.Points = append(r.Points, Point{Time: ts, Value: value})
}

// Finish marks runID's final state and completion time.
func (s *Store) Finish(runID string, state protocol.SequenceExecutionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[runID]
	if !ok {
		return
	}
	r.FinalState = state
	r.FinishedAt = time.Now()
}

// Get returns a copy of runID's record, or false if it is unknown or was
// evicted.
func (s *Store) Get(runID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[runID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// List returns every retained run, oldest first.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}
