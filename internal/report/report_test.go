package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

func sampleRecord() Record {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return Record{
		RunID:      "run-1",
		SequenceID: "seq-1",
		DeviceID:   "psu-1",
		Parameter:  "voltage",
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		FinalState: protocol.SequenceCompleted,
		Points: []Point{
			{Time: start.Add(1 * time.Second), Value: 1.0},
			{Time: start.Add(2 * time.Second), Value: 2.5},
		},
	}
}

func TestStoreStartPointFinishRoundTrip(t *testing.T) {
	s := NewStore(8)
	cfg := protocol.SequenceRunConfig{SequenceID: "seq-1", DeviceID: "psu-1", Parameter: "voltage"}
	s.Start("run-1", cfg)
	s.Point("run-1", time.Now(), 1.0)
	s.Point("run-1", time.Now(), 2.0)
	s.Finish("run-1", protocol.SequenceCompleted)

	rec, ok := s.Get("run-1")
	if !ok {
		t.Fatal("expected run-1 to be recorded")
	}
	if rec.SequenceID != "seq-1" || rec.DeviceID != "psu-1" || rec.Parameter != "voltage" {
		t.Errorf("unexpected metadata: %+v", rec)
	}
	if len(rec.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(rec.Points))
	}
	if rec.FinalState != protocol.SequenceCompleted {
		t.Errorf("expected completed, got %s", rec.FinalState)
	}
	if rec.FinishedAt.IsZero() {
		t.Error("expected FinishedAt to be set")
	}
}

func TestStorePointOnUnknownRunIsDropped(t *testing.T) {
	s := NewStore(8)
	s.Point("never-started", time.Now(), 1.0)
	if _, ok := s.Get("never-started"); ok {
		t.Fatal("expected no record for a run that was never started")
	}
}

func TestStoreEvictsOldestBeyondMaxRuns(t *testing.T) {
	s := NewStore(2)
	s.Start("run-1", protocol.SequenceRunConfig{SequenceID: "a"})
	s.Start("run-2", protocol.SequenceRunConfig{SequenceID: "b"})
	s.Start("run-3", protocol.SequenceRunConfig{SequenceID: "c"})

	if _, ok := s.Get("run-1"); ok {
		t.Error("expected run-1 to have been evicted")
	}
	if _, ok := s.Get("run-2"); !ok {
		t.Error("expected run-2 to still be retained")
	}
	if _, ok := s.Get("run-3"); !ok {
		t.Error("expected run-3 to still be retained")
	}
}

func TestStoreListOrdersOldestFirst(t *testing.T) {
	s := NewStore(8)
	s.Start("run-1", protocol.SequenceRunConfig{})
	s.Start("run-2", protocol.SequenceRunConfig{})

	runs := s.List()
	if len(runs) != 2 || runs[0].RunID != "run-1" || runs[1].RunID != "run-2" {
		t.Fatalf("unexpected order: %+v", runs)
	}
}

func TestExportCSVWritesHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportCSV(&buf, sampleRecord()); err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}

	r := csv.NewReader(&buf)
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parsing CSV output: %v", err)
	}
	if len(rows) != 3 { // header + 2 points
		t.Fatalf("expected 3 rows, got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "seq" || rows[0][3] != "value" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][3] != "1" {
		t.Errorf("expected first value 1, got %s", rows[1][3])
	}
}

func TestExportJSONRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSON(&buf, sampleRecord()); err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}

	var out RunJSON
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("unmarshaling export: %v", err)
	}
	if out.RunID != "run-1" || out.SequenceID != "seq-1" {
		t.Errorf("unexpected metadata: %+v", out)
	}
	if len(out.Points) != 2 || out.Points[1].Value != 2.5 {
		t.Errorf("unexpected points: %+v", out.Points)
	}
	if out.FinalState != "completed" {
		t.Errorf("expected completed, got %s", out.FinalState)
	}
}

func TestExportPDFProducesNonEmptyOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportPDF(&buf, sampleRecord()); err != nil {
		t.Fatalf("ExportPDF failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty PDF output")
	}
	if !strings.HasPrefix(buf.String(), "%PDF") {
		t.Error("expected output to start with a PDF header")
	}
}

func TestExportPDFWithFewerThanTwoPointsSkipsChart(t *testing.T) {
	rec := sampleRecord()
	rec.Points = rec.Points[:1]

	var buf bytes.Buffer
	if err := ExportPDF(&buf, rec); err != nil {
		t.Fatalf("ExportPDF failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty PDF output even without a chart")
	}
}
