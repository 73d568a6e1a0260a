package store

import (
	"testing"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewCreatesStore(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer s.Close()
}

func TestCloseSucceeds(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestSequenceSaveAssignsIDAndTimestamps(t *testing.T) {
	s := newTestStore(t)
	lib := s.Sequences()

	min, max := 0.0, 5.0
	id, err := lib.Save(protocol.SequenceDefinition{
		Name:         "ramp-up",
		Unit:         "V",
		WaveformKind: protocol.WaveformKindStandard,
		Standard:     &protocol.WaveformParams{Type: protocol.WaveformRamp, Min: min, Max: max, PointsPerCycle: 10, IntervalMs: 100},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}

	def, err := lib.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if def.Name != "ramp-up" {
		t.Errorf("expected name ramp-up, got %s", def.Name)
	}
	if def.CreatedAt == 0 || def.UpdatedAt == 0 {
		t.Error("expected non-zero createdAt/updatedAt")
	}
}

func TestSequenceListOrdersByCreation(t *testing.T) {
	s := newTestStore(t)
	lib := s.Sequences()

	idA, _ := lib.Save(protocol.SequenceDefinition{Name: "first"})
	idB, _ := lib.Save(protocol.SequenceDefinition{Name: "second"})

	defs, err := lib.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 sequences, got %d", len(defs))
	}
	if defs[0].ID != idA || defs[1].ID != idB {
		t.Errorf("expected insertion order %s,%s, got %s,%s", idA, idB, defs[0].ID, defs[1].ID)
	}
}

func TestSequenceUpdatePreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)
	lib := s.Sequences()

	id, _ := lib.Save(protocol.SequenceDefinition{Name: "original"})
	original, _ := lib.Get(id)

	if err := lib.Update(protocol.SequenceDefinition{ID: id, Name: "renamed"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	updated, err := lib.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if updated.Name != "renamed" {
		t.Errorf("expected name renamed, got %s", updated.Name)
	}
	if updated.CreatedAt != original.CreatedAt {
		t.Errorf("expected createdAt to be preserved across update")
	}
}

func TestSequenceUpdateUnknownIDFails(t *testing.T) {
	s := newTestStore(t)
	lib := s.Sequences()

	if err := lib.Update(protocol.SequenceDefinition{ID: "missing"}); err == nil {
		t.Fatal("expected error updating an unknown sequence")
	}
}

func TestSequenceDeleteRemovesRecord(t *testing.T) {
	s := newTestStore(t)
	lib := s.Sequences()

	id, _ := lib.Save(protocol.SequenceDefinition{Name: "doomed"})
	if err := lib.Delete(id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := lib.Get(id); err == nil {
		t.Fatal("expected error getting a deleted sequence")
	}
}

func TestTriggerScriptLibraryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	lib := s.TriggerScripts()

	id, err := lib.Save(protocol.TriggerScript{
		Name: "overvoltage-guard",
		Triggers: []protocol.Trigger{{
			ID:         "t1",
			Condition:  protocol.TriggerCondition{Type: protocol.ConditionValue, DeviceID: "psu-1", Parameter: "voltage", Op: ">", Value: 5},
			Action:     protocol.TriggerAction{StopSequence: &struct{}{}},
			RepeatMode: protocol.RepeatOnce,
		}},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	script, err := lib.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(script.Triggers) != 1 || script.Triggers[0].ID != "t1" {
		t.Fatalf("expected one trigger t1 round-tripped, got %+v", script.Triggers)
	}
}

func TestAliasSetAndClear(t *testing.T) {
	s := newTestStore(t)
	aliases := s.Aliases()

	if err := aliases.Set("Rigol,DP832", "bench-psu"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := aliases.List()["Rigol,DP832"]; got != "bench-psu" {
		t.Fatalf("expected alias bench-psu, got %s", got)
	}

	// Set again on the same key should overwrite, not duplicate.
	if err := aliases.Set("Rigol,DP832", "renamed"); err != nil {
		t.Fatalf("Set (overwrite) failed: %v", err)
	}
	if got := aliases.List()["Rigol,DP832"]; got != "renamed" {
		t.Fatalf("expected alias renamed, got %s", got)
	}

	if err := aliases.Clear("Rigol,DP832"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := aliases.List()["Rigol,DP832"]; ok {
		t.Fatal("expected alias to be removed after Clear")
	}
}

func TestSettingsExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seqID, _ := s.Sequences().Save(protocol.SequenceDefinition{Name: "seq-a"})
	scriptID, _ := s.TriggerScripts().Save(protocol.TriggerScript{Name: "script-a"})
	s.Aliases().Set("Rigol,DP832", "bench-psu")

	doc, err := s.Settings().Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(doc.Sequences) != 1 || len(doc.TriggerScripts) != 1 || len(doc.Aliases) != 1 {
		t.Fatalf("expected one record per namespace, got %+v", doc)
	}

	// Import into a fresh store and confirm every namespace lands.
	dst := newTestStore(t)
	if err := dst.Settings().Import(doc); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if _, err := dst.Sequences().Get(seqID); err != nil {
		t.Fatalf("expected imported sequence %s, got error: %v", seqID, err)
	}
	if _, err := dst.TriggerScripts().Get(scriptID); err != nil {
		t.Fatalf("expected imported trigger script %s, got error: %v", scriptID, err)
	}
	if got := dst.Aliases().List()["Rigol,DP832"]; got != "bench-psu" {
		t.Fatalf("expected imported alias bench-psu, got %s", got)
	}
}

func TestSettingsImportReplacesExistingEntries(t *testing.T) {
	s := newTestStore(t)
	s.Sequences().Save(protocol.SequenceDefinition{Name: "stale"})

	if err := s.Settings().Import(protocol.SettingsDocument{
		Sequences: []protocol.SequenceDefinition{{ID: "fresh-1", Name: "fresh"}},
	}); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	defs, err := s.Sequences().List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(defs) != 1 || defs[0].ID != "fresh-1" {
		t.Fatalf("expected import to replace existing entries, got %+v", defs)
	}
}
