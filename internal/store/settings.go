package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

// SettingsStore bundles all three persistence namespaces into a single
// exportable/importable document, satisfying clienthub.Settings.
type SettingsStore struct {
	db        *sql.DB
	sequences *SequenceLibrary
	scripts   *TriggerScriptLibrary
	aliases   *AliasStore
}

func (s *SettingsStore) Export() (protocol.SettingsDocument, error) {
	sequences, err := s.sequences.List()
	if err != nil {
		return protocol.SettingsDocument{}, fmt.Errorf("store: export sequences: %w", err)
	}
	scripts, err := s.scripts.List()
	if err != nil {
		return protocol.SettingsDocument{}, fmt.Errorf("store: export trigger scripts: %w", err)
	}
	return protocol.SettingsDocument{
		Sequences:      sequences,
		TriggerScripts: scripts,
		Aliases:        s.aliases.List(),
	}, nil
}

// Import replaces every namespace's contents atomically: either the
// whole document lands, or (on any row failing to encode/insert) none of
// it does — import is all-or-nothing, replacing existing entries by id.
func (s *SettingsStore) Import(doc protocol.SettingsDocument) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin import: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if _, err := tx.Exec(`DELETE FROM sequences`); err != nil {
		return fmt.Errorf("store: clear sequences: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM trigger_scripts`); err != nil {
		return fmt.Errorf("store: clear trigger scripts: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM device_aliases`); err != nil {
		return fmt.Errorf("store: clear aliases: %w", err)
	}

	for _, def := range doc.Sequences {
		data, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("store: encode sequence %s: %w", def.ID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO sequences (id, name, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			def.ID, def.Name, string(data), def.CreatedAt, def.UpdatedAt,
		); err != nil {
			return fmt.Errorf("store: import sequence %s: %w", def.ID, err)
		}
	}

	for _, script := range doc.TriggerScripts {
		data, err := json.Marshal(script)
		if err != nil {
			return fmt.Errorf("store: encode trigger script %s: %w", script.ID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO trigger_scripts (id, name, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			script.ID, script.Name, string(data), script.CreatedAt, script.UpdatedAt,
		); err != nil {
			return fmt.Errorf("store: import trigger script %s: %w", script.ID, err)
		}
	}

	for idn, alias := range doc.Aliases {
		if _, err := tx.Exec(`INSERT INTO device_aliases (idn, alias) VALUES (?, ?)`, idn, alias); err != nil {
			return fmt.Errorf("store: import alias %s: %w", idn, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit import: %w", err)
	}
	return nil
}
