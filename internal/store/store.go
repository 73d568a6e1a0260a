// Package store implements the persistence layer: a uniform Library[T]
// interface (list/get/save/update/delete) over a durable key-value-shaped
// store, plus the device-alias map and the all-or-nothing settings
// export/import bundle. A single *sql.DB wrapped in one type runs an
// explicit "CREATE TABLE IF NOT EXISTS" schema once in New, with
// SetMaxOpenConns(1) since modernc.org/sqlite's pure-Go driver serializes
// writes through a single connection to avoid SQLITE_BUSY under
// concurrent access.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the persistence boundary: three namespaces — sequences/{id},
// scripts/{id}, aliases/{idn} — backed by one sqlite file.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sequences (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    data TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trigger_scripts (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    data TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS device_aliases (
    idn TEXT PRIMARY KEY,
    alias TEXT NOT NULL
);
`

// New opens (or creates) the sqlite file at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Sequences returns the sequence-definition Library view of this store.
func (s *Store) Sequences() *SequenceLibrary {
	return &SequenceLibrary{db: s.db}
}

// TriggerScripts returns the trigger-script Library view of this store.
func (s *Store) TriggerScripts() *TriggerScriptLibrary {
	return &TriggerScriptLibrary{db: s.db}
}

// Aliases returns the device-alias view of this store.
func (s *Store) Aliases() *AliasStore {
	return &AliasStore{db: s.db}
}

// Settings returns the all-or-nothing export/import view spanning every
// namespace in this store.
func (s *Store) Settings() *SettingsStore {
	return &SettingsStore{db: s.db, sequences: s.Sequences(), scripts: s.TriggerScripts(), aliases: s.Aliases()}
}
