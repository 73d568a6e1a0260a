package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

// SequenceLibrary is the sqlite-backed Library[SequenceDefinition],
// satisfying sequence.Library.
type SequenceLibrary struct {
	db *sql.DB
}

func (l *SequenceLibrary) List() ([]protocol.SequenceDefinition, error) {
	rows, err := l.db.Query(`SELECT data FROM sequences ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list sequences: %w", err)
	}
	defer rows.Close()

	defs := []protocol.SequenceDefinition{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan sequence: %w", err)
		}
		var def protocol.SequenceDefinition
		if err := json.Unmarshal([]byte(data), &def); err != nil {
			return nil, fmt.Errorf("store: decode sequence: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (l *SequenceLibrary) Get(id string) (protocol.SequenceDefinition, error) {
	var data string
	err := l.db.QueryRow(`SELECT data FROM sequences WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return protocol.SequenceDefinition{}, fmt.Errorf("store: no sequence %s", id)
	}
	if err != nil {
		return protocol.SequenceDefinition{}, fmt.Errorf("store: get sequence: %w", err)
	}
	var def protocol.SequenceDefinition
	if err := json.Unmarshal([]byte(data), &def); err != nil {
		return protocol.SequenceDefinition{}, fmt.Errorf("store: decode sequence: %w", err)
	}
	return def, nil
}

// Save assigns a fresh id and stamps both createdAt and updatedAt,
// ignoring any id/createdAt/updatedAt already set on def.
func (l *SequenceLibrary) Save(def protocol.SequenceDefinition) (string, error) {
	now := time.Now().UnixMilli()
	def.ID = uuid.NewString()
	def.CreatedAt = now
	def.UpdatedAt = now

	data, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("store: encode sequence: %w", err)
	}
	_, err = l.db.Exec(
		`INSERT INTO sequences (id, name, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		def.ID, def.Name, string(data), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("store: save sequence: %w", err)
	}
	return def.ID, nil
}

// Update replaces the record at def.ID in place, bumping updatedAt.
func (l *SequenceLibrary) Update(def protocol.SequenceDefinition) error {
	existing, err := l.Get(def.ID)
	if err != nil {
		return err
	}
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("store: encode sequence: %w", err)
	}
	_, err = l.db.Exec(
		`UPDATE sequences SET name = ?, data = ?, updated_at = ? WHERE id = ?`,
		def.Name, string(data), def.UpdatedAt, def.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update sequence: %w", err)
	}
	return nil
}

func (l *SequenceLibrary) Delete(id string) error {
	_, err := l.db.Exec(`DELETE FROM sequences WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete sequence: %w", err)
	}
	return nil
}
