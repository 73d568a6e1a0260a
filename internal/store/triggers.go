package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/multiverse-labs/labctl/internal/protocol"
)

// TriggerScriptLibrary is the sqlite-backed Library[TriggerScript],
// satisfying trigger.Library.
type TriggerScriptLibrary struct {
	db *sql.DB
}

func (l *TriggerScriptLibrary) List() ([]protocol.TriggerScript, error) {
	rows, err := l.db.Query(`SELECT data FROM trigger_scripts ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list trigger scripts: %w", err)
	}
	defer rows.Close()

	scripts := []protocol.TriggerScript{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan trigger script: %w", err)
		}
		var s protocol.TriggerScript
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("store: decode trigger script: %w", err)
		}
		scripts = append(scripts, s)
	}
	return scripts, rows.Err()
}

func (l *TriggerScriptLibrary) Get(id string) (protocol.TriggerScript, error) {
	var data string
	err := l.db.QueryRow(`SELECT data FROM trigger_scripts WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return protocol.TriggerScript{}, fmt.Errorf("store: no trigger script %s", id)
	}
	if err != nil {
		return protocol.TriggerScript{}, fmt.Errorf("store: get trigger script: %w", err)
	}
	var s protocol.TriggerScript
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return protocol.TriggerScript{}, fmt.Errorf("store: decode trigger script: %w", err)
	}
	return s, nil
}

func (l *TriggerScriptLibrary) Save(s protocol.TriggerScript) (string, error) {
	now := time.Now().UnixMilli()
	s.ID = uuid.NewString()
	s.CreatedAt = now
	s.UpdatedAt = now

	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("store: encode trigger script: %w", err)
	}
	_, err = l.db.Exec(
		`INSERT INTO trigger_scripts (id, name, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Name, string(data), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("store: save trigger script: %w", err)
	}
	return s.ID, nil
}

func (l *TriggerScriptLibrary) Update(s protocol.TriggerScript) error {
	existing, err := l.Get(s.ID)
	if err != nil {
		return err
	}
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: encode trigger script: %w", err)
	}
	_, err = l.db.Exec(
		`UPDATE trigger_scripts SET name = ?, data = ?, updated_at = ? WHERE id = ?`,
		s.Name, string(data), s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update trigger script: %w", err)
	}
	return nil
}

func (l *TriggerScriptLibrary) Delete(id string) error {
	_, err := l.db.Exec(`DELETE FROM trigger_scripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete trigger script: %w", err)
	}
	return nil
}
