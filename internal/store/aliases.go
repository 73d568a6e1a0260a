package store

import (
	"database/sql"
	"fmt"
)

// AliasStore is the device-alias namespace: key is a device's IDN
// (manufacturer,model[,serial]), value is the operator-assigned alias,
// satisfying clienthub.Aliases.
type AliasStore struct {
	db *sql.DB
}

func (a *AliasStore) List() map[string]string {
	out := make(map[string]string)
	rows, err := a.db.Query(`SELECT idn, alias FROM device_aliases`)
	if err != nil {
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var idn, alias string
		if rows.Scan(&idn, &alias) != nil {
			continue
		}
		out[idn] = alias
	}
	return out
}

func (a *AliasStore) Set(idn, alias string) error {
	_, err := a.db.Exec(
		`INSERT INTO device_aliases (idn, alias) VALUES (?, ?)
		 ON CONFLICT(idn) DO UPDATE SET alias = excluded.alias`,
		idn, alias,
	)
	if err != nil {
		return fmt.Errorf("store: set alias: %w", err)
	}
	return nil
}

func (a *AliasStore) Clear(idn string) error {
	_, err := a.db.Exec(`DELETE FROM device_aliases WHERE idn = ?`, idn)
	if err != nil {
		return fmt.Errorf("store: clear alias: %w", err)
	}
	return nil
}
