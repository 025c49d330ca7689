package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/amberdns/amberdns/internal/adns"
)

// settingsName is the name of the settings row.  The whole snapshot is stored
// as one JSON document: the engine only ever reads and swaps it whole, and a
// single document keeps the snapshot atomic without a transaction across
// per-key rows.
const settingsName = "settings"

// seedSettings writes the default settings unless a settings row already
// exists.
func (s *SQLite) seedSettings(ctx context.Context) (err error) {
	data, err := json.Marshal(adns.DefaultSettings())
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO settings (name, value) VALUES (?, ?)`,
		settingsName,
		string(data),
	)

	return err
}

// Settings returns the current dynamic settings.
func (s *SQLite) Settings(ctx context.Context) (set *adns.Settings, err error) {
	var data string
	err = s.db.QueryRowContext(
		ctx,
		`SELECT value FROM settings WHERE name = ?`,
		settingsName,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return adns.DefaultSettings(), nil
	} else if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	set = &adns.Settings{}
	err = json.Unmarshal([]byte(data), set)
	if err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}

	return set, nil
}

// SetSettings replaces the stored settings.  set must be valid.
func (s *SQLite) SetSettings(ctx context.Context, set *adns.Settings) (err error) {
	err = set.Validate()
	if err != nil {
		return fmt.Errorf("validating settings: %w", err)
	}

	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO settings (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`,
		settingsName,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}

	return nil
}
