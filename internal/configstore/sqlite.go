package configstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/errors"

	// Register the pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

// SQLiteConfig is the configuration of the SQLite-backed store.
type SQLiteConfig struct {
	// Logger is used for logging the operation of the store.  It must not be
	// nil.
	Logger *slog.Logger

	// Path is the path to the database file.  The special value ":memory:"
	// opens a private in-memory database.  It must not be empty.
	Path string
}

// NewSQLite opens or creates the database at c.Path, applies the schema, and
// seeds the default settings if the database is new.  c must not be nil.
func NewSQLite(ctx context.Context, c *SQLiteConfig) (s *SQLite, err error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		c.Path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening configuration store: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, db.Close())
		}
	}()

	// The driver serializes access to one connection; a single writer avoids
	// SQLITE_BUSY churn and the engine only reads on refresh, so this is not
	// a bottleneck.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(1 * time.Hour)

	_, err = db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s = &SQLite{
		logger: c.Logger,
		db:     db,
	}

	err = s.seedSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("seeding settings: %w", err)
	}

	return s, nil
}

// SQLite is the SQLite implementation of the configuration store.  It is safe
// for concurrent use.
type SQLite struct {
	logger *slog.Logger
	db     *sql.DB
}

// Close closes the underlying database.
func (s *SQLite) Close() (err error) {
	err = s.db.Close()
	if err != nil {
		return fmt.Errorf("closing configuration store: %w", err)
	}

	return nil
}

// inTx runs f within a transaction, committing on nil and rolling back on
// error.
func (s *SQLite) inTx(ctx context.Context, f func(tx *sql.Tx) (err error)) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	err = f(tx)
	if err != nil {
		return errors.WithDeferred(err, tx.Rollback())
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
