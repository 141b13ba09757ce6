// Package sqlite implements the SD Submit repositories on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Register the pure-Go sqlite driver.
	_ "modernc.org/sqlite"

	"github.com/CSCfi/sd-submit/pkg/storage"
)

// DB wraps the database handle and owns schema migrations.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at the given DSN and applies all
// pending migrations.
func Open(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection avoids
	// SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

// DB returns the underlying handle.
func (d *DB) DB() *sql.DB {
	return d.db
}

// Begin opens a top-level transaction. Used only by the session middleware.
func (d *DB) Begin(ctx context.Context) (*sql.Tx, error) {
	return d.db.BeginTx(ctx, nil)
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// querier resolves the per-request transaction from the context, falling
// back to the plain handle for calls outside the session middleware.
func (d *DB) querier(ctx context.Context) storage.Querier {
	if tx, ok := storage.TxFromContext(ctx); ok {
		return tx
	}
	return d.db
}
