package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ DirectoryStore = (*SQLiteStore)(nil)

// SQLiteStore implements DirectoryStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS symbol_directory (
		symbol     TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// migrations and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises anyway.
	db.SetMaxOpenConns(1)
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveDirectory upserts every entry of dir in one transaction. Entries not in
// dir are kept.
func (s *SQLiteStore) SaveDirectory(ctx context.Context, dir map[string]string) error {
	if len(dir) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO symbol_directory (symbol, name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for sym, name := range dir {
		if _, err := stmt.ExecContext(ctx, sym, name, now); err != nil {
			return fmt.Errorf("saving %s: %w", sym, err)
		}
	}
	return tx.Commit()
}

// LoadDirectory returns every stored symbol→name entry.
func (s *SQLiteStore) LoadDirectory(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, name FROM symbol_directory`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var sym, name string
		if err := rows.Scan(&sym, &name); err != nil {
			return nil, err
		}
		out[sym] = name
	}
	return out, rows.Err()
}
