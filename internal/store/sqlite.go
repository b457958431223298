package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ocr-watch/internal/errs"
)

//go:embed schema.sql
var schemaSQL string

// SQLite stores every collection in one records table
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path, creating its directory.
// The connection uses WAL mode with a single writer.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errs.Wrapf(err, errs.ErrPersistence, "create store directory for %s", path)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrPersistence, "failed to open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.Wrap(err, errs.ErrPersistence, "failed to connect to database")
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, errs.Wrap(err, errs.ErrPersistence, "failed to apply pragmas")
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errs.Wrap(err, errs.ErrPersistence, "failed to apply schema")
	}
	return &SQLite{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, collection string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM records WHERE collection = ? ORDER BY position`, collection)
	if err != nil {
		return nil, errs.Wrapf(err, errs.ErrPersistence, "load %s", collection)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, errs.Wrapf(err, errs.ErrPersistence, "scan %s", collection)
		}
		out = append(out, Record{ID: id, Data: []byte(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrapf(err, errs.ErrPersistence, "load %s", collection)
	}
	return out, nil
}

// Save replaces the collection in a single transaction
func (s *SQLite) Save(ctx context.Context, collection string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrapf(err, errs.ErrPersistence, "save %s", collection)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return errs.Wrapf(err, errs.ErrPersistence, "clear %s", collection)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (collection, id, position, data, updated_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return errs.Wrapf(err, errs.ErrPersistence, "save %s", collection)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, collection, r.ID, i, string(r.Data), now); err != nil {
			return errs.Wrapf(err, errs.ErrPersistence, "save %s/%s", collection, r.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrapf(err, errs.ErrPersistence, "commit %s", collection)
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
