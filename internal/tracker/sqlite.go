package tracker

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/folio/internal/apperr"
)

const filesSchemaSQL = `
CREATE TABLE IF NOT EXISTS files (
	file_name   TEXT PRIMARY KEY,
	create_time REAL NOT NULL,
	modify_time REAL NOT NULL DEFAULT 0.0,
	checksum    TEXT NOT NULL,
	tags        TEXT NULL
);
`

// SQLiteBackend stores entries in a single SQLite table.
type SQLiteBackend struct {
	path    string
	conn    *sql.DB
	existed bool
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("tracker: stat db: %w", statErr)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("tracker: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tracker: ping: %w", err)
	}
	if _, err := conn.Exec(filesSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tracker: apply schema: %w", err)
	}
	return &SQLiteBackend{path: path, conn: conn, existed: existed}, nil
}

// Location returns the database path.
func (b *SQLiteBackend) Location() string { return b.path }

// Close closes the underlying database connection.
func (b *SQLiteBackend) Close() error {
	return b.conn.Close()
}

// Load reads every row of the files table.
func (b *SQLiteBackend) Load() ([]Entry, bool, error) {
	rows, err := b.conn.Query(`SELECT file_name, create_time, modify_time, checksum, tags FROM files ORDER BY file_name`)
	if err != nil {
		return nil, b.existed, fmt.Errorf("tracker: select files: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			tags sql.NullString
		)
		if err := rows.Scan(&e.Path, &e.CreatedAt, &e.ModifiedAt, &e.Checksum, &tags); err != nil {
			return nil, b.existed, fmt.Errorf("tracker: scan file row: %w: %w", apperr.ErrMalformed, err)
		}
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &e.Tags); err != nil {
				return nil, b.existed, fmt.Errorf("tracker: tags of %q: %w: %w", e.Path, apperr.ErrMalformed, err)
			}
			if len(e.Tags) == 0 {
				e.Tags = nil
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, b.existed, fmt.Errorf("tracker: iterate files: %w", err)
	}
	return out, b.existed, nil
}

// Save replaces all rows within a single transaction.
func (b *SQLiteBackend) Save(entries []Entry) error {
	tx, err := b.conn.Begin()
	if err != nil {
		return fmt.Errorf("tracker: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(`DELETE FROM files`); err != nil {
		return fmt.Errorf("tracker: clear files: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO files (file_name, create_time, modify_time, checksum, tags) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("tracker: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var tags sql.NullString
		if len(e.Tags) > 0 {
			raw, _ := json.Marshal(e.Tags)
			tags = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := stmt.Exec(e.Path, e.CreatedAt, e.ModifiedAt, e.Checksum, tags); err != nil {
			return fmt.Errorf("tracker: insert %s: %w", e.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tracker: commit: %w", err)
	}
	b.existed = true
	return nil
}
