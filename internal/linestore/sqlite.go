package linestore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/bubbletalk/pkg/dialogue"
)

// SQLiteSchema creates the dialogue_lines table. Position preserves the
// authored order.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS dialogue_lines (
    position  INTEGER PRIMARY KEY,
    speaker   TEXT NOT NULL,
    id        TEXT NOT NULL,
    condition TEXT NOT NULL DEFAULT '',
    text      TEXT NOT NULL DEFAULT '',
    duration  TEXT NOT NULL DEFAULT '',
    next_id   TEXT NOT NULL DEFAULT '',
    note      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_dialogue_lines_speaker ON dialogue_lines(speaker);
`

// SQLiteStore is a [Store] and [Writer] backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ ReadWriter = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// [SQLiteSchema]. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("linestore: open sqlite %s: %w", path, err)
	}
	// A :memory: database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("linestore: sqlite wal mode: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("linestore: sqlite migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Lines implements [Store].
func (s *SQLiteStore) Lines(ctx context.Context) ([]dialogue.Line, error) {
	const query = `
		SELECT speaker, id, condition, text, duration, next_id, note
		FROM dialogue_lines
		ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("linestore: sqlite lines: %w", err)
	}
	defer rows.Close()

	var lines []dialogue.Line
	for rows.Next() {
		var l dialogue.Line
		var cond string
		if err := rows.Scan(&l.Speaker, &l.ID, &cond, &l.Text, &l.Duration, &l.NextID, &l.Note); err != nil {
			return nil, fmt.Errorf("linestore: sqlite scan: %w", err)
		}
		l.Condition = dialogue.Condition(cond)
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("linestore: sqlite lines: %w", err)
	}
	return lines, nil
}

// ReplaceAll implements [Writer] in a single transaction.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, lines []dialogue.Line) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("linestore: sqlite begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM dialogue_lines`); err != nil {
		return fmt.Errorf("linestore: sqlite clear: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dialogue_lines (position, speaker, id, condition, text, duration, next_id, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("linestore: sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for i, l := range lines {
		if _, err = stmt.ExecContext(ctx, i, l.Speaker, l.ID, string(l.Condition), l.Text, l.Duration, l.NextID, l.Note); err != nil {
			return fmt.Errorf("linestore: sqlite insert %q: %w", l.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("linestore: sqlite commit: %w", err)
	}
	return nil
}
