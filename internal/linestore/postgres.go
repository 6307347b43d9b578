package linestore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/bubbletalk/pkg/dialogue"
)

// PostgresSchema is the DDL for the dialogue_lines table. Apply it with
// [PostgresStore.Migrate] or during deployment.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS dialogue_lines (
    position   INTEGER PRIMARY KEY,
    speaker    TEXT NOT NULL,
    id         TEXT NOT NULL,
    condition  TEXT NOT NULL DEFAULT '',
    text       TEXT NOT NULL DEFAULT '',
    duration   TEXT NOT NULL DEFAULT '',
    next_id    TEXT NOT NULL DEFAULT '',
    note       TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_dialogue_lines_speaker ON dialogue_lines(speaker);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore is a [Store] and [Writer] backed by PostgreSQL.
type PostgresStore struct {
	db    DB
	close func()
}

var _ ReadWriter = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection or pool. The caller owns db
// and should run [PostgresStore.Migrate] before use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, close: func() {}}
}

// OpenPostgres connects a pool to dsn, pings it and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("linestore: parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("linestore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("linestore: ping postgres: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool when the store opened it.
func (s *PostgresStore) Close() { s.close() }

// Migrate executes [PostgresSchema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("linestore: migrate: %w", err)
	}
	return nil
}

// Lines implements [Store].
func (s *PostgresStore) Lines(ctx context.Context) ([]dialogue.Line, error) {
	const query = `
		SELECT speaker, id, condition, text, duration, next_id, note
		FROM dialogue_lines
		ORDER BY position`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("linestore: postgres lines: %w", err)
	}
	defer rows.Close()

	var lines []dialogue.Line
	for rows.Next() {
		var l dialogue.Line
		var cond string
		if err := rows.Scan(&l.Speaker, &l.ID, &cond, &l.Text, &l.Duration, &l.NextID, &l.Note); err != nil {
			return nil, fmt.Errorf("linestore: postgres scan: %w", err)
		}
		l.Condition = dialogue.Condition(cond)
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("linestore: postgres lines: %w", err)
	}
	return lines, nil
}

// ReplaceAll implements [Writer]. The delete and all inserts go out as one
// batch, which PostgreSQL runs as a single implicit transaction.
func (s *PostgresStore) ReplaceAll(ctx context.Context, lines []dialogue.Line) error {
	const insert = `
		INSERT INTO dialogue_lines (position, speaker, id, condition, text, duration, next_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	b := &pgx.Batch{}
	b.Queue(`DELETE FROM dialogue_lines`)
	for i, l := range lines {
		b.Queue(insert, i, l.Speaker, l.ID, string(l.Condition), l.Text, l.Duration, l.NextID, l.Note)
	}

	br := s.db.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			if i == 0 {
				return fmt.Errorf("linestore: postgres clear: %w", err)
			}
			return fmt.Errorf("linestore: postgres insert %q: %w", lines[i-1].ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("linestore: postgres replace: %w", err)
	}
	return nil
}
