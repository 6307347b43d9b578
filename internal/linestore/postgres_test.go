package linestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/bubbletalk/pkg/dialogue"
)

// mockRows implements pgx.Rows over in-memory string rows.
type mockRows struct {
	data   [][]string
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		d, ok := dest[i].(*string)
		if !ok {
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
		*d = v
	}
	return nil
}

// mockBatch implements pgx.BatchResults, failing the exec at failAt.
type mockBatch struct {
	n      int
	failAt int
	closed bool
}

func (b *mockBatch) Exec() (pgconn.CommandTag, error) {
	b.n++
	if b.n-1 == b.failAt {
		return pgconn.CommandTag{}, errors.New("unique violation")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (b *mockBatch) Query() (pgx.Rows, error) { return &mockRows{}, nil }
func (b *mockBatch) QueryRow() pgx.Row        { return nil }
func (b *mockBatch) Close() error             { b.closed = true; return nil }

type mockDB struct {
	queryFunc func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execSQL   []string
	batches   []*pgx.Batch
	results   *mockBatch
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	m.execSQL = append(m.execSQL, sql)
	return pgconn.CommandTag{}, nil
}

func (m *mockDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	m.batches = append(m.batches, b)
	if m.results == nil {
		m.results = &mockBatch{failAt: -1}
	}
	return m.results
}

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execSQL) != 1 || !strings.Contains(db.execSQL[0], "CREATE TABLE IF NOT EXISTS dialogue_lines") {
		t.Errorf("exec = %q, want the schema", db.execSQL)
	}
}

func TestPostgresStore_Lines(t *testing.T) {
	t.Parallel()
	rows := &mockRows{data: [][]string{
		{"guard", "g1", "", "Halt!", "1.5", "g2", ""},
		{"guard", "gl", "leave", "Hey!", "0.5", "", ""},
	}}
	db := &mockDB{queryFunc: func(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
		if !strings.Contains(sql, "ORDER BY position") {
			t.Errorf("query does not preserve order: %s", sql)
		}
		return rows, nil
	}}

	got, err := NewPostgresStore(db).Lines(context.Background())
	if err != nil {
		t.Fatalf("Lines: %v", err)
	}
	want := []dialogue.Line{
		{Speaker: "guard", ID: "g1", Text: "Halt!", Duration: "1.5", NextID: "g2"},
		{Speaker: "guard", ID: "gl", Condition: dialogue.ConditionLeave, Text: "Hey!", Duration: "0.5"},
	}
	if !slices.Equal(got, want) {
		t.Errorf("got %+v\nwant %+v", got, want)
	}
	if !rows.closed {
		t.Error("rows were not closed")
	}
}

func TestPostgresStore_LinesErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection reset")
	tests := []struct {
		name string
		db   *mockDB
	}{
		{"query", &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) { return nil, boom }}},
		{"rows", &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &mockRows{err: boom}, nil
		}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPostgresStore(tc.db).Lines(context.Background())
			if !errors.Is(err, boom) {
				t.Errorf("err = %v, want wrapping %v", err, boom)
			}
		})
	}
}

func TestPostgresStore_ReplaceAll(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	if err := NewPostgresStore(db).ReplaceAll(context.Background(), sample); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	if len(db.batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(db.batches))
	}
	q := db.batches[0].QueuedQueries
	if len(q) != len(sample)+1 {
		t.Fatalf("queued %d queries, want %d", len(q), len(sample)+1)
	}
	if !strings.HasPrefix(q[0].SQL, "DELETE FROM dialogue_lines") {
		t.Errorf("first query = %q, want the delete", q[0].SQL)
	}
	args := q[2].Arguments
	if args[0] != 1 || args[2] != "g2" || args[7] != "done" {
		t.Errorf("second insert args = %v", args)
	}
	if !db.results.closed {
		t.Error("batch results were not closed")
	}
}

func TestPostgresStore_ReplaceAllInsertFails(t *testing.T) {
	t.Parallel()
	db := &mockDB{results: &mockBatch{failAt: 2}}
	err := NewPostgresStore(db).ReplaceAll(context.Background(), sample)
	if err == nil || !strings.Contains(err.Error(), `"g2"`) {
		t.Errorf("err = %v, want failure naming g2", err)
	}
	if !db.results.closed {
		t.Error("batch results were not closed after failure")
	}
}
