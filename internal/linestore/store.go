// Package linestore loads dialogue lines from files, SQLite or PostgreSQL and
// keeps a [dialogue.Index] of them current.
//
// Every backend implements [Store]. Backends that can be written to, which is
// what the import command uses, also implement [Writer]. A [Reloader] polls a
// Store, rebuilds the index whenever the content changes and hands out the
// latest index to conversations.
package linestore

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/bubbletalk/pkg/dialogue"
)

// Store supplies the ordered line collection. Order matters: it decides
// start-line selection and which line wins on a duplicate id.
type Store interface {
	Lines(ctx context.Context) ([]dialogue.Line, error)
}

// Writer replaces a store's content.
type Writer interface {
	ReplaceAll(ctx context.Context, lines []dialogue.Line) error
}

// ReadWriter is a [Store] that is also a [Writer].
type ReadWriter interface {
	Store
	Writer
}

// MemStore is an in-memory [Store] and [Writer]. It is safe for concurrent
// use.
type MemStore struct {
	mu    sync.RWMutex
	lines []dialogue.Line
}

var _ ReadWriter = (*MemStore)(nil)

// NewMemStore returns a MemStore holding a copy of lines.
func NewMemStore(lines []dialogue.Line) *MemStore {
	return &MemStore{lines: slices.Clone(lines)}
}

// Lines implements [Store].
func (s *MemStore) Lines(_ context.Context) ([]dialogue.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.lines), nil
}

// ReplaceAll implements [Writer].
func (s *MemStore) ReplaceAll(_ context.Context, lines []dialogue.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = slices.Clone(lines)
	return nil
}
