package linestore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/bubbletalk/pkg/dialogue"
)

// FileStore reads lines from a YAML, JSON(C) or CSV file chosen by
// extension. The file is re-read on every call so a [Reloader] picks up edits.
type FileStore struct {
	path   string
	format Format
}

var _ ReadWriter = (*FileStore)(nil)

// NewFileStore returns a FileStore for path. It fails if the extension has no
// known format; the file itself need not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, format: format}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Lines implements [Store].
func (s *FileStore) Lines(_ context.Context) ([]dialogue.Line, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("linestore: read %s: %w", s.path, err)
	}
	lines, err := Decode(data, s.format)
	if err != nil {
		return nil, fmt.Errorf("%w (file %s)", err, s.path)
	}
	return lines, nil
}

// ReplaceAll implements [Writer]. The file is written to a temporary sibling
// and renamed into place.
func (s *FileStore) ReplaceAll(_ context.Context, lines []dialogue.Line) error {
	var buf bytes.Buffer
	if err := Encode(&buf, s.format, lines); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".lines-*")
	if err != nil {
		return fmt.Errorf("linestore: write %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("linestore: write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("linestore: write %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("linestore: write %s: %w", s.path, err)
	}
	return nil
}
