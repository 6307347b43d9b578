// Package journal records finished conversations as append-only JSON lines
// in a local file.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/MrWong99/bubbletalk/internal/conversation"
)

// Record is one journal entry.
type Record struct {
	conversation.Outcome

	// Error is the text of Outcome.Err, if any.
	Error string `json:"error,omitempty"`
}

// File appends records to a JSON lines file. It is safe for concurrent use.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a journal writing to path. The file is created on the
// first Append.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the journal file path.
func (j *File) Path() string { return j.path }

// Append writes out as one line.
func (j *File) Append(out conversation.Outcome) error {
	rec := Record{Outcome: out}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return nil
}

// Recent returns up to limit of speaker's most recent records, newest
// first. An empty speaker matches every record. A missing file yields no
// records. Lines that fail to parse are skipped.
func (j *File) Recent(speaker string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close()

	// ring holds the newest limit matches in insertion order.
	ring := make([]Record, 0, limit)
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if speaker != "" && rec.Speaker != speaker {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, rec)
			continue
		}
		ring[next] = rec
		next = (next + 1) % limit
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("journal: read: %w", err)
	}

	out := make([]Record, 0, len(ring))
	for k := range len(ring) {
		// Walk backwards from the newest entry.
		idx := (next - 1 - k + 2*len(ring)) % len(ring)
		out = append(out, ring[idx])
	}
	return out, nil
}
