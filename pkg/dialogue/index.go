package dialogue

import (
	"log/slog"
	"slices"
)

// Index is the id → line lookup derived from an ordered line collection.
//
// An Index is immutable once built and safe for concurrent readers. When the
// underlying store changes, build a new one with [BuildIndex] rather than
// patching.
type Index struct {
	byID       map[string]*Line
	ordered    []*Line
	duplicates []string
}

// BuildIndex registers every line with a non-empty ID in input order. When an
// ID repeats, the first registration wins and a warning is logged; the
// repeated ID is listed by [Index.Duplicates].
//
// The input slice is copied, so later mutation by the caller does not leak
// into the index.
func BuildIndex(lines []Line) *Index {
	idx := &Index{
		byID:    make(map[string]*Line, len(lines)),
		ordered: make([]*Line, 0, len(lines)),
	}
	for i := range lines {
		l := lines[i]
		if l.ID == "" {
			continue
		}
		if prev, ok := idx.byID[l.ID]; ok {
			slog.Warn("dialogue: duplicate line id, keeping first",
				"line_id", l.ID,
				"kept_speaker", prev.Speaker,
				"dropped_speaker", l.Speaker,
				"position", i,
			)
			idx.duplicates = append(idx.duplicates, l.ID)
			continue
		}
		idx.byID[l.ID] = &l
		idx.ordered = append(idx.ordered, &l)
	}
	return idx
}

// Lookup returns the line registered under id.
func (x *Index) Lookup(id string) (*Line, bool) {
	if x == nil {
		return nil, false
	}
	l, ok := x.byID[id]
	return l, ok
}

// Len returns the number of registered lines.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.ordered)
}

// Lines returns the registered lines in registration (store) order.
func (x *Index) Lines() []*Line {
	if x == nil {
		return nil
	}
	return slices.Clone(x.ordered)
}

// Duplicates returns the IDs that were dropped because an earlier line
// already used them, in the order they were encountered.
func (x *Index) Duplicates() []string {
	if x == nil {
		return nil
	}
	return slices.Clone(x.duplicates)
}

// Speakers returns the distinct speakers in order of first appearance.
func (x *Index) Speakers() []string {
	if x == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, l := range x.ordered {
		if !seen[l.Speaker] {
			seen[l.Speaker] = true
			out = append(out, l.Speaker)
		}
	}
	return out
}

// FindLeave returns a line tagged [ConditionLeave]. Lines belonging to
// speaker are preferred; otherwise the first leave line in store order is
// used. Which of several candidates wins is not part of the contract.
func (x *Index) FindLeave(speaker string) (*Line, bool) {
	if x == nil {
		return nil, false
	}
	var fallback *Line
	for _, l := range x.ordered {
		if l.Condition != ConditionLeave {
			continue
		}
		if l.Speaker == speaker {
			return l, true
		}
		if fallback == nil {
			fallback = l
		}
	}
	return fallback, fallback != nil
}

// Equal reports whether x and y hold the same registrations in the same
// order.
func (x *Index) Equal(y *Index) bool {
	if x == nil || y == nil {
		return x.Len() == 0 && y.Len() == 0
	}
	if x.Len() != y.Len() {
		return false
	}
	for i, l := range x.ordered {
		if *l != *y.ordered[i] {
			return false
		}
	}
	return slices.Equal(x.duplicates, y.duplicates)
}
