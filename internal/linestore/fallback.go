package linestore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/bubbletalk/internal/resilience"
	"github.com/MrWong99/bubbletalk/pkg/dialogue"
)

// FallbackStore reads from a primary store behind a circuit breaker and
// serves a fallback store while the primary is failing. Writes go to the
// primary only.
//
// When the fallback is also a [Writer], every changed read from the primary
// is mirrored into it, so the fallback holds the last good snapshot.
type FallbackStore struct {
	primary  ReadWriter
	fallback Store
	group    *resilience.FallbackGroup[Store]

	mu       sync.Mutex
	mirrored [32]byte
	source   string
}

var _ ReadWriter = (*FallbackStore)(nil)

// NewFallbackStore guards primary with a breaker built from cfg and falls
// back to fallback.
func NewFallbackStore(primary ReadWriter, fallback Store, cfg resilience.BreakerConfig) *FallbackStore {
	g := resilience.NewFallbackGroup[Store]("primary", primary, cfg)
	g.Add("fallback", fallback)
	return &FallbackStore{primary: primary, fallback: fallback, group: g}
}

// Lines implements [Store].
func (s *FallbackStore) Lines(ctx context.Context) ([]dialogue.Line, error) {
	lines, source, err := resilience.DoNamed(s.group, func(st Store) ([]dialogue.Line, error) {
		return st.Lines(ctx)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if source != s.source {
		if s.source != "" {
			slog.Warn("line store source changed", "from", s.source, "to", source)
		}
		s.source = source
	}
	if source == "primary" {
		s.mirrorLocked(ctx, lines)
	}
	return lines, nil
}

func (s *FallbackStore) mirrorLocked(ctx context.Context, lines []dialogue.Line) {
	w, ok := s.fallback.(Writer)
	if !ok || len(lines) == 0 {
		return
	}
	sum := Fingerprint(lines)
	if sum == s.mirrored {
		return
	}
	if err := w.ReplaceAll(ctx, lines); err != nil {
		slog.Warn("mirroring lines into fallback failed", "err", err)
		return
	}
	s.mirrored = sum
}

// ReplaceAll implements [Writer].
func (s *FallbackStore) ReplaceAll(ctx context.Context, lines []dialogue.Line) error {
	return s.primary.ReplaceAll(ctx, lines)
}

// Source reports which store answered the last successful read: "primary",
// "fallback", or "" before the first read.
func (s *FallbackStore) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// PrimaryState reports the primary's breaker state.
func (s *FallbackStore) PrimaryState() resilience.State {
	return s.group.Breaker("primary").State()
}
