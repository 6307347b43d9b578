package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup holds a primary backend and its fallbacks, tried in
// registration order.
type FallbackGroup[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewFallbackGroup returns a group with primary as its first member. cfg is
// the template for every member's breaker; its Name is replaced.
func NewFallbackGroup[T any](name string, primary T, cfg BreakerConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a fallback. It is not safe to call concurrently with Execute.
func (g *FallbackGroup[T]) Add(name string, fallback T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: fallback, breaker: NewBreaker(cfg)})
}

// Names returns the member names in order.
func (g *FallbackGroup[T]) Names() []string {
	out := make([]string, len(g.members))
	for i, m := range g.members {
		out[i] = m.name
	}
	return out
}

// Breaker returns the breaker guarding the named member, or nil.
func (g *FallbackGroup[T]) Breaker(name string) *Breaker {
	for _, m := range g.members {
		if m.name == name {
			return m.breaker
		}
	}
	return nil
}

// Execute calls fn on each member until one succeeds.
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := Do(g, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// Do calls fn on each member of g until one succeeds and returns its result
// together with the name of the member that produced it.
func Do[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	r, _, err := DoNamed(g, fn)
	return r, err
}

// DoNamed is [Do] that also reports which member answered.
func DoNamed[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.members {
		m := &g.members[i]
		var res R
		err := m.breaker.Execute(func() error {
			var err error
			res, err = fn(m.value)
			return err
		})
		if err == nil {
			return res, m.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend with open circuit", "backend", m.name)
			continue
		}
		slog.Warn("backend failed, trying next", "backend", m.name, "err", err)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
