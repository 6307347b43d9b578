package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/bubbletalk/pkg/presentation"
)

// ErrSurfaceNotRegistered is returned by [Registry.CreateSurface] when no
// factory has been registered for the requested kind.
var ErrSurfaceNotRegistered = errors.New("config: surface not registered")

// SurfaceFactory builds the surface for one NPC.
type SurfaceFactory func(NPCConfig) (presentation.Surface, error)

// Registry maps surface kinds to their factories. It is safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	surfaces map[SurfaceKind]SurfaceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{surfaces: make(map[SurfaceKind]SurfaceFactory)}
}

// RegisterSurface registers factory under kind. Subsequent calls with the
// same kind overwrite the previous registration.
func (r *Registry) RegisterSurface(kind SurfaceKind, factory SurfaceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces[kind] = factory
}

// CreateSurface builds the surface configured for npc. An empty kind is
// treated as [SurfaceLog].
func (r *Registry) CreateSurface(npc NPCConfig) (presentation.Surface, error) {
	kind := npc.Surface.Kind
	if kind == "" {
		kind = SurfaceLog
	}
	r.mu.RLock()
	f, ok := r.surfaces[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSurfaceNotRegistered, kind)
	}
	s, err := f(npc)
	if err != nil {
		return nil, fmt.Errorf("config: create %s surface for %q: %w", kind, npc.Speaker, err)
	}
	return s, nil
}

// Kinds returns the registered surface kinds in sorted order.
func (r *Registry) Kinds() []SurfaceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]SurfaceKind, 0, len(r.surfaces))
	for k := range r.surfaces {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
