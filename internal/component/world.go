package component

import (
	"sort"

	"github.com/l1jgo/simcore/internal/entity"
)

// World is the entity/component store described in spec.md §4.2: it owns
// the entity allocator and the component Registry and exposes the
// spawn/despawn/get/set/remove contract with EntityNotFound /
// ComponentNotFound / EntityAlreadyDead failure semantics.
type World struct {
	alloc    *entity.Allocator
	registry *Registry
	live     map[entity.ID]struct{}
}

// NewWorld returns an empty World.
func NewWorld() *World {
	return &World{
		alloc:    entity.NewAllocator(),
		registry: NewRegistry(),
		live:     make(map[entity.ID]struct{}, 1024),
	}
}

// Allocator exposes the underlying entity allocator (used by spatial,
// snapshot and plugin packages that need generation-checked liveness).
func (w *World) Allocator() *entity.Allocator { return w.alloc }

// Registry exposes the component registry (used to register typed stores
// and persistence/scripting handlers).
func (w *World) Registry() *Registry { return w.registry }

// SpawnEntity allocates a new live entity.
func (w *World) SpawnEntity() entity.ID {
	id := w.alloc.Allocate()
	w.live[id] = struct{}{}
	return id
}

// SpawnEntityWithID materializes an entity at a specific ID during snapshot
// restore. The caller must have already restored the allocator state so
// that id reports alive there; SpawnEntityWithID additionally fails with
// ErrEntityAlreadyDead if id is already materialized in this store.
func (w *World) SpawnEntityWithID(id entity.ID) error {
	if !w.alloc.IsAlive(id) {
		return ErrEntityNotFound
	}
	if _, ok := w.live[id]; ok {
		return ErrEntityAlreadyDead
	}
	w.live[id] = struct{}{}
	return nil
}

// DespawnEntity drops all components for id and deallocates it.
func (w *World) DespawnEntity(id entity.ID) error {
	if _, ok := w.live[id]; !ok {
		return ErrEntityNotFound
	}
	w.registry.RemoveAll(id)
	delete(w.live, id)
	w.alloc.Deallocate(id)
	return nil
}

// IsLive reports whether id is a currently-materialized entity in this store.
func (w *World) IsLive(id entity.ID) bool {
	_, ok := w.live[id]
	return ok
}

// AllEntities returns every live entity, sorted ascending by entity.ID.
func (w *World) AllEntities() []entity.ID {
	out := make([]entity.ID, 0, len(w.live))
	for id := range w.live {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Get fetches a typed component, failing with EntityNotFound if id isn't
// live in this store (even if the allocator still reports it alive — a
// component operation always goes through the World's own liveness map so
// despawned-but-not-yet-deallocated states can never be observed).
func Get[T any](w *World, s *Store[T], id entity.ID) (*T, error) {
	if !w.IsLive(id) {
		return nil, ErrEntityNotFound
	}
	return s.Get(id)
}

// Set assigns a typed component on a live entity.
func Set[T any](w *World, s *Store[T], id entity.ID, v *T) error {
	if !w.IsLive(id) {
		return ErrEntityNotFound
	}
	s.Set(id, v)
	return nil
}

// Remove drops a typed component from a live entity.
func Remove[T any](w *World, s *Store[T], id entity.ID) error {
	if !w.IsLive(id) {
		return ErrEntityNotFound
	}
	s.Remove(id)
	return nil
}

// Has reports whether a live entity carries the component; false (with no
// error) for a non-live entity.
func Has[T any](w *World, s *Store[T], id entity.ID) bool {
	if !w.IsLive(id) {
		return false
	}
	return s.Has(id)
}
