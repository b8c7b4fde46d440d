// Package component implements the polymorphic, generic entity/component
// store. Each component type gets its own typed store; a Registry tracks
// every store so an entity's components can be bulk-removed on despawn.
package component

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/l1jgo/simcore/internal/entity"
)

var (
	// ErrEntityNotFound is returned by operations against a non-live entity.
	ErrEntityNotFound = errors.New("component: entity not found")
	// ErrComponentNotFound is returned by Get when the entity lacks the component.
	ErrComponentNotFound = errors.New("component: component not found")
	// ErrEntityAlreadyDead is returned by SpawnWithID on index collision.
	ErrEntityAlreadyDead = errors.New("component: entity id already materialized")
)

// Handler is the per-type capability a component registers for snapshot
// persistence, scripting, and command application: capture its value to an
// opaque blob, restore from one, drop it, and report its stable tag. This
// replaces runtime reflection with an explicit small interface per type
// (see DESIGN.md).
type Handler interface {
	Tag() string
	Capture(id entity.ID) ([]byte, bool)
	Restore(id entity.ID, data []byte) error
	Remove(id entity.ID)
}

// Removable is implemented by every typed store so Registry can bulk-clear
// an entity's data from all stores on despawn.
type Removable interface {
	remove(id entity.ID)
}

// Enumerable is implemented by a Handler that can list its own live
// entities (Store[T] and therefore JSONHandler[T], via EntitiesWith).
// Scripting's query() needs this to seed its candidate set; a bespoke
// Handler that can't enumerate simply doesn't satisfy it and is
// unusable as query()'s first tag.
type Enumerable interface {
	EntitiesWith() []entity.ID
}

// Store[T] is a generic typed component table keyed by entity.ID.
type Store[T any] struct {
	tag  string
	data map[entity.ID]*T
}

// NewStore creates an empty typed store under the given stable tag.
func NewStore[T any](tag string) *Store[T] {
	return &Store[T]{tag: tag, data: make(map[entity.ID]*T, 256)}
}

// Tag returns the component's stable tag string.
func (s *Store[T]) Tag() string { return s.tag }

// Set assigns (or replaces) the component for a live entity.
func (s *Store[T]) Set(id entity.ID, v *T) { s.data[id] = v }

// Get returns the component for id, or ErrComponentNotFound if absent.
func (s *Store[T]) Get(id entity.ID) (*T, error) {
	v, ok := s.data[id]
	if !ok {
		return nil, ErrComponentNotFound
	}
	return v, nil
}

// Has reports whether id carries this component.
func (s *Store[T]) Has(id entity.ID) bool {
	_, ok := s.data[id]
	return ok
}

// Remove drops the component for id, if present.
func (s *Store[T]) Remove(id entity.ID) { delete(s.data, id) }

func (s *Store[T]) remove(id entity.ID) { delete(s.data, id) }

// Len returns the number of entities carrying this component.
func (s *Store[T]) Len() int { return len(s.data) }

// EntitiesWith returns the sorted set of entities carrying this component,
// ascending by entity.ID, for deterministic iteration.
func (s *Store[T]) EntitiesWith() []entity.ID {
	out := make([]entity.ID, 0, len(s.data))
	for id := range s.data {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Each2 iterates entities carrying both components A and B, walking the
// smaller store and probing the larger one.
func Each2[A, B any](sa *Store[A], sb *Store[B], fn func(entity.ID, *A, *B)) {
	if sa.Len() <= sb.Len() {
		for id, a := range sa.data {
			if b, ok := sb.data[id]; ok {
				fn(id, a, b)
			}
		}
		return
	}
	for id, b := range sb.data {
		if a, ok := sa.data[id]; ok {
			fn(id, a, b)
		}
	}
}

// JSONHandler adapts a Store[T] into a Handler by encoding/decoding T as
// JSON. Most components have no reason to hand-roll Capture/Restore; this
// covers that common case, leaving a bespoke Handler only for components
// that need a non-JSON wire format.
type JSONHandler[T any] struct {
	*Store[T]
}

// NewJSONHandler creates a Store[T] wrapped as a JSON-backed Handler under tag.
func NewJSONHandler[T any](tag string) *JSONHandler[T] {
	return &JSONHandler[T]{Store: NewStore[T](tag)}
}

func (h *JSONHandler[T]) Capture(id entity.ID) ([]byte, bool) {
	v, ok := h.data[id]
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (h *JSONHandler[T]) Restore(id entity.ID, data []byte) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	h.data[id] = &v
	return nil
}

// Registry tracks every registered component store for bulk cleanup on
// entity destruction, plus the persistence/scripting Handlers keyed by tag.
type Registry struct {
	stores   []Removable
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a component store to the registry's bulk-cleanup list.
func (r *Registry) Register(store Removable) {
	r.stores = append(r.stores, store)
}

// RegisterHandler adds a persistence/scripting capability handler, keyed by
// its tag. Fails silently (overwrites) if the tag is reused — callers are
// expected to register each tag exactly once at startup.
func (r *Registry) RegisterHandler(h Handler) {
	r.handlers[h.Tag()] = h
}

// Handler looks up a registered capability handler by tag.
func (r *Registry) Handler(tag string) (Handler, bool) {
	h, ok := r.handlers[tag]
	return h, ok
}

// Tags returns every registered tag, sorted, for deterministic snapshot
// iteration.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// RemoveAll clears id from every registered component store.
func (r *Registry) RemoveAll(id entity.ID) {
	for _, s := range r.stores {
		s.remove(id)
	}
}
