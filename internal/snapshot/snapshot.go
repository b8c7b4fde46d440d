// Package snapshot captures and restores the full simulation state named in
// spec.md §4.11: the entity allocator, every live entity's component data,
// and the spatial model, as one versioned, atomically-written file.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/l1jgo/simcore/internal/component"
	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/spatial"
)

// FormatVersion is bumped whenever the shape of WorldSnapshot changes in a
// way that breaks backward compatibility. Restore refuses to load a
// snapshot whose Version doesn't match.
const FormatVersion uint32 = 1

// ErrVersionMismatch is returned by Restore when a snapshot's Version
// doesn't match FormatVersion.
var ErrVersionMismatch = errors.New("snapshot: version mismatch")

// EntityRecord is one live entity's captured component data, keyed by
// component tag.
type EntityRecord struct {
	ID         entity.ID
	Components map[string][]byte
}

// WorldSnapshot is the full state captured at a tick boundary: the
// allocator's generation/liveness bookkeeping, every live entity's
// components, and the spatial model's own opaque state.
type WorldSnapshot struct {
	Version      uint32
	Tick         uint64
	Allocator    entity.SnapshotState
	Entities     []EntityRecord
	SpaceVariant spatial.Variant
	SpaceData    json.RawMessage
}

// Capture walks every live entity in world, asking each registered
// component Handler to capture its payload, and bundles the allocator and
// spatial model state alongside it. Handlers that report !ok (the entity
// doesn't carry that component) are skipped — EntityRecord.Components only
// holds tags actually present.
func Capture(world *component.World, space spatial.Model, tick uint64) (WorldSnapshot, error) {
	registry := world.Registry()
	tags := registry.Tags()

	ids := world.AllEntities()
	entities := make([]EntityRecord, 0, len(ids))
	for _, id := range ids {
		rec := EntityRecord{ID: id, Components: make(map[string][]byte)}
		for _, tag := range tags {
			h, ok := registry.Handler(tag)
			if !ok {
				continue
			}
			payload, present := h.Capture(id)
			if !present {
				continue
			}
			rec.Components[tag] = payload
		}
		entities = append(entities, rec)
	}

	spaceData, err := spatial.EncodeSnapshotState(space)
	if err != nil {
		return WorldSnapshot{}, fmt.Errorf("snapshot: encode spatial state: %w", err)
	}

	allocSnap, ok := world.Allocator().Snapshot().(entity.SnapshotState)
	if !ok {
		return WorldSnapshot{}, fmt.Errorf("snapshot: unexpected allocator snapshot type")
	}

	return WorldSnapshot{
		Version:      FormatVersion,
		Tick:         tick,
		Allocator:    allocSnap,
		Entities:     entities,
		SpaceVariant: space.Variant(),
		SpaceData:    spaceData,
	}, nil
}

// Restore replaces world's and space's state with snap's. world must be
// empty (a fresh core, or one that's just been reset) — restoring into a
// world with live entities would collide with SpawnEntityWithID. space must
// already be the correct concrete variant; Restore fails with
// spatial.ErrCrossVariantData if snap.SpaceVariant doesn't match
// space.Variant().
func Restore(snap WorldSnapshot, world *component.World, space spatial.Model) error {
	if snap.Version != FormatVersion {
		return fmt.Errorf("%w: snapshot is version %d, this build expects %d",
			ErrVersionMismatch, snap.Version, FormatVersion)
	}
	if snap.SpaceVariant != space.Variant() {
		return spatial.ErrCrossVariantData
	}

	world.Allocator().Restore(snap.Allocator)

	registry := world.Registry()
	for _, rec := range snap.Entities {
		if err := world.SpawnEntityWithID(rec.ID); err != nil {
			return fmt.Errorf("snapshot: restore entity %d: %w", rec.ID, err)
		}
		for tag, payload := range rec.Components {
			h, ok := registry.Handler(tag)
			if !ok {
				continue
			}
			if err := h.Restore(rec.ID, payload); err != nil {
				return fmt.Errorf("snapshot: restore component %q on entity %d: %w", tag, rec.ID, err)
			}
		}
	}

	spaceState, err := spatial.DecodeSnapshotState(snap.SpaceVariant, snap.SpaceData)
	if err != nil {
		return err
	}
	if err := space.RestoreFromSnapshot(spaceState); err != nil {
		return err
	}
	return nil
}
