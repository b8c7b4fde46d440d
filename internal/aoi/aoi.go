// Package aoi computes per-session Area-of-Interest deltas against the
// Grid spatial model (spec.md §4.10): which entities entered, moved
// within, or left a player's AOI_RADIUS window since the previous tick.
package aoi

import (
	"sort"

	"github.com/l1jgo/simcore/internal/entity"
)

// Position is a minimal (x, y) pair independent of the Grid's internal
// cellCoord so this package doesn't need to reach into internal/spatial
// unexported state.
type Position struct {
	X, Y int32
}

// StateDelta is the per-session message the AOI/broadcast phase emits
// each tick, per spec.md §4.10 step 3.
type StateDelta struct {
	Tick    uint64
	Entered []Entry
	Moved   []Entry
	Left    []entity.ID
}

// Entry pairs an entity with its current position, used for Entered and
// Moved.
type Entry struct {
	Entity entity.ID
	Pos    Position
}

// IsEmpty reports whether the delta carries no transitions — the wire
// codec may elide these, per spec.md §4.10's invariant.
func (d StateDelta) IsEmpty() bool {
	return len(d.Entered) == 0 && len(d.Moved) == 0 && len(d.Left) == 0
}

// State is one session's AOI tracking state: the last-seen position for
// every entity within radius as of the previous tick.
type State struct {
	prior map[entity.ID]Position
}

// NewState returns an empty AOI state (nothing seen yet — the first
// delta computed against it reports every visible entity as Entered).
func NewState() *State {
	return &State{prior: make(map[entity.ID]Position)}
}

// Compute derives this tick's StateDelta from the current snapshot of
// visible entities and commits it as the new prior_aoi (spec.md §4.10
// steps 1-4 folded into one call: the caller supplies current_aoi,
// already computed via the spatial model's entities_in_radius).
func (s *State) Compute(tick uint64, current map[entity.ID]Position) StateDelta {
	var delta StateDelta
	delta.Tick = tick

	for id, pos := range current {
		oldPos, wasVisible := s.prior[id]
		if !wasVisible {
			delta.Entered = append(delta.Entered, Entry{Entity: id, Pos: pos})
			continue
		}
		if oldPos != pos {
			delta.Moved = append(delta.Moved, Entry{Entity: id, Pos: pos})
		}
	}
	for id := range s.prior {
		if _, stillVisible := current[id]; !stillVisible {
			delta.Left = append(delta.Left, id)
		}
	}

	sort.Slice(delta.Entered, func(i, j int) bool { return delta.Entered[i].Entity < delta.Entered[j].Entity })
	sort.Slice(delta.Moved, func(i, j int) bool { return delta.Moved[i].Entity < delta.Moved[j].Entity })
	sort.Slice(delta.Left, func(i, j int) bool { return delta.Left[i] < delta.Left[j] })

	s.prior = make(map[entity.ID]Position, len(current))
	for id, pos := range current {
		s.prior[id] = pos
	}

	return delta
}
