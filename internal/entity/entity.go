// Package entity implements generational entity identifiers and the
// allocator that owns their lifecycle.
package entity

// ID encodes a 32-bit index in the low bits and a 32-bit generation in the
// high bits. A second allocation at the same index bumps the generation,
// invalidating any ID holding the old one.
type ID uint64

// SentinelGeneration marks synthetic grid-cell IDs (see internal/spatial).
// The allocator never produces it.
const SentinelGeneration uint32 = 0xFFFFFFFF

// New packs an index and generation into an ID.
func New(index, generation uint32) ID {
	return ID(uint64(generation)<<32 | uint64(index))
}

// Index returns the low 32 bits.
func (id ID) Index() uint32 { return uint32(id) }

// Generation returns the high 32 bits.
func (id ID) Generation() uint32 { return uint32(id >> 32) }

// IsZero reports whether id is the zero value (index 0, generation 0).
func (id ID) IsZero() bool { return id == 0 }

// IsSynthetic reports whether id carries the sentinel generation used for
// grid-cell references.
func (id ID) IsSynthetic() bool { return id.Generation() == SentinelGeneration }

// ToUint64 is the bijective 64-bit encoding used at the plugin/script ABI
// boundary: generation<<32 | index.
func (id ID) ToUint64() uint64 { return uint64(id) }

// FromUint64 is the inverse of ToUint64. ToUint64 ∘ FromUint64 = identity on
// all 2^64 values, and vice versa, since ID is itself a uint64 newtype.
func FromUint64(v uint64) ID { return ID(v) }

// Allocator owns three parallel arrays indexed by entity index: a
// generation counter, a liveness flag, and a free-index stack. Allocation
// pops a free index (bumping its generation) or grows the arrays;
// deallocation flips the liveness flag and pushes the index back onto the
// free stack without touching its generation — the next Allocate at that
// index performs the bump.
type Allocator struct {
	generations []uint32
	alive       []bool
	free        []uint32
	aliveCount  int
}

// NewAllocator returns an empty allocator.
func NewAllocator() *Allocator {
	return &Allocator{
		generations: make([]uint32, 0, 1024),
		alive:       make([]bool, 0, 1024),
		free:        make([]uint32, 0, 256),
	}
}

// Allocate returns a fresh, live ID in O(1).
func (a *Allocator) Allocate() ID {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.generations[idx]++
		a.alive[idx] = true
		a.aliveCount++
		return New(idx, a.generations[idx])
	}
	idx := uint32(len(a.generations))
	a.generations = append(a.generations, 0)
	a.alive = append(a.alive, true)
	a.aliveCount++
	return New(idx, 0)
}

// IsAlive reports whether id refers to a currently-live slot with a
// matching generation. Never panics on out-of-range input.
func (a *Allocator) IsAlive(id ID) bool {
	idx := id.Index()
	if int(idx) >= len(a.generations) {
		return false
	}
	return a.alive[idx] && a.generations[idx] == id.Generation()
}

// Deallocate marks id dead and returns its index to the free stack.
// Returns false if the index is out of bounds, already dead, or the
// generation is stale — it never panics.
func (a *Allocator) Deallocate(id ID) bool {
	idx := id.Index()
	if int(idx) >= len(a.generations) {
		return false
	}
	if !a.alive[idx] || a.generations[idx] != id.Generation() {
		return false
	}
	a.alive[idx] = false
	a.free = append(a.free, idx)
	a.aliveCount--
	return true
}

// AliveCount returns the number of currently-live slots.
func (a *Allocator) AliveCount() int { return a.aliveCount }

// Capacity returns the number of index slots ever allocated (live or dead).
func (a *Allocator) Capacity() int { return len(a.generations) }

// snapshotState is the serializable form of the allocator, used by
// internal/snapshot.
type snapshotState struct {
	Generations []uint32
	Alive       []bool
	Free        []uint32
}

// Snapshot captures the allocator's internal arrays for persistence.
func (a *Allocator) Snapshot() any {
	gens := make([]uint32, len(a.generations))
	copy(gens, a.generations)
	al := make([]bool, len(a.alive))
	copy(al, a.alive)
	fr := make([]uint32, len(a.free))
	copy(fr, a.free)
	return snapshotState{Generations: gens, Alive: al, Free: fr}
}

// Restore replaces the allocator's state with a previously captured
// snapshot. The caller must restore the allocator before re-materializing
// entities into the component store (spawn_entity_with_id requires it).
func (a *Allocator) Restore(s snapshotState) {
	a.generations = append([]uint32(nil), s.Generations...)
	a.alive = append([]bool(nil), s.Alive...)
	a.free = append([]uint32(nil), s.Free...)
	a.aliveCount = 0
	for _, v := range a.alive {
		if v {
			a.aliveCount++
		}
	}
}

// Generations returns a copy of the per-index generation counters.
func (a *Allocator) Generations() []uint32 { return append([]uint32(nil), a.generations...) }

// AliveFlags returns a copy of the per-index liveness flags.
func (a *Allocator) AliveFlags() []bool { return append([]bool(nil), a.alive...) }

// FreeList returns a copy of the free-index stack.
func (a *Allocator) FreeList() []uint32 { return append([]uint32(nil), a.free...) }

// SnapshotState exposes the concrete type for callers (e.g. internal/snapshot)
// that need to encode/decode it directly rather than through the any-typed
// Snapshot/Restore pair.
type SnapshotState = snapshotState

// NewSnapshotState builds a SnapshotState for restore, used by codec decoders.
func NewSnapshotState(generations []uint32, alive []bool, free []uint32) SnapshotState {
	return SnapshotState{Generations: generations, Alive: alive, Free: free}
}
