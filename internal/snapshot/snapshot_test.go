package snapshot

import (
	"os"
	"testing"

	"github.com/l1jgo/simcore/internal/component"
	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/spatial"
	"github.com/stretchr/testify/require"
)

// hpHandler is a minimal component.Handler over a plain map, standing in
// for a generated typed store's handler wrapper.
type hpHandler struct {
	tag    string
	values map[entity.ID][]byte
}

func newHPHandler() *hpHandler { return &hpHandler{tag: "hp", values: make(map[entity.ID][]byte)} }

func (h *hpHandler) Tag() string { return h.tag }
func (h *hpHandler) Capture(id entity.ID) ([]byte, bool) {
	v, ok := h.values[id]
	return v, ok
}
func (h *hpHandler) Restore(id entity.ID, data []byte) error {
	h.values[id] = append([]byte(nil), data...)
	return nil
}
func (h *hpHandler) Remove(id entity.ID) { delete(h.values, id) }

func TestCaptureRestoreRoundTripScenarioSix(t *testing.T) {
	// Mirrors spec.md scenario 6: create entity at room R, despawn another
	// entity (generation gap), capture, restore into a fresh core, verify
	// the survivor's placement and the allocator's generation/free-list
	// state.
	world := component.NewWorld()
	hp := newHPHandler()
	world.Registry().RegisterHandler(hp)

	room := entity.New(100, 0)
	space := spatial.NewRoomGraph()
	space.AddRoom(room)

	doomed := world.SpawnEntity() // index 0, gen 0
	survivor := world.SpawnEntity() // index 1, gen 0
	hp.values[survivor] = []byte("42")
	require.NoError(t, space.PlaceEntity(survivor, room))

	require.NoError(t, world.DespawnEntity(doomed))

	snap, err := Capture(world, space, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(7), snap.Tick)

	freshWorld := component.NewWorld()
	freshHP := newHPHandler()
	freshWorld.Registry().RegisterHandler(freshHP)
	freshSpace := spatial.NewRoomGraph()
	freshSpace.AddRoom(room)

	require.NoError(t, Restore(snap, freshWorld, freshSpace))

	require.True(t, freshWorld.IsLive(survivor))
	require.False(t, freshWorld.IsLive(doomed))
	require.Equal(t, []byte("42"), freshHP.values[survivor])

	gotRoom, ok := freshSpace.EntityRoom(survivor)
	require.True(t, ok)
	require.Equal(t, room, gotRoom)

	// The freed index (0) must keep its generation in the restored
	// allocator, so the next allocation at that index bumps it by one.
	reallocated := freshWorld.SpawnEntity()
	require.Equal(t, doomed.Index(), reallocated.Index())
	require.Equal(t, doomed.Generation()+1, reallocated.Generation())
	require.False(t, freshWorld.Allocator().IsAlive(doomed))
	require.True(t, freshWorld.Allocator().IsAlive(reallocated))
}

func TestCaptureRestoreCaptureIsByteIdentical(t *testing.T) {
	// spec.md §8 universal invariant: restoring a snapshot into a fresh
	// core and capturing again yields a byte-identical snapshot at the
	// same tick.
	world := component.NewWorld()
	hp := newHPHandler()
	world.Registry().RegisterHandler(hp)
	space := spatial.NewRoomGraph()
	room := entity.New(1, 0)
	space.AddRoom(room)

	e := world.SpawnEntity()
	hp.values[e] = []byte("99")
	require.NoError(t, space.PlaceEntity(e, room))

	first, err := Capture(world, space, 3)
	require.NoError(t, err)

	world2 := component.NewWorld()
	hp2 := newHPHandler()
	world2.Registry().RegisterHandler(hp2)
	space2 := spatial.NewRoomGraph()
	space2.AddRoom(room)

	require.NoError(t, Restore(first, world2, space2))
	second, err := Capture(world2, space2, 3)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestRestoreRejectsVersionMismatch(t *testing.T) {
	world := component.NewWorld()
	space := spatial.NewRoomGraph()
	snap := WorldSnapshot{Version: FormatVersion + 1, SpaceVariant: spatial.VariantRoomGraph}
	err := Restore(snap, world, space)
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestRestoreRejectsCrossVariantSpace(t *testing.T) {
	world := component.NewWorld()
	space := spatial.NewGrid(10, 10, 0, 0)
	snap := WorldSnapshot{Version: FormatVersion, SpaceVariant: spatial.VariantRoomGraph}
	err := Restore(snap, world, space)
	require.ErrorIs(t, err, spatial.ErrCrossVariantData)
}

func TestWriteFileThenReadLatestRoundTrips(t *testing.T) {
	dir := t.TempDir()
	snap := WorldSnapshot{
		Version:      FormatVersion,
		Tick:         12,
		SpaceVariant: spatial.VariantRoomGraph,
		SpaceData:    []byte(`{"Rooms":null,"Exits":{},"Place":{}}`),
	}
	require.NoError(t, WriteFile(dir, "snapshot-12.json", snap))

	got, err := ReadLatest(dir)
	require.NoError(t, err)
	require.Equal(t, uint64(12), got.Tick)

	_, err = os.Stat(dir + "/snapshot-12.json")
	require.NoError(t, err)
}
