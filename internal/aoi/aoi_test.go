package aoi

import (
	"testing"

	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/spatial"
	"github.com/stretchr/testify/require"
)

func TestComputeFirstDeltaReportsAllAsEntered(t *testing.T) {
	s := NewState()
	self := entity.New(1, 0)
	near := entity.New(2, 0)

	current := map[entity.ID]Position{
		self: {X: 128, Y: 128},
		near: {X: 130, Y: 130},
	}
	delta := s.Compute(0, current)

	require.Len(t, delta.Entered, 2)
	require.Empty(t, delta.Moved)
	require.Empty(t, delta.Left)
}

func TestComputeScenarioThreeTeleportProducesLeftAndMoved(t *testing.T) {
	// Mirrors spec.md scenario 3 verbatim: self at (128,128), near at
	// (130,130) inside radius 32, far at (200,200) outside. First tick:
	// entered = [self, near]. Then self teleports to (200,128): next
	// delta must show near as left and self as moved.
	s := NewState()
	self := entity.New(1, 0)
	near := entity.New(2, 0)

	first := map[entity.ID]Position{
		self: {X: 128, Y: 128},
		near: {X: 130, Y: 130},
	}
	d0 := s.Compute(0, first)
	require.Len(t, d0.Entered, 2)

	second := map[entity.ID]Position{
		self: {X: 200, Y: 128},
	}
	d1 := s.Compute(1, second)

	requireContainsEntity(t, d1.Left, near)
	requireContainsMoved(t, d1.Moved, self)
}

func TestComputeNoChangeProducesEmptyDelta(t *testing.T) {
	s := NewState()
	self := entity.New(1, 0)
	current := map[entity.ID]Position{self: {X: 1, Y: 1}}

	s.Compute(0, current)
	d := s.Compute(1, current)

	require.True(t, d.IsEmpty())
}

func TestCurrentFromGridMatchesGridContents(t *testing.T) {
	g := spatial.NewGrid(300, 300, 0, 0)
	self := entity.New(1, 0)
	near := entity.New(2, 0)
	far := entity.New(3, 0)

	selfCell, _ := g.CellToEntityID(128, 128)
	nearCell, _ := g.CellToEntityID(130, 130)
	farCell, _ := g.CellToEntityID(200, 200)
	require.NoError(t, g.PlaceEntity(self, selfCell))
	require.NoError(t, g.PlaceEntity(near, nearCell))
	require.NoError(t, g.PlaceEntity(far, farCell))

	current, err := CurrentFromGrid(g, selfCell, 32)
	require.NoError(t, err)
	require.Contains(t, current, self)
	require.Contains(t, current, near)
	require.NotContains(t, current, far)
}

func requireContainsEntity(t *testing.T, ids []entity.ID, want entity.ID) {
	t.Helper()
	for _, id := range ids {
		if id == want {
			return
		}
	}
	t.Fatalf("expected %v to contain %v", ids, want)
}

func requireContainsMoved(t *testing.T, entries []Entry, want entity.ID) {
	t.Helper()
	for _, e := range entries {
		if e.Entity == want {
			return
		}
	}
	t.Fatalf("expected moved entries to contain %v", want)
}
