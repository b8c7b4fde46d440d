package spatial

import (
	"sort"

	"github.com/l1jgo/simcore/internal/entity"
)

// cellGeneration is the sentinel entity.ID generation value that marks an
// ID as a synthetic grid-cell reference rather than a real allocated
// entity, per spec.md §4.5 ("synthetic grid-cell EntityIDs"). It mirrors
// entity.SentinelGeneration so cell IDs round-trip through the same
// 64-bit encoding every other EntityID uses.
const cellGeneration = entity.SentinelGeneration

// Grid implements Model as a bounded 2D lattice. Cells are addressed by
// (x, y) and exposed through the common Model API as synthetic EntityIDs
// so callers never need to know whether they're holding a room or a cell.
type Grid struct {
	width, height int32
	originX       int32
	originY       int32

	pos    map[entity.ID]cellCoord // entity -> cell
	occCel map[cellCoord]map[entity.ID]struct{}
}

// cellCoord fields are exported so the snapshot codec's JSON encoding of
// gridSnapshot.Placements (map[entity.ID]cellCoord) round-trips; JSON
// silently drops unexported struct fields.
type cellCoord struct {
	X, Y int32
}

// NewGrid returns an empty grid bounded to [originX, originX+width) x
// [originY, originY+height).
func NewGrid(width, height, originX, originY int32) *Grid {
	return &Grid{
		width:   width,
		height:  height,
		originX: originX,
		originY: originY,
		pos:     make(map[entity.ID]cellCoord),
		occCel:  make(map[cellCoord]map[entity.ID]struct{}),
	}
}

func (g *Grid) Variant() Variant { return VariantGrid }

func (g *Grid) inBounds(c cellCoord) bool {
	return c.X >= g.originX && c.X < g.originX+g.width &&
		c.Y >= g.originY && c.Y < g.originY+g.height
}

// CellToEntityID encodes a cell coordinate as a synthetic EntityID using
// the sentinel generation, per spec.md §4.5. Returns ErrOutOfBounds if the
// coordinate falls outside the grid.
func (g *Grid) CellToEntityID(x, y int32) (entity.ID, error) {
	c := cellCoord{x, y}
	if !g.inBounds(c) {
		return 0, ErrOutOfBounds
	}
	return cellToID(c), nil
}

// EntityIDToCell decodes a synthetic cell EntityID back to its (x, y)
// coordinate. ok is false if id does not carry the sentinel generation.
func (g *Grid) EntityIDToCell(id entity.ID) (x, y int32, ok bool) {
	if id.Generation() != cellGeneration {
		return 0, 0, false
	}
	c := idToCell(id)
	return c.X, c.Y, true
}

// cellToID packs (x, y) into the low/high halves of an entity index under
// the sentinel generation. x and y are each truncated to 16 bits, which
// bounds grid worlds to 65536x65536 cells — generous for the spec's 2D
// grid MMO variant.
func cellToID(c cellCoord) entity.ID {
	ux := uint32(uint16(c.X))
	uy := uint32(uint16(c.Y))
	idx := (uy << 16) | ux
	return entity.New(idx, cellGeneration)
}

func idToCell(id entity.ID) cellCoord {
	idx := id.Index()
	x := int32(int16(uint16(idx & 0xFFFF)))
	y := int32(int16(uint16((idx >> 16) & 0xFFFF)))
	return cellCoord{X: x, Y: y}
}

func (g *Grid) EntityRoom(e entity.ID) (entity.ID, bool) {
	c, ok := g.pos[e]
	if !ok {
		return 0, false
	}
	return cellToID(c), true
}

func (g *Grid) EntitiesInSameArea(e entity.ID) ([]entity.ID, error) {
	c, ok := g.pos[e]
	if !ok {
		return nil, ErrEntityNotPlaced
	}
	return g.occupantsSorted(c), nil
}

// Neighbors returns the in-bounds Moore neighborhood (8-connected) of the
// cell encoded by room, whether occupied or not, sorted ascending. room must be a synthetic cell
// EntityID produced by CellToEntityID.
func (g *Grid) Neighbors(room entity.ID) ([]entity.ID, error) {
	x, y, ok := g.EntityIDToCell(room)
	if !ok {
		return nil, ErrWrongVariant
	}
	center := cellCoord{x, y}
	if !g.inBounds(center) {
		return nil, ErrOutOfBounds
	}

	seen := make(map[entity.ID]struct{})
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			c := cellCoord{x + dx, y + dy}
			if !g.inBounds(c) {
				continue
			}
			seen[cellToID(c)] = struct{}{}
		}
	}
	out := make([]entity.ID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// chebyshev returns the Chebyshev (king-move) distance between two cells.
func chebyshev(a, b cellCoord) int32 {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// MoveEntity requires target to be exactly one Chebyshev step from e's
// current cell (the single-step movement model of a grid MMO's tick-driven
// input). Use SetPosition for unconstrained placement (teleport, respawn).
func (g *Grid) MoveEntity(e, target entity.ID) error {
	cur, ok := g.pos[e]
	if !ok {
		return ErrEntityNotPlaced
	}
	tx, ty, ok := g.EntityIDToCell(target)
	if !ok {
		return ErrWrongVariant
	}
	dest := cellCoord{tx, ty}
	if !g.inBounds(dest) {
		return ErrOutOfBounds
	}
	if chebyshev(cur, dest) != 1 {
		return ErrTooFar
	}
	g.relocate(e, cur, dest)
	return nil
}

// SetPosition places e at target without the adjacency constraint
// MoveEntity enforces. Used for spawn, respawn, and admin teleport.
func (g *Grid) SetPosition(e, target entity.ID) error {
	tx, ty, ok := g.EntityIDToCell(target)
	if !ok {
		return ErrWrongVariant
	}
	dest := cellCoord{tx, ty}
	if !g.inBounds(dest) {
		return ErrOutOfBounds
	}
	cur, had := g.pos[e]
	if had {
		g.relocate(e, cur, dest)
	} else {
		g.place(e, dest)
	}
	return nil
}

func (g *Grid) relocate(e entity.ID, from, to cellCoord) {
	if set, ok := g.occCel[from]; ok {
		delete(set, e)
	}
	g.place(e, to)
}

func (g *Grid) place(e entity.ID, c cellCoord) {
	set, ok := g.occCel[c]
	if !ok {
		set = make(map[entity.ID]struct{})
		g.occCel[c] = set
	}
	set[e] = struct{}{}
	g.pos[e] = c
}

// PlaceEntity puts e at target with no adjacency requirement. Fails with
// ErrAlreadyPlaced if e already has a cell.
func (g *Grid) PlaceEntity(e, target entity.ID) error {
	if _, ok := g.pos[e]; ok {
		return ErrAlreadyPlaced
	}
	tx, ty, ok := g.EntityIDToCell(target)
	if !ok {
		return ErrWrongVariant
	}
	c := cellCoord{tx, ty}
	if !g.inBounds(c) {
		return ErrOutOfBounds
	}
	g.place(e, c)
	return nil
}

func (g *Grid) RemoveEntity(e entity.ID) error {
	c, ok := g.pos[e]
	if !ok {
		return ErrEntityNotPlaced
	}
	delete(g.occCel[c], e)
	delete(g.pos, e)
	return nil
}

// EntitiesInRadius returns every entity within Chebyshev distance radius of
// center, sorted ascending. center need not itself be occupied.
func (g *Grid) EntitiesInRadius(center entity.ID, radius int32) ([]entity.ID, error) {
	cx, cy, ok := g.EntityIDToCell(center)
	if !ok {
		return nil, ErrWrongVariant
	}
	c := cellCoord{cx, cy}
	var out []entity.ID
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			cell := cellCoord{c.X + dx, c.Y + dy}
			if !g.inBounds(cell) {
				continue
			}
			for id := range g.occCel[cell] {
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (g *Grid) occupantsSorted(c cellCoord) []entity.ID {
	set := g.occCel[c]
	out := make([]entity.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// gridSnapshot is the opaque capture/restore payload for a Grid.
type gridSnapshot struct {
	Width, Height    int32
	OriginX, OriginY int32
	Placements       map[entity.ID]cellCoord
}

func (g *Grid) SnapshotState() (any, error) {
	placements := make(map[entity.ID]cellCoord, len(g.pos))
	for e, c := range g.pos {
		placements[e] = c
	}
	return gridSnapshot{
		Width: g.width, Height: g.height,
		OriginX: g.originX, OriginY: g.originY,
		Placements: placements,
	}, nil
}

func (g *Grid) RestoreFromSnapshot(data any) error {
	snap, ok := data.(gridSnapshot)
	if !ok {
		return ErrCrossVariantData
	}
	g.width, g.height = snap.Width, snap.Height
	g.originX, g.originY = snap.OriginX, snap.OriginY
	g.pos = make(map[entity.ID]cellCoord)
	g.occCel = make(map[cellCoord]map[entity.ID]struct{})
	for e, c := range snap.Placements {
		g.place(e, c)
	}
	return nil
}
