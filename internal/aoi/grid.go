package aoi

import (
	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/spatial"
)

// CurrentFromGrid builds the current_aoi map named in spec.md §4.10 step
// 1 by asking the Grid spatial model for every entity within radius of
// center and resolving each one's own cell position.
func CurrentFromGrid(g *spatial.Grid, center entity.ID, radius int32) (map[entity.ID]Position, error) {
	ids, err := g.EntitiesInRadius(center, radius)
	if err != nil {
		return nil, err
	}
	out := make(map[entity.ID]Position, len(ids))
	for _, id := range ids {
		cell, ok := g.EntityRoom(id)
		if !ok {
			continue
		}
		x, y, ok := g.EntityIDToCell(cell)
		if !ok {
			continue
		}
		out[id] = Position{X: x, Y: y}
	}
	return out, nil
}
