package spatial

import (
	"sort"

	"github.com/l1jgo/simcore/internal/entity"
)

// Exit is a named connection from one room to another ("north", "south",
// "east", "west", or any custom exit name).
type Exit struct {
	Name string
	To   entity.ID
}

// RoomGraph implements Model as a directed graph of rooms (entity IDs) with
// named exits, plus an entity-to-room / room-to-occupants mapping.
type RoomGraph struct {
	exits     map[entity.ID][]Exit
	entRoom   map[entity.ID]entity.ID
	occupants map[entity.ID]map[entity.ID]struct{}
}

// NewRoomGraph returns an empty room graph.
func NewRoomGraph() *RoomGraph {
	return &RoomGraph{
		exits:     make(map[entity.ID][]Exit),
		entRoom:   make(map[entity.ID]entity.ID),
		occupants: make(map[entity.ID]map[entity.ID]struct{}),
	}
}

func (g *RoomGraph) Variant() Variant { return VariantRoomGraph }

// AddRoom registers a room so it can receive exits and occupants. A no-op
// if the room is already registered.
func (g *RoomGraph) AddRoom(room entity.ID) {
	if _, ok := g.occupants[room]; !ok {
		g.occupants[room] = make(map[entity.ID]struct{})
	}
}

// AddExit creates a one-directional named exit from one room to another.
// Callers wanting a bidirectional connection add the reverse exit too.
func (g *RoomGraph) AddExit(from entity.ID, name string, to entity.ID) {
	g.AddRoom(from)
	g.AddRoom(to)
	g.exits[from] = append(g.exits[from], Exit{Name: name, To: to})
}

// Exits returns the exits registered on a room.
func (g *RoomGraph) Exits(room entity.ID) []Exit {
	return g.exits[room]
}

func (g *RoomGraph) EntityRoom(e entity.ID) (entity.ID, bool) {
	r, ok := g.entRoom[e]
	return r, ok
}

func (g *RoomGraph) EntitiesInSameArea(e entity.ID) ([]entity.ID, error) {
	room, ok := g.entRoom[e]
	if !ok {
		return nil, ErrEntityNotPlaced
	}
	return g.occupantsSorted(room), nil
}

// Neighbors returns the sorted, deduplicated set of exit destinations from
// room.
func (g *RoomGraph) Neighbors(room entity.ID) ([]entity.ID, error) {
	if _, ok := g.occupants[room]; !ok {
		return nil, ErrRoomNotFound
	}
	seen := make(map[entity.ID]struct{})
	for _, ex := range g.exits[room] {
		seen[ex.To] = struct{}{}
	}
	out := make([]entity.ID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// MoveEntity requires target to be listed among the current room's exits;
// it then atomically updates the entity→room and room→occupants mappings.
func (g *RoomGraph) MoveEntity(e, target entity.ID) error {
	cur, ok := g.entRoom[e]
	if !ok {
		return ErrEntityNotPlaced
	}
	if _, ok := g.occupants[target]; !ok {
		return ErrRoomNotFound
	}
	hasExit := false
	for _, ex := range g.exits[cur] {
		if ex.To == target {
			hasExit = true
			break
		}
	}
	if !hasExit {
		return ErrNoExit
	}
	delete(g.occupants[cur], e)
	g.occupants[target][e] = struct{}{}
	g.entRoom[e] = target
	return nil
}

// PlaceEntity puts e into target with no exit-adjacency requirement. Fails
// with ErrAlreadyPlaced if e is already somewhere.
func (g *RoomGraph) PlaceEntity(e, target entity.ID) error {
	if _, ok := g.entRoom[e]; ok {
		return ErrAlreadyPlaced
	}
	if _, ok := g.occupants[target]; !ok {
		return ErrRoomNotFound
	}
	g.occupants[target][e] = struct{}{}
	g.entRoom[e] = target
	return nil
}

// RemoveEntity takes e out of the spatial model entirely.
func (g *RoomGraph) RemoveEntity(e entity.ID) error {
	room, ok := g.entRoom[e]
	if !ok {
		return ErrEntityNotPlaced
	}
	delete(g.occupants[room], e)
	delete(g.entRoom, e)
	return nil
}

func (g *RoomGraph) occupantsSorted(room entity.ID) []entity.ID {
	set := g.occupants[room]
	out := make([]entity.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// roomGraphSnapshot is the opaque capture/restore payload for a RoomGraph.
type roomGraphSnapshot struct {
	Rooms []entity.ID
	Exits map[entity.ID][]Exit
	Place map[entity.ID]entity.ID // entity -> room
}

func (g *RoomGraph) SnapshotState() (any, error) {
	rooms := make([]entity.ID, 0, len(g.occupants))
	for r := range g.occupants {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })

	exits := make(map[entity.ID][]Exit, len(g.exits))
	for r, ex := range g.exits {
		cp := make([]Exit, len(ex))
		copy(cp, ex)
		exits[r] = cp
	}

	place := make(map[entity.ID]entity.ID, len(g.entRoom))
	for e, r := range g.entRoom {
		place[e] = r
	}

	return roomGraphSnapshot{Rooms: rooms, Exits: exits, Place: place}, nil
}

func (g *RoomGraph) RestoreFromSnapshot(data any) error {
	snap, ok := data.(roomGraphSnapshot)
	if !ok {
		return ErrCrossVariantData
	}
	g.exits = make(map[entity.ID][]Exit)
	g.entRoom = make(map[entity.ID]entity.ID)
	g.occupants = make(map[entity.ID]map[entity.ID]struct{})

	for _, r := range snap.Rooms {
		g.occupants[r] = make(map[entity.ID]struct{})
	}
	for r, ex := range snap.Exits {
		g.exits[r] = append([]Exit(nil), ex...)
	}
	for e, r := range snap.Place {
		g.entRoom[e] = r
		if _, ok := g.occupants[r]; !ok {
			g.occupants[r] = make(map[entity.ID]struct{})
		}
		g.occupants[r][e] = struct{}{}
	}
	return nil
}
