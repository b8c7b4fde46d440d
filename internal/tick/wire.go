package tick

import (
	"encoding/json"

	"github.com/l1jgo/simcore/internal/aoi"
	"github.com/l1jgo/simcore/internal/entity"
)

// wireEntry mirrors one AOI entry on the wire: entity id plus position,
// using the plain EntityId.to_u64 encoding so JSON clients never need to
// understand the generation/index split.
type wireEntry struct {
	Entity uint64 `json:"entity"`
	X      int32  `json:"x"`
	Y      int32  `json:"y"`
}

// wireStateDelta is spec.md §6's Grid-mode state_delta payload: empty
// arrays are elided via omitempty rather than sent as `[]`.
type wireStateDelta struct {
	Type    string      `json:"type"`
	Tick    uint64      `json:"tick"`
	Entered []wireEntry `json:"entered,omitempty"`
	Moved   []wireEntry `json:"moved,omitempty"`
	Left    []uint64    `json:"left,omitempty"`
}

// wireRoomRoster is the RoomGraph-mode analogue of a state delta: there is
// no position to diff, so each Playing session gets the full occupant list
// of its current room whenever that list changes.
type wireRoomRoster struct {
	Type      string   `json:"type"`
	Tick      uint64   `json:"tick"`
	Room      uint64   `json:"room"`
	Occupants []uint64 `json:"occupants"`
}

func encodeRoomRoster(tick uint64, room entity.ID, occupants []entity.ID) string {
	msg := wireRoomRoster{Type: "room_roster", Tick: tick, Room: room.ToUint64()}
	for _, o := range occupants {
		msg.Occupants = append(msg.Occupants, o.ToUint64())
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return `{"type":"error"}`
	}
	return string(data)
}

// encodeDeltaNotice serializes an AOI delta into the Grid-mode wire
// message. Marshal errors are not expected (the payload is entirely
// primitive fields) and are swallowed into a bare {"type":"error"} message
// rather than propagated, consistent with spec.md §7's "internal failures are never
// surfaced to users" policy.
func encodeDeltaNotice(d aoi.StateDelta) string {
	msg := wireStateDelta{Type: "state_delta", Tick: d.Tick}
	for _, e := range d.Entered {
		msg.Entered = append(msg.Entered, wireEntry{Entity: e.Entity.ToUint64(), X: e.Pos.X, Y: e.Pos.Y})
	}
	for _, e := range d.Moved {
		msg.Moved = append(msg.Moved, wireEntry{Entity: e.Entity.ToUint64(), X: e.Pos.X, Y: e.Pos.Y})
	}
	for _, id := range d.Left {
		msg.Left = append(msg.Left, id.ToUint64())
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return `{"type":"error"}`
	}
	return string(data)
}
