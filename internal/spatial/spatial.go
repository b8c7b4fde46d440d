// Package spatial implements the polymorphic spatial model of spec.md §4.5:
// a RoomGraph (MUD-style room/exit topology) and a Grid (2D lattice for a
// grid MMO), both satisfying the common Model capability so the tick loop,
// scripting bridge, and AOI code can operate on either without an
// inheritance hierarchy — variant-specific methods live on the concrete
// type and return a descriptive error when misused (see DESIGN.md).
package spatial

import (
	"errors"

	"github.com/l1jgo/simcore/internal/entity"
)

var (
	ErrEntityNotPlaced  = errors.New("spatial: entity not placed in any room/cell")
	ErrRoomNotFound     = errors.New("spatial: room not found")
	ErrNoExit           = errors.New("spatial: no exit to target room")
	ErrAlreadyPlaced    = errors.New("spatial: entity already placed")
	ErrOutOfBounds      = errors.New("spatial: coordinates out of bounds")
	ErrWrongVariant     = errors.New("spatial: operation not supported by this spatial model variant")
	ErrTooFar           = errors.New("spatial: move target is not adjacent")
	ErrCrossVariantData = errors.New("spatial: snapshot was captured by a different spatial model variant")
)

// Variant identifies which concrete spatial model an opaque snapshot or
// proxy reference belongs to.
type Variant byte

const (
	VariantRoomGraph Variant = iota
	VariantGrid
)

// Model is the capability set common to both spatial variants, per
// spec.md §4.5 and §9 ("polymorphic spatial model without inheritance").
type Model interface {
	Variant() Variant
	EntityRoom(e entity.ID) (entity.ID, bool)
	EntitiesInSameArea(e entity.ID) ([]entity.ID, error)
	Neighbors(room entity.ID) ([]entity.ID, error)
	MoveEntity(e, target entity.ID) error
	PlaceEntity(e, target entity.ID) error
	RemoveEntity(e entity.ID) error
	SnapshotState() (any, error)
	RestoreFromSnapshot(data any) error
}

var (
	_ Model = (*RoomGraph)(nil)
	_ Model = (*Grid)(nil)
)
