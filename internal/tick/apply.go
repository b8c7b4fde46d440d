package tick

import (
	"fmt"

	"github.com/l1jgo/simcore/internal/command"
	"github.com/l1jgo/simcore/internal/component"
	"github.com/l1jgo/simcore/internal/spatial"
)

// applyCommand executes one resolved command against world and space, per
// spec.md §4.3's apply phase. Errors are returned for the caller to log and
// skip — a single bad command never aborts the tick.
//
// EmitEvent has no store-level effect here: resolveAndApply intercepts it
// before reaching applyCommand and routes it to every plugin's optional
// on_event export instead (Loop.dispatchEvent). It remains a no-op in this
// switch only as a fallback for a caller that applies a command stream
// without going through the loop (e.g. a test fixture).
func applyCommand(world *component.World, space spatial.Model, c command.Command) error {
	switch c.Kind {
	case command.KindSetComponent:
		h, ok := world.Registry().Handler(c.Component)
		if !ok {
			return fmt.Errorf("unregistered component %q", c.Component)
		}
		return h.Restore(c.Entity, c.Payload)

	case command.KindRemoveComponent:
		h, ok := world.Registry().Handler(c.Component)
		if !ok {
			return fmt.Errorf("unregistered component %q", c.Component)
		}
		h.Remove(c.Entity)
		return nil

	case command.KindEmitEvent:
		return nil

	case command.KindSpawnEntity:
		world.SpawnEntity()
		return nil

	case command.KindDestroyEntity:
		if err := world.DespawnEntity(c.Entity); err != nil {
			return err
		}
		_ = space.RemoveEntity(c.Entity) // not every destroyed entity is placed
		return nil

	case command.KindMoveEntity:
		return space.MoveEntity(c.Entity, c.Target)

	default:
		return fmt.Errorf("unknown command kind %d", c.Kind)
	}
}

func commandKindName(c command.Command) string {
	switch c.Kind {
	case command.KindSetComponent:
		return "set_component"
	case command.KindRemoveComponent:
		return "remove_component"
	case command.KindEmitEvent:
		return "emit_event"
	case command.KindSpawnEntity:
		return "spawn_entity"
	case command.KindDestroyEntity:
		return "destroy_entity"
	case command.KindMoveEntity:
		return "move_entity"
	default:
		return "unknown"
	}
}
