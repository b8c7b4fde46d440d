// Package command implements the tagged Command sum type, the per-tick
// CommandStream, and its deterministic Last-Writer-Wins resolution
// (spec.md §4.3).
package command

import "github.com/l1jgo/simcore/internal/entity"

// Kind tags which variant a Command carries.
type Kind byte

const (
	KindSetComponent Kind = iota
	KindRemoveComponent
	KindEmitEvent
	KindSpawnEntity
	KindDestroyEntity
	KindMoveEntity
)

// Command is a tagged sum over the six variants named in spec.md §3. Every
// variant carries only primitive fields: entity IDs, a component tag, and
// an opaque byte payload — never a pointer into live state — so it can
// cross the plugin/script ABI boundary unchanged.
type Command struct {
	Kind      Kind
	Entity    entity.ID
	Target    entity.ID // MoveEntity destination cell/room; unused otherwise
	Component string    // component tag for Set/RemoveComponent
	Event     string    // event name for EmitEvent
	Payload   []byte    // serialized component value / event data
}

// SetComponent builds a SetComponent command.
func SetComponent(e entity.ID, componentTag string, payload []byte) Command {
	return Command{Kind: KindSetComponent, Entity: e, Component: componentTag, Payload: payload}
}

// RemoveComponent builds a RemoveComponent command.
func RemoveComponent(e entity.ID, componentTag string) Command {
	return Command{Kind: KindRemoveComponent, Entity: e, Component: componentTag}
}

// EmitEvent builds an EmitEvent command.
func EmitEvent(e entity.ID, name string, payload []byte) Command {
	return Command{Kind: KindEmitEvent, Entity: e, Event: name, Payload: payload}
}

// SpawnEntity builds a SpawnEntity command. Entity is the caller-chosen
// placeholder ID (0 is conventional); the apply phase assigns the real ID.
func SpawnEntity() Command {
	return Command{Kind: KindSpawnEntity}
}

// DestroyEntity builds a DestroyEntity command.
func DestroyEntity(e entity.ID) Command {
	return Command{Kind: KindDestroyEntity, Entity: e}
}

// MoveEntity builds a MoveEntity command.
func MoveEntity(e, target entity.ID) Command {
	return Command{Kind: KindMoveEntity, Entity: e, Target: target}
}

// componentKey identifies the (entity, component) conflict domain that LWW
// resolution deduplicates on.
type componentKey struct {
	entity    entity.ID
	component string
}

// Stream accumulates commands pushed during one tick. Logically erased at
// each tick boundary by calling Reset after Resolve.
type Stream struct {
	commands []Command
}

// NewStream returns an empty command stream.
func NewStream() *Stream {
	return &Stream{commands: make([]Command, 0, 64)}
}

// Push appends a command to the stream in push order.
func (s *Stream) Push(c Command) {
	s.commands = append(s.commands, c)
}

// Len returns the number of commands pushed since the last Reset.
func (s *Stream) Len() int { return len(s.commands) }

// Reset clears the stream for the next tick.
func (s *Stream) Reset() {
	s.commands = s.commands[:0]
}

// Resolve implements spec.md §4.3: component-keyed commands (SetComponent,
// RemoveComponent) are deduplicated by Last-Writer-Wins on (entity,
// component) and emitted sorted ascending by that key; all other commands
// (EmitEvent, SpawnEntity, DestroyEntity, MoveEntity) are appended
// preserving push order and are never deduplicated, since emitting the
// same event twice — or destroying the same entity twice in one tick — is
// a semantic act, not a conflict.
func (s *Stream) Resolve() []Command {
	type keyed struct {
		key componentKey
		idx int // push index, used to keep the *last* writer
		cmd Command
	}

	lastByKey := make(map[componentKey]keyed, len(s.commands))
	keyOrder := make([]componentKey, 0, len(s.commands))
	var other []Command

	for i, c := range s.commands {
		switch c.Kind {
		case KindSetComponent, KindRemoveComponent:
			k := componentKey{entity: c.Entity, component: c.Component}
			if _, seen := lastByKey[k]; !seen {
				keyOrder = append(keyOrder, k)
			}
			lastByKey[k] = keyed{key: k, idx: i, cmd: c}
		default:
			other = append(other, c)
		}
	}

	sortComponentKeys(keyOrder)

	resolved := make([]Command, 0, len(keyOrder)+len(other))
	for _, k := range keyOrder {
		resolved = append(resolved, lastByKey[k].cmd)
	}
	resolved = append(resolved, other...)
	return resolved
}

// sortComponentKeys orders keys ascending by (entity, component) for
// deterministic emission, independent of map iteration order.
func sortComponentKeys(keys []componentKey) {
	// Simple insertion sort: tick command counts are small (tens to low
	// hundreds) and this keeps the dependency-free leaf package free of a
	// sort.Slice closure allocation in the hot path.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && less(keys[j], keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

func less(a, b componentKey) bool {
	if a.entity != b.entity {
		return a.entity < b.entity
	}
	return a.component < b.component
}
