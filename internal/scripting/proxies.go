package scripting

import (
	"github.com/l1jgo/simcore/internal/command"
	"github.com/l1jgo/simcore/internal/component"
	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/spatial"
	lua "github.com/yuin/gopher-lua"
)

// SessionLookup is the read-only session/entity mapping the sessions
// proxy queries. Implemented by internal/session.Manager; kept as an
// interface here so scripting never imports session directly.
type SessionLookup interface {
	EntityForSession(sessionID uint64) (entity.ID, bool)
	SessionForEntity(e entity.ID) (uint64, bool)
}

// OutputSink receives messages the output proxy enqueues. BroadcastRoom is
// expanded by the implementation (the tick loop's adapter) to the room's
// Playing sessions at the moment the script calls it, not after script
// execution finishes.
type OutputSink interface {
	Send(sessionID uint64, text string)
	BroadcastRoom(room entity.ID, text string, exclude uint64, hasExclude bool)
}

// scope bundles the live references one hook-dispatch batch may touch.
// It is only valid between openScope and closeScope; proxy closures
// check the engine's current generation against the one they captured
// and refuse to act once the scope has closed (spec.md §4.8 "Safety
// model for proxies").
type scope struct {
	world    *component.World
	registry *component.Registry
	stream   *command.Stream
	space    spatial.Model
	sessions SessionLookup
	output   OutputSink
}

func (e *Engine) openScope(s scope) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scopeGen++
	e.scope = s
	return e.scopeGen
}

func (e *Engine) closeScope() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scopeGen++
	e.scope = scope{}
}

// liveScope returns the current scope if gen matches the engine's active
// generation, or ok=false if the scope that owned gen has since closed.
func (e *Engine) liveScope(gen int64) (scope, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.scopeGen {
		return scope{}, false
	}
	return e.scope, true
}

// guarded wraps a Lua-callable Go function so it raises a Lua error
// instead of touching stale references once its scope has closed.
func (e *Engine) guarded(gen int64, fn func(*lua.LState, scope) int) lua.LGFunction {
	return func(vm *lua.LState) int {
		s, ok := e.liveScope(gen)
		if !ok {
			vm.RaiseError("stale proxy reference: hook scope has ended")
			return 0
		}
		return fn(vm, s)
	}
}

// installEcsProxy builds the "ecs" global table for the current scope.
func (e *Engine) installEcsProxy(gen int64) *lua.LTable {
	t := e.vm.NewTable()

	t.RawSetString("get", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		id := entity.FromUint64(uint64(vm.CheckNumber(1)))
		tag := vm.CheckString(2)
		h, ok := s.registry.Handler(tag)
		if !ok {
			vm.Push(lua.LNil)
			return 1
		}
		payload, ok := h.Capture(id)
		if !ok {
			vm.Push(lua.LNil)
			return 1
		}
		vm.Push(payloadToLua(vm, payload))
		return 1
	})))

	t.RawSetString("has", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		id := entity.FromUint64(uint64(vm.CheckNumber(1)))
		tag := vm.CheckString(2)
		h, ok := s.registry.Handler(tag)
		if !ok {
			vm.Push(lua.LFalse)
			return 1
		}
		_, ok = h.Capture(id)
		vm.Push(lua.LBool(ok))
		return 1
	})))

	t.RawSetString("set", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		id := entity.FromUint64(uint64(vm.CheckNumber(1)))
		tag := vm.CheckString(2)
		val := vm.CheckAny(3)
		payload, err := luaToPayload(val)
		if err != nil {
			vm.RaiseError("ecs.set: %v", err)
			return 0
		}
		s.stream.Push(command.SetComponent(id, tag, payload))
		return 0
	})))

	t.RawSetString("remove", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		id := entity.FromUint64(uint64(vm.CheckNumber(1)))
		tag := vm.CheckString(2)
		s.stream.Push(command.RemoveComponent(id, tag))
		return 0
	})))

	t.RawSetString("spawn", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		s.stream.Push(command.SpawnEntity())
		return 0
	})))

	t.RawSetString("despawn", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		id := entity.FromUint64(uint64(vm.CheckNumber(1)))
		s.stream.Push(command.DestroyEntity(id))
		return 0
	})))

	t.RawSetString("query", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		n := vm.GetTop()
		tags := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			tags = append(tags, vm.CheckString(i))
		}
		result := queryIntersection(s.registry, tags)
		out := vm.NewTable()
		for i, id := range result {
			out.RawSetInt(i+1, lua.LNumber(id.ToUint64()))
		}
		vm.Push(out)
		return 1
	})))

	return t
}

// queryIntersection returns entities carrying every tag in tags, per
// spec.md §4.8 ("Query returns the intersection of entities_with across
// all tags").
func queryIntersection(registry *component.Registry, tags []string) []entity.ID {
	if len(tags) == 0 {
		return nil
	}
	handlers := make([]component.Handler, 0, len(tags))
	for _, tag := range tags {
		h, ok := registry.Handler(tag)
		if !ok {
			return nil
		}
		handlers = append(handlers, h)
	}

	// Seed the candidate set from the first tag's handler, then probe the
	// remaining tags' Capture for each candidate. query()'s first tag must
	// back a component.Enumerable (every Store[T]/JSONHandler[T] does);
	// a handler that can't enumerate can still appear in later tag
	// positions, just not first.
	first, ok := handlers[0].(component.Enumerable)
	if !ok {
		return nil
	}
	candidates := first.EntitiesWith()

	var out []entity.ID
	for _, id := range candidates {
		all := true
		for _, h := range handlers[1:] {
			if _, ok := h.Capture(id); !ok {
				all = false
				break
			}
		}
		if all {
			out = append(out, id)
		}
	}
	return out
}

// installSpaceProxy builds the "space" global table for the current
// scope, common methods first, variant-specific methods guarded by a
// type assertion that fails with a descriptive error (spec.md §4.8).
func (e *Engine) installSpaceProxy(gen int64) *lua.LTable {
	t := e.vm.NewTable()

	t.RawSetString("entity_room", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		id := entity.FromUint64(uint64(vm.CheckNumber(1)))
		room, ok := s.space.EntityRoom(id)
		if !ok {
			vm.Push(lua.LNil)
			return 1
		}
		vm.Push(lua.LNumber(room.ToUint64()))
		return 1
	})))

	t.RawSetString("move_entity", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		id := entity.FromUint64(uint64(vm.CheckNumber(1)))
		target := entity.FromUint64(uint64(vm.CheckNumber(2)))
		s.stream.Push(command.MoveEntity(id, target))
		return 0
	})))

	t.RawSetString("place_entity", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		id := entity.FromUint64(uint64(vm.CheckNumber(1)))
		target := entity.FromUint64(uint64(vm.CheckNumber(2)))
		if err := s.space.PlaceEntity(id, target); err != nil {
			vm.RaiseError("space.place_entity: %v", err)
			return 0
		}
		return 0
	})))

	t.RawSetString("remove_entity", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		id := entity.FromUint64(uint64(vm.CheckNumber(1)))
		if err := s.space.RemoveEntity(id); err != nil {
			vm.RaiseError("space.remove_entity: %v", err)
			return 0
		}
		return 0
	})))

	t.RawSetString("neighbors", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		room := entity.FromUint64(uint64(vm.CheckNumber(1)))
		ids, err := s.space.Neighbors(room)
		if err != nil {
			vm.RaiseError("space.neighbors: %v", err)
			return 0
		}
		out := vm.NewTable()
		for i, id := range ids {
			out.RawSetInt(i+1, lua.LNumber(id.ToUint64()))
		}
		vm.Push(out)
		return 1
	})))

	return t
}

// installOutputProxy builds the "output" global table for the current
// scope.
func (e *Engine) installOutputProxy(gen int64) *lua.LTable {
	t := e.vm.NewTable()

	t.RawSetString("send", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		sessionID := uint64(vm.CheckNumber(1))
		text := vm.CheckString(2)
		s.output.Send(sessionID, text)
		return 0
	})))

	t.RawSetString("broadcast_room", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		room := entity.FromUint64(uint64(vm.CheckNumber(1)))
		text := vm.CheckString(2)
		var exclude uint64
		var hasExclude bool
		if opts, ok := vm.Get(3).(*lua.LTable); ok {
			if v := opts.RawGetString("exclude"); v != lua.LNil {
				exclude = uint64(lua.LVAsNumber(v))
				hasExclude = true
			}
		}
		s.output.BroadcastRoom(room, text, exclude, hasExclude)
		return 0
	})))

	return t
}

// installSessionsProxy builds the "sessions" global table for the
// current scope.
func (e *Engine) installSessionsProxy(gen int64) *lua.LTable {
	t := e.vm.NewTable()

	t.RawSetString("entity_for_session", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		sessionID := uint64(vm.CheckNumber(1))
		id, ok := s.sessions.EntityForSession(sessionID)
		if !ok {
			vm.Push(lua.LNil)
			return 1
		}
		vm.Push(lua.LNumber(id.ToUint64()))
		return 1
	})))

	t.RawSetString("session_for_entity", e.vm.NewFunction(e.guarded(gen, func(vm *lua.LState, s scope) int {
		id := entity.FromUint64(uint64(vm.CheckNumber(1)))
		sessionID, ok := s.sessions.SessionForEntity(id)
		if !ok {
			vm.Push(lua.LNil)
			return 1
		}
		vm.Push(lua.LNumber(sessionID))
		return 1
	})))

	return t
}
