// Package scripting implements the second sandboxed execution layer named
// in spec.md §4.8: a gopher-lua bridge exposing the ecs/space/output/
// sessions proxy facades to gameplay scripts, with a revocable-scope
// discipline that makes proxy references inert once a hook dispatch
// batch ends.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/l1jgo/simcore/internal/command"
	"github.com/l1jgo/simcore/internal/component"
	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/perm"
	"github.com/l1jgo/simcore/internal/spatial"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Sandbox violation errors named in spec.md §7. gopher-lua has no public
// per-instruction counter, so the instruction budget is enforced as a
// context deadline (installed and cleared once per dispatch batch,
// mirroring the original engine's interrupt-counter reset); a hook that
// trips it surfaces ErrInstructionLimitExceeded rather than gopher-lua's
// raw context error.
var (
	ErrMemoryLimitExceeded      = errors.New("scripting: memory ceiling exceeded")
	ErrInstructionLimitExceeded = errors.New("scripting: instruction budget exceeded")
)

// instructionsPerSecond calibrates gopher-lua's bytecode dispatch rate,
// translating an instruction budget into the wall-clock deadline
// SetContext actually enforces.
const instructionsPerSecond = 20_000_000

func budgetDeadline(instructions int) time.Duration {
	if instructions <= 0 {
		return 0
	}
	d := time.Duration(instructions) * time.Second / instructionsPerSecond
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// Config bounds a script VM's resource usage, per spec.md §4.8's sandbox
// policy.
type Config struct {
	InstructionBudget int // per-hook-dispatch Lua instruction ceiling; 0 = unbounded
	MemoryCeilingMB   int
}

// DefaultConfig returns conservative sandbox defaults.
func DefaultConfig() Config {
	return Config{InstructionBudget: 200_000, MemoryCeilingMB: 64}
}

// Engine wraps a single gopher-lua VM shared by every loaded script.
// Single-goroutine access only (tick thread), matching the architecture's
// no-suspension rule for in-tick execution (spec.md §5).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
	cfg Config

	mu       sync.Mutex
	scopeGen int64
	scope    scope
}

// NewEngine creates a Lua VM with dangerous stdlib surfaces disabled.
// Scripts are then loaded with LoadDir.
func NewEngine(cfg Config, log *zap.Logger) *Engine {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: false,
	})
	// Sandbox policy (spec.md §4.8): only safe stdlib surfaces are
	// opened. os, io, and the package loader are never registered, so
	// scripts have no filesystem or module-loading authority.
	for _, pair := range []struct {
		n string
		f lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		vm.Push(vm.NewFunction(pair.f))
		vm.Push(lua.LString(pair.n))
		_ = vm.PCall(1, 0, nil)
	}
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	if cfg.MemoryCeilingMB > 0 {
		vm.SetMx(cfg.MemoryCeilingMB)
	}

	return &Engine{vm: vm, log: log, cfg: cfg}
}

// Close releases the underlying Lua VM.
func (e *Engine) Close() { e.vm.Close() }

// LoadDir loads every .lua file directly inside dir, sorted by name so
// load order (and therefore global-function-overwrite order) is
// deterministic across runs.
func (e *Engine) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if e.log != nil {
			e.log.Debug("loaded script", zap.String("file", path))
		}
	}
	return nil
}

// LoadString loads a Lua chunk directly, for embedded bootstrap scripts
// and tests.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

// Deps bundles the live references a hook dispatch batch may reach
// through the proxy facades.
type Deps struct {
	World    *component.World
	Registry *component.Registry
	Stream   *command.Stream
	Space    spatial.Model
	Sessions SessionLookup
	Output   OutputSink
}

func (e *Engine) dispatch(d Deps, fn func()) {
	gen := e.openScope(scope{
		world:    d.World,
		registry: d.Registry,
		stream:   d.Stream,
		space:    d.Space,
		sessions: d.Sessions,
		output:   d.Output,
	})
	e.vm.SetGlobal("ecs", e.installEcsProxy(gen))
	e.vm.SetGlobal("space", e.installSpaceProxy(gen))
	e.vm.SetGlobal("output", e.installOutputProxy(gen))
	e.vm.SetGlobal("sessions", e.installSessionsProxy(gen))

	if deadline := budgetDeadline(e.cfg.InstructionBudget); deadline > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), deadline)
		e.vm.SetContext(ctx)
		defer cancel()
		defer e.vm.RemoveContext()
	}

	fn()
	e.vm.SetGlobal("ecs", lua.LNil)
	e.vm.SetGlobal("space", lua.LNil)
	e.vm.SetGlobal("output", lua.LNil)
	e.vm.SetGlobal("sessions", lua.LNil)
	e.closeScope()
}

// call invokes a global Lua function by name with the given args,
// swallowing "not defined" and runtime errors the way the teacher's
// engine does (log and fall through), since no single script hook is
// allowed to abort the tick.
func (e *Engine) call(name string, nret int, args ...lua.LValue) ([]lua.LValue, bool) {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return nil, false
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    nret,
		Protect: true,
	}, args...); err != nil {
		if e.log != nil {
			e.log.Warn("script hook error", zap.String("hook", name), zap.Error(classifySandboxError(err)))
		}
		return nil, false
	}
	out := make([]lua.LValue, nret)
	for i := nret - 1; i >= 0; i-- {
		out[i] = e.vm.Get(-1)
		e.vm.Pop(1)
	}
	return out, true
}

// classifySandboxError maps a raw gopher-lua call error onto the named
// sandbox violations of spec.md §7, where the budget that tripped is
// recognizable from the error text gopher-lua produces.
func classifySandboxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "context") {
		return ErrInstructionLimitExceeded
	}
	if strings.Contains(err.Error(), "memory") {
		return ErrMemoryLimitExceeded
	}
	return err
}

// FireInit fires on_init() once after all scripts load.
func (e *Engine) FireInit(d Deps) {
	e.dispatch(d, func() {
		e.call("on_init", 0)
	})
}

// FireTick fires on_tick(tick_number) for the current tick.
func (e *Engine) FireTick(d Deps, tick uint64) {
	e.dispatch(d, func() {
		e.call("on_tick", 0, lua.LNumber(tick))
	})
}

// FireAction fires on_action(action_name, ctx). Returns true if the
// script reported the action as consumed (spec.md §4.8: "returning
// truthy marks the action consumed").
func (e *Engine) FireAction(d Deps, actionName string, ctx map[string]interface{}) (consumed bool) {
	e.dispatch(d, func() {
		ctxVal := toLua(e.vm, ctx)
		out, ok := e.call("on_action", 1, lua.LString(actionName), ctxVal)
		if !ok {
			return
		}
		consumed = lua.LVAsBool(out[0])
	})
	return consumed
}

// FireEnterRoom fires on_enter_room(entity, room, old_room?).
func (e *Engine) FireEnterRoom(d Deps, ent entity.ID, room entity.ID, oldRoom *entity.ID) {
	e.dispatch(d, func() {
		old := lua.LValue(lua.LNil)
		if oldRoom != nil {
			old = lua.LNumber(oldRoom.ToUint64())
		}
		e.call("on_enter_room", 0, lua.LNumber(ent.ToUint64()), lua.LNumber(room.ToUint64()), old)
	})
}

// FireConnect fires on_connect(session_id).
func (e *Engine) FireConnect(d Deps, sessionID uint64) {
	e.dispatch(d, func() {
		e.call("on_connect", 0, lua.LNumber(sessionID))
	})
}

// FireAdmin fires on_admin(command, min_permission, ctx) only if the
// caller's permission meets min_permission; returns whether the command
// was handled. The host (not the script) enforces the permission gate,
// per spec.md §4.8.
func (e *Engine) FireAdmin(d Deps, commandName string, minPermission, callerPermission perm.Permission, ctx map[string]interface{}) (handled bool) {
	if !callerPermission.Atleast(minPermission) {
		return false
	}
	e.dispatch(d, func() {
		ctxVal := toLua(e.vm, ctx)
		out, ok := e.call("on_admin", 1, lua.LString(commandName), lua.LNumber(minPermission), ctxVal)
		if !ok {
			return
		}
		handled = lua.LVAsBool(out[0])
	})
	return handled
}
