package plugin

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v39"
	"github.com/l1jgo/simcore/internal/entity"
)

// wasmtimeEngine is the production sandbox backend: one wasmtime.Engine
// shared across every plugin, fuel metering enabled per-store so each
// plugin's budget is independent.
type wasmtimeEngine struct {
	engine *wasmtime.Engine
}

func newWasmtimeEngine() *wasmtimeEngine {
	cfg := wasmtime.NewConfig()
	cfg.SetConsumeFuel(true)
	return &wasmtimeEngine{engine: wasmtime.NewEngineWithConfig(cfg)}
}

func (e *wasmtimeEngine) Instantiate(wasm []byte, fuelBudget uint64, host *hostState) (instanceHandle, error) {
	module, err := wasmtime.NewModule(e.engine, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}

	store := wasmtime.NewStore(e.engine)
	if err := store.SetFuel(fuelBudget); err != nil {
		return nil, fmt.Errorf("set fuel: %w", err)
	}

	linker := wasmtime.NewLinker(e.engine)
	if err := linkHostABI(linker, host); err != nil {
		return nil, fmt.Errorf("link host ABI: %w", err)
	}

	inst, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}

	mem := inst.GetExport(store, "memory")
	if mem == nil || mem.Memory() == nil {
		return nil, fmt.Errorf("%w: missing exported memory", ErrMissingExport)
	}

	onTick := inst.GetFunc(store, "on_tick")
	if onTick == nil {
		return nil, fmt.Errorf("%w: on_tick", ErrMissingExport)
	}
	onLoad := inst.GetFunc(store, "on_load")
	if onLoad == nil {
		return nil, fmt.Errorf("%w: on_load", ErrMissingExport)
	}
	onEvent := inst.GetFunc(store, "on_event") // optional

	abiMajor, abiMinor, abiDeclared := readABIVersion(store, &inst)

	return &wasmtimeInstance{
		store:       store,
		memory:      mem.Memory(),
		onLoad:      onLoad,
		onTick:      onTick,
		onEvent:     onEvent,
		budget:      fuelBudget,
		abiMajor:    abiMajor,
		abiMinor:    abiMinor,
		abiDeclared: abiDeclared,
	}, nil
}

// readABIVersion reads a plugin's optional "abi_version" exported i32
// global, encoded as major*1000+minor. A module that exports none (the
// common case for a simple plugin) reports declared=false, and Load
// treats that as compatible.
func readABIVersion(store *wasmtime.Store, inst *wasmtime.Instance) (major, minor int32, declared bool) {
	exp := inst.GetExport(store, "abi_version")
	if exp == nil {
		return 0, 0, false
	}
	g := exp.Global()
	if g == nil {
		return 0, 0, false
	}
	val := g.Get(store)
	if val.Kind() != wasmtime.KindI32 {
		return 0, 0, false
	}
	encoded := val.I32()
	return encoded / 1000, encoded % 1000, true
}

// linkHostABI wires the five host imports named in spec.md §4.6 into the
// linker so plugin modules can `(import "env" "emit_command" ...)` etc.
func linkHostABI(linker *wasmtime.Linker, host *hostState) error {
	funcs := map[string]interface{}{
		"emit_command": func(caller *wasmtime.Caller, ptr, length int32) int32 {
			data, err := readMemory(caller, ptr, length)
			if err != nil {
				return ErrOutOfBoundsCode
			}
			return host.emitCommand(data)
		},
		"log": func(caller *wasmtime.Caller, level, ptr, length int32) {
			data, err := readMemory(caller, ptr, length)
			if err != nil {
				return
			}
			host.log(level, string(data))
		},
		"get_tick": func() uint64 {
			return host.getTick()
		},
		"random_seed": func() uint64 {
			return host.randomSeed()
		},
		"get_component": func(caller *wasmtime.Caller, entityU64 uint64, componentIDPtr, componentIDLen, outPtr, outCap int32) int32 {
			tag, err := readMemory(caller, componentIDPtr, componentIDLen)
			if err != nil {
				return ErrOutOfBoundsCode
			}
			payload, code := host.getComponent(entity.FromUint64(entityU64), string(tag))
			if code != OK {
				return code
			}
			if int32(len(payload)) > outCap {
				return ErrOutOfBoundsCode
			}
			if err := writeMemory(caller, outPtr, payload); err != nil {
				return ErrOutOfBoundsCode
			}
			return int32(len(payload))
		},
	}

	for name, fn := range funcs {
		if err := linker.FuncWrap("env", name, fn); err != nil {
			return fmt.Errorf("wrap %s: %w", name, err)
		}
	}
	return nil
}

func readMemory(caller *wasmtime.Caller, ptr, length int32) ([]byte, error) {
	mem := caller.GetExport("memory")
	if mem == nil || mem.Memory() == nil {
		return nil, fmt.Errorf("no exported memory")
	}
	data := mem.Memory().UnsafeData(caller)
	if ptr < 0 || length < 0 || int(ptr)+int(length) > len(data) {
		return nil, fmt.Errorf("out of bounds read")
	}
	out := make([]byte, length)
	copy(out, data[ptr:int(ptr)+int(length)])
	return out, nil
}

func writeMemory(caller *wasmtime.Caller, ptr int32, payload []byte) error {
	mem := caller.GetExport("memory")
	if mem == nil || mem.Memory() == nil {
		return fmt.Errorf("no exported memory")
	}
	data := mem.Memory().UnsafeData(caller)
	if ptr < 0 || int(ptr)+len(payload) > len(data) {
		return fmt.Errorf("out of bounds write")
	}
	copy(data[ptr:], payload)
	return nil
}

// wasmtimeInstance is one instantiated plugin module.
type wasmtimeInstance struct {
	store   *wasmtime.Store
	memory  *wasmtime.Memory
	onLoad  *wasmtime.Func
	onTick  *wasmtime.Func
	onEvent *wasmtime.Func
	budget  uint64

	abiMajor    int32
	abiMinor    int32
	abiDeclared bool
}

func (w *wasmtimeInstance) ABIVersion() (major, minor int32, declared bool) {
	return w.abiMajor, w.abiMinor, w.abiDeclared
}

func (w *wasmtimeInstance) refuel() error {
	return w.store.SetFuel(w.budget)
}

func (w *wasmtimeInstance) CallOnLoad() (int32, error) {
	if err := w.refuel(); err != nil {
		return 0, err
	}
	v, err := w.onLoad.Call(w.store)
	if err != nil {
		return 0, err
	}
	return toI32(v), nil
}

func (w *wasmtimeInstance) CallOnTick(tick uint64) (int32, error) {
	if err := w.refuel(); err != nil {
		return 0, err
	}
	v, err := w.onTick.Call(w.store, int64(tick))
	if err != nil {
		return 0, err
	}
	return toI32(v), nil
}

func (w *wasmtimeInstance) CallOnEvent(eventID uint64, payload []byte) (int32, bool, error) {
	if w.onEvent == nil {
		return 0, false, nil
	}
	ptr, err := w.writeScratch(payload)
	if err != nil {
		return 0, true, err
	}
	if err := w.refuel(); err != nil {
		return 0, true, err
	}
	v, err := w.onEvent.Call(w.store, int64(eventID), ptr, int32(len(payload)))
	if err != nil {
		return 0, true, err
	}
	return toI32(v), true, nil
}

// writeScratch writes payload to a fixed low scratch offset in the
// plugin's linear memory for the duration of one on_event call. Plugins
// that need more room allocate their own buffer and report its address
// via on_load's return value in a fuller ABI; out of scope here.
func (w *wasmtimeInstance) writeScratch(payload []byte) (int32, error) {
	const scratchOffset = 0
	data := w.memory.UnsafeData(w.store)
	if len(payload) > len(data) {
		return 0, fmt.Errorf("scratch buffer too small")
	}
	copy(data[scratchOffset:], payload)
	return scratchOffset, nil
}

func (w *wasmtimeInstance) Close() error {
	return nil
}

func toI32(v interface{}) int32 {
	switch n := v.(type) {
	case int32:
		return n
	case int64:
		return int32(n)
	case []wasmtime.Val:
		if len(n) == 0 {
			return 0
		}
		return n[0].I32()
	default:
		return 0
	}
}
