// Package plugin implements the sandboxed WASM plugin runtime: fuel
// metering, quarantine after repeated failures, and the host call ABI
// (spec.md §4.6-4.7). Plugins are untrusted user-authored WebAssembly
// modules invoked once per tick in ascending priority order.
package plugin

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/l1jgo/simcore/internal/command"
	"go.uber.org/zap"
)

// Host ABI return codes, per spec.md §4.6.
const (
	OK                   = 0
	ErrSerializeCode     = -1
	ErrOutOfBoundsCode   = -2
	ErrUnknownComponent  = -3
	ErrEntityNotFoundAbi = -4
)

var (
	// ErrMissingExport is returned at load time when a required entry
	// point is absent from the module.
	ErrMissingExport = errors.New("plugin: module missing required export")
	// ErrLoadFailed wraps any failure instantiating a plugin module.
	ErrLoadFailed = errors.New("plugin: load failed")
	// ErrABIVersionMismatch is returned when a plugin declares an
	// incompatible major ABI version.
	ErrABIVersionMismatch = errors.New("plugin: incompatible ABI version")
)

// State is a plugin's lifecycle state, per spec.md §4.6.
type State int

const (
	StateActive State = iota
	StateQuarantined
)

func (s State) String() string {
	if s == StateQuarantined {
		return "quarantined"
	}
	return "active"
}

// Config holds runtime-wide plugin defaults, overridable per plugin.
type Config struct {
	DefaultFuelBudget     uint64
	MaxConsecutiveFailures int
}

// DefaultConfig returns the runtime defaults named in spec.md §4.6
// (max_consecutive_failures default 3).
func DefaultConfig() Config {
	return Config{
		DefaultFuelBudget:      10_000_000,
		MaxConsecutiveFailures: 3,
	}
}

// Manifest describes a plugin prior to instantiation: its priority in the
// scheduling order, an optional fuel budget override, and the compiled
// module bytes.
type Manifest struct {
	ID         string
	Priority   int
	FuelBudget uint64 // 0 means "use runtime default"
	Wasm       []byte
}

// Plugin is one loaded, instantiable plugin and its scheduling/failure
// bookkeeping.
type Plugin struct {
	id         string
	priority   int
	loadOrder  int
	fuelBudget uint64

	state              State
	quarantinedSince   uint64
	quarantineReason   string
	consecutiveFailures int

	inst *instance
}

// ID returns the plugin's identifier.
func (p *Plugin) ID() string { return p.id }

// Priority returns the plugin's scheduling priority.
func (p *Plugin) Priority() int { return p.priority }

// State returns the plugin's current lifecycle state.
func (p *Plugin) State() State { return p.state }

// ConsecutiveFailures returns the plugin's current failure streak.
func (p *Plugin) ConsecutiveFailures() int { return p.consecutiveFailures }

// Runtime owns the set of loaded plugins and drives their per-tick
// execution, per spec.md §4.6-4.7.
type Runtime struct {
	cfg     Config
	log     *zap.Logger
	host    *hostState
	plugins []*Plugin
	engine  Engine
}

// Engine is the sandbox execution backend. Production wiring uses
// wasmtimeEngine (bytecodealliance/wasmtime-go); tests use a fake engine
// so plugin scheduling/quarantine logic can be exercised without a real
// WASM toolchain.
type Engine interface {
	Instantiate(wasm []byte, fuelBudget uint64, host *hostState) (instanceHandle, error)
}

// instanceHandle is the sandbox-backend-specific handle to one
// instantiated module.
type instanceHandle interface {
	CallOnLoad() (int32, error)
	CallOnTick(tick uint64) (int32, error)
	CallOnEvent(eventID uint64, payload []byte) (int32, bool, error)
	// ABIVersion reports the plugin's self-declared host ABI version, read
	// from its "abi_version" exported global (major*1000+minor encoded).
	// declared is false for a module that exports none, which Load treats
	// as compatible rather than rejecting.
	ABIVersion() (major, minor int32, declared bool)
	Close() error
}

type instance struct {
	handle instanceHandle
}

// NewRuntime returns a plugin runtime using the production wasmtime
// sandbox backend.
func NewRuntime(cfg Config, log *zap.Logger) *Runtime {
	return newRuntimeWithEngine(cfg, log, newWasmtimeEngine())
}

func newRuntimeWithEngine(cfg Config, log *zap.Logger, eng Engine) *Runtime {
	return &Runtime{
		cfg:    cfg,
		log:    log,
		host:   newHostState(),
		engine: eng,
	}
}

// Load instantiates a plugin from its manifest, calls its required
// on_load export, and inserts it into the priority-ordered schedule.
// Load failure (missing export, trap, instantiation error) never
// registers the plugin.
func (r *Runtime) Load(m Manifest) error {
	budget := m.FuelBudget
	if budget == 0 {
		budget = r.cfg.DefaultFuelBudget
	}

	handle, err := r.engine.Instantiate(m.Wasm, budget, r.host)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLoadFailed, m.ID, err)
	}

	if major, minor, declared := handle.ABIVersion(); declared && major != command.ABIVersionMajor {
		_ = handle.Close()
		return fmt.Errorf("%w: %s: plugin ABI v%d.%d, host v%d.%d",
			ErrABIVersionMismatch, m.ID, major, minor, command.ABIVersionMajor, command.ABIVersionMinor)
	}

	rc, err := handle.CallOnLoad()
	if err != nil {
		_ = handle.Close()
		return fmt.Errorf("%w: %s: on_load trapped: %v", ErrLoadFailed, m.ID, err)
	}
	if rc != OK {
		_ = handle.Close()
		return fmt.Errorf("%w: %s: on_load returned %d", ErrLoadFailed, m.ID, rc)
	}

	p := &Plugin{
		id:         m.ID,
		priority:   m.Priority,
		loadOrder:  len(r.plugins),
		fuelBudget: budget,
		state:      StateActive,
		inst:       &instance{handle: handle},
	}
	r.plugins = append(r.plugins, p)
	r.sortSchedule()

	if r.log != nil {
		r.log.Info("plugin loaded", zap.String("plugin_id", m.ID), zap.Int("priority", m.Priority), zap.Uint64("fuel_budget", budget))
	}
	return nil
}

// sortSchedule orders plugins by ascending priority, ties broken by
// insertion (load) order, per spec.md §4.7.
func (r *Runtime) sortSchedule() {
	sort.SliceStable(r.plugins, func(i, j int) bool {
		if r.plugins[i].priority != r.plugins[j].priority {
			return r.plugins[i].priority < r.plugins[j].priority
		}
		return r.plugins[i].loadOrder < r.plugins[j].loadOrder
	})
}

// Plugins returns the scheduling order's current plugin list.
func (r *Runtime) Plugins() []*Plugin { return r.plugins }

// SetComponentReader installs the component cache the get_component host
// call reads from. The tick loop refreshes this once per tick.
func (r *Runtime) SetComponentReader(cr ComponentReader) { r.host.SetComponentReader(cr) }

// SetLogger installs the sink for forwarded plugin log(level, msg) calls.
func (r *Runtime) SetLogger(l Logger) { r.host.SetLogger(l) }

// seed derives the deterministic per-tick, per-plugin random seed named
// in spec.md §4.6: hash(tick, plugin_id).
func seed(tick uint64, pluginID string) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(tick >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(pluginID))
	return h.Sum64()
}

// EventID hashes an EmitEvent command's name to the numeric event_id the
// on_event(event_id, ptr, len) export (spec.md §4.6) expects. The wire
// Command carries the event name, not a plugin-author-assigned integer,
// so the id is derived rather than declared.
func EventID(name string) uint64 {
	return xxhash.Sum64String(name)
}

// RunTick executes every non-quarantined plugin's on_tick in scheduling
// order and returns the concatenated, per-plugin-ordered command stream
// (spec.md §4.4 step 2, §4.6 step 4-6).
func (r *Runtime) RunTick(tick uint64) []command.Command {
	var out []command.Command
	for _, p := range r.plugins {
		if p.state == StateQuarantined {
			continue
		}
		cmds := r.runOne(p, tick)
		out = append(out, cmds...)
	}
	return out
}

func (r *Runtime) runOne(p *Plugin, tick uint64) []command.Command {
	r.host.beginTick(tick, seed(tick, p.id), p.id)

	rc, err := p.inst.handle.CallOnTick(tick)
	if err != nil {
		// Trap: fuel exhaustion or any other runtime fault. Discard
		// pending commands, bump the failure streak.
		r.host.discardPending()
		p.consecutiveFailures++
		if r.log != nil {
			r.log.Warn("plugin trapped", zap.String("plugin_id", p.id), zap.Uint64("tick", tick), zap.Error(err))
		}
		r.maybeQuarantine(p, tick, err.Error())
		return nil
	}

	if rc != OK {
		// Application-level error: plugin still committed work.
		cmds := r.host.takePending()
		p.consecutiveFailures = 0
		if r.log != nil {
			r.log.Debug("plugin on_tick returned error code", zap.String("plugin_id", p.id), zap.Int32("code", rc))
		}
		return cmds
	}

	cmds := r.host.takePending()
	p.consecutiveFailures = 0
	return cmds
}

// DispatchEvent delivers one EmitEvent command to every non-quarantined
// plugin's optional on_event export, in schedule order, collecting
// whatever commands each invocation emits. tick reuses the per-tick seed
// every plugin already saw this tick (spec.md §4.6), since an event
// dispatched during apply belongs to the tick it was resolved in.
func (r *Runtime) DispatchEvent(tick, eventID uint64, payload []byte) []command.Command {
	var out []command.Command
	for _, p := range r.plugins {
		if p.state == StateQuarantined {
			continue
		}
		out = append(out, r.runEvent(p, tick, eventID, payload)...)
	}
	return out
}

func (r *Runtime) runEvent(p *Plugin, tick, eventID uint64, payload []byte) []command.Command {
	r.host.beginTick(tick, seed(tick, p.id), p.id)

	rc, handled, err := p.inst.handle.CallOnEvent(eventID, payload)
	if err != nil {
		r.host.discardPending()
		p.consecutiveFailures++
		if r.log != nil {
			r.log.Warn("plugin on_event trapped", zap.String("plugin_id", p.id), zap.Uint64("tick", tick), zap.Error(err))
		}
		r.maybeQuarantine(p, tick, err.Error())
		return nil
	}
	if !handled {
		return nil
	}

	cmds := r.host.takePending()
	if rc == OK {
		p.consecutiveFailures = 0
	}
	return cmds
}

func (r *Runtime) maybeQuarantine(p *Plugin, tick uint64, reason string) {
	if p.consecutiveFailures < r.cfg.MaxConsecutiveFailures {
		return
	}
	p.state = StateQuarantined
	p.quarantinedSince = tick
	p.quarantineReason = reason
	if r.log != nil {
		r.log.Warn("plugin quarantined", zap.String("plugin_id", p.id), zap.Uint64("since_tick", tick), zap.String("reason", reason))
	}
}
