package plugin

import (
	"errors"
	"testing"

	"github.com/l1jgo/simcore/internal/command"
	"github.com/l1jgo/simcore/internal/entity"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEngine and fakeHandle let the scheduling/quarantine/ABI-result
// logic be tested without a real WASM toolchain; onTick is supplied by
// the test to script a plugin's per-tick behavior.
type fakeEngine struct {
	instances map[string]*fakeHandle
}

func newFakeEngine() *fakeEngine { return &fakeEngine{instances: make(map[string]*fakeHandle)} }

func (f *fakeEngine) Instantiate(wasm []byte, fuelBudget uint64, host *hostState) (instanceHandle, error) {
	name := string(wasm)
	h, ok := f.instances[name]
	if !ok {
		return nil, errors.New("no such fake module registered: " + name)
	}
	h.host = host
	return h, nil
}

type fakeHandle struct {
	host      *hostState
	onLoadRC  int32
	onLoadErr error
	onTick    func(host *hostState, tick uint64) (int32, error)
	onEvent   func(host *hostState, eventID uint64, payload []byte) (int32, bool, error)
	closed    bool

	abiMajor    int32
	abiMinor    int32
	abiDeclared bool
}

func (h *fakeHandle) CallOnLoad() (int32, error) { return h.onLoadRC, h.onLoadErr }

func (h *fakeHandle) CallOnTick(tick uint64) (int32, error) {
	return h.onTick(h.host, tick)
}

func (h *fakeHandle) CallOnEvent(eventID uint64, payload []byte) (int32, bool, error) {
	if h.onEvent == nil {
		return 0, false, nil
	}
	return h.onEvent(h.host, eventID, payload)
}

func (h *fakeHandle) ABIVersion() (major, minor int32, declared bool) {
	return h.abiMajor, h.abiMinor, h.abiDeclared
}

func (h *fakeHandle) Close() error { h.closed = true; return nil }

func newRuntimeForTest(cfg Config) (*Runtime, *fakeEngine) {
	eng := newFakeEngine()
	return newRuntimeWithEngine(cfg, zap.NewNop(), eng), eng
}

func TestLoadRejectsOnLoadFailure(t *testing.T) {
	r, eng := newRuntimeForTest(DefaultConfig())
	eng.instances["bad"] = &fakeHandle{onLoadRC: 1}

	err := r.Load(Manifest{ID: "bad", Wasm: []byte("bad")})
	require.ErrorIs(t, err, ErrLoadFailed)
	require.Empty(t, r.Plugins())
}

func TestLoadRejectsABIVersionMismatch(t *testing.T) {
	r, eng := newRuntimeForTest(DefaultConfig())
	eng.instances["future"] = &fakeHandle{onLoadRC: OK, abiDeclared: true, abiMajor: command.ABIVersionMajor + 1}

	err := r.Load(Manifest{ID: "future", Wasm: []byte("future")})
	require.ErrorIs(t, err, ErrABIVersionMismatch)
	require.Empty(t, r.Plugins())
}

func TestLoadAcceptsUndeclaredABIVersion(t *testing.T) {
	r, eng := newRuntimeForTest(DefaultConfig())
	eng.instances["legacy"] = &fakeHandle{onLoadRC: OK}

	require.NoError(t, r.Load(Manifest{ID: "legacy", Wasm: []byte("legacy")}))
	require.Len(t, r.Plugins(), 1)
}

func TestDispatchEventCollectsCommandsFromHandlingPlugins(t *testing.T) {
	r, eng := newRuntimeForTest(DefaultConfig())
	e := entity.New(1, 0)

	eng.instances["silent"] = &fakeHandle{onLoadRC: OK} // no onEvent: not handled
	eng.instances["reacts"] = &fakeHandle{onLoadRC: OK, onEvent: func(host *hostState, eventID uint64, payload []byte) (int32, bool, error) {
		host.emitCommand(command.Encode(command.SetComponent(e, "hp", payload)))
		return OK, true, nil
	}}
	require.NoError(t, r.Load(Manifest{ID: "silent", Wasm: []byte("silent")}))
	require.NoError(t, r.Load(Manifest{ID: "reacts", Wasm: []byte("reacts")}))

	cmds := r.DispatchEvent(0, EventID("ding"), []byte{9})
	require.Len(t, cmds, 1)
	require.Equal(t, []byte{9}, cmds[0].Payload)
}

func TestDispatchEventTrapQuarantinesLikeOnTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 1
	r, eng := newRuntimeForTest(cfg)

	eng.instances["p"] = &fakeHandle{onLoadRC: OK, onEvent: func(host *hostState, eventID uint64, payload []byte) (int32, bool, error) {
		return 0, true, errors.New("trap")
	}}
	require.NoError(t, r.Load(Manifest{ID: "p", Wasm: []byte("p")}))

	cmds := r.DispatchEvent(0, EventID("boom"), nil)
	require.Empty(t, cmds)
	require.Equal(t, StateQuarantined, r.Plugins()[0].State())
}

func TestRunTickCollectsCommandsInPriorityOrder(t *testing.T) {
	r, eng := newRuntimeForTest(DefaultConfig())

	e := entity.New(1, 0)
	eng.instances["b"] = &fakeHandle{onTick: func(host *hostState, tick uint64) (int32, error) {
		host.emitCommand(command.Encode(command.SetComponent(e, "hp", []byte{2})))
		return OK, nil
	}}
	eng.instances["a"] = &fakeHandle{onTick: func(host *hostState, tick uint64) (int32, error) {
		host.emitCommand(command.Encode(command.SetComponent(e, "hp", []byte{1})))
		return OK, nil
	}}

	require.NoError(t, r.Load(Manifest{ID: "b", Priority: 10, Wasm: []byte("b")}))
	require.NoError(t, r.Load(Manifest{ID: "a", Priority: 1, Wasm: []byte("a")}))

	cmds := r.RunTick(0)
	require.Len(t, cmds, 2)
	require.Equal(t, []byte{1}, cmds[0].Payload) // "a" (priority 1) runs first
	require.Equal(t, []byte{2}, cmds[1].Payload)
}

func TestQuarantineAfterMaxConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 3
	r, eng := newRuntimeForTest(cfg)

	eng.instances["trap"] = &fakeHandle{onTick: func(host *hostState, tick uint64) (int32, error) {
		return 0, errors.New("trap: out of fuel")
	}}
	require.NoError(t, r.Load(Manifest{ID: "trap", Wasm: []byte("trap")}))

	for tick := uint64(0); tick < 3; tick++ {
		cmds := r.RunTick(tick)
		require.Empty(t, cmds)
	}
	require.Equal(t, StateQuarantined, r.Plugins()[0].State())

	// Tick 3: quarantined plugin produces zero commands and is skipped
	// entirely (spec scenario 4).
	cmds := r.RunTick(3)
	require.Empty(t, cmds)
}

func TestFuelExhaustionDiscardsPendingCommands(t *testing.T) {
	r, eng := newRuntimeForTest(DefaultConfig())
	e := entity.New(1, 0)

	eng.instances["p"] = &fakeHandle{onTick: func(host *hostState, tick uint64) (int32, error) {
		host.emitCommand(command.Encode(command.SetComponent(e, "hp", []byte{9})))
		return 0, errors.New("trap: fuel exhausted")
	}}
	require.NoError(t, r.Load(Manifest{ID: "p", Wasm: []byte("p")}))

	cmds := r.RunTick(0)
	require.Empty(t, cmds, "commands emitted before a trap must be discarded")
	require.Equal(t, 1, r.Plugins()[0].ConsecutiveFailures())
}

func TestApplicationErrorResetsFailuresAndKeepsCommands(t *testing.T) {
	r, eng := newRuntimeForTest(DefaultConfig())
	e := entity.New(1, 0)

	eng.instances["p"] = &fakeHandle{onTick: func(host *hostState, tick uint64) (int32, error) {
		host.emitCommand(command.Encode(command.DestroyEntity(e)))
		return 7, nil // non-zero, non-trap
	}}
	require.NoError(t, r.Load(Manifest{ID: "p", Wasm: []byte("p")}))

	cmds := r.RunTick(0)
	require.Len(t, cmds, 1)
	require.Equal(t, 0, r.Plugins()[0].ConsecutiveFailures())
}

func TestSeedIsDeterministicPerTickAndPlugin(t *testing.T) {
	s1 := seed(5, "plugin-a")
	s2 := seed(5, "plugin-a")
	s3 := seed(5, "plugin-b")
	s4 := seed(6, "plugin-a")

	require.Equal(t, s1, s2)
	require.NotEqual(t, s1, s3)
	require.NotEqual(t, s1, s4)
}

func TestComponentReaderSurfacesEntityNotFound(t *testing.T) {
	h := newHostState()
	_, code := h.getComponent(entity.New(1, 0), "hp")
	require.Equal(t, int32(ErrEntityNotFoundAbi), code)
}

type staticComponentReader map[string][]byte

func (s staticComponentReader) ReadComponent(e entity.ID, tag string) ([]byte, bool) {
	v, ok := s[tag]
	return v, ok
}

func TestComponentReaderReturnsCachedPayload(t *testing.T) {
	h := newHostState()
	h.SetComponentReader(staticComponentReader{"hp": {1, 2, 3}})
	payload, code := h.getComponent(entity.New(1, 0), "hp")
	require.Equal(t, int32(OK), code)
	require.Equal(t, []byte{1, 2, 3}, payload)
}
