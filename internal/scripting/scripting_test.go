package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/l1jgo/simcore/internal/command"
	"github.com/l1jgo/simcore/internal/component"
	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/perm"
	"github.com/l1jgo/simcore/internal/spatial"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// hpHandler is a minimal component.Handler + enumeration capability used
// only to exercise the ecs proxy and query() in tests.
type hpHandler struct {
	values map[entity.ID][]byte
}

func (h *hpHandler) Tag() string { return "hp" }
func (h *hpHandler) Capture(id entity.ID) ([]byte, bool) {
	v, ok := h.values[id]
	return v, ok
}
func (h *hpHandler) Restore(id entity.ID, data []byte) error {
	h.values[id] = data
	return nil
}
func (h *hpHandler) Remove(id entity.ID) { delete(h.values, id) }
func (h *hpHandler) EntitiesWith() []entity.ID {
	out := make([]entity.ID, 0, len(h.values))
	for id := range h.values {
		out = append(out, id)
	}
	return out
}

type fakeSessions struct {
	bySession map[uint64]entity.ID
}

func (f *fakeSessions) EntityForSession(id uint64) (entity.ID, bool) {
	e, ok := f.bySession[id]
	return e, ok
}
func (f *fakeSessions) SessionForEntity(e entity.ID) (uint64, bool) {
	for sid, ent := range f.bySession {
		if ent == e {
			return sid, true
		}
	}
	return 0, false
}

type fakeOutput struct {
	sent       []string
	broadcasts []string
}

func (f *fakeOutput) Send(sessionID uint64, text string) {
	f.sent = append(f.sent, text)
}
func (f *fakeOutput) BroadcastRoom(room entity.ID, text string, exclude uint64, hasExclude bool) {
	f.broadcasts = append(f.broadcasts, text)
}

func newTestDeps() (Deps, *hpHandler) {
	w := component.NewWorld()
	reg := w.Registry()
	hp := &hpHandler{values: make(map[entity.ID][]byte)}
	reg.RegisterHandler(hp)

	return Deps{
		World:    w,
		Registry: reg,
		Stream:   command.NewStream(),
		Space:    spatial.NewRoomGraph(),
		Sessions: &fakeSessions{bySession: make(map[uint64]entity.ID)},
		Output:   &fakeOutput{},
	}, hp
}

func TestFireTickCallsGlobalHook(t *testing.T) {
	eng := NewEngine(DefaultConfig(), zap.NewNop())
	defer eng.Close()
	require.NoError(t, eng.LoadString(`
		ticks = {}
		function on_tick(n)
			table.insert(ticks, n)
		end
	`))
	deps, _ := newTestDeps()
	eng.FireTick(deps, 5)
	eng.FireTick(deps, 6)

	v := eng.vm.GetGlobal("ticks").(*lua.LTable)
	require.Equal(t, 2, v.Len())
}

func TestEcsSetPushesCommandOntoStream(t *testing.T) {
	eng := NewEngine(DefaultConfig(), zap.NewNop())
	defer eng.Close()
	require.NoError(t, eng.LoadString(`
		function on_tick(n)
			ecs.set(1, "hp", {amount = 42})
		end
	`))
	deps, _ := newTestDeps()
	eng.FireTick(deps, 0)

	require.Equal(t, 1, deps.Stream.Len())
}

func TestEcsGetReadsFromRegistry(t *testing.T) {
	eng := NewEngine(DefaultConfig(), zap.NewNop())
	defer eng.Close()
	require.NoError(t, eng.LoadString(`
		last_hp = nil
		function on_tick(n)
			last_hp = ecs.get(1, "hp")
		end
	`))
	deps, hp := newTestDeps()
	hp.values[entity.New(1, 0)] = []byte(`{"amount":7}`)

	eng.FireTick(deps, 0)
	got := eng.vm.GetGlobal("last_hp")
	require.NotEqual(t, "nil", got.String())
}

func TestProxyReferencesAreRevokedAfterScope(t *testing.T) {
	eng := NewEngine(DefaultConfig(), zap.NewNop())
	defer eng.Close()
	require.NoError(t, eng.LoadString(`
		saved_ecs = nil
		function on_tick(n)
			saved_ecs = ecs
		end
		function try_use_saved()
			return pcall(function() saved_ecs.get(1, "hp") end)
		end
	`))
	deps, _ := newTestDeps()
	eng.FireTick(deps, 0)

	out, called := eng.call("try_use_saved", 2)
	require.True(t, called)
	require.Equal(t, "false", out[0].String())
}

func TestFireActionReturnsConsumed(t *testing.T) {
	eng := NewEngine(DefaultConfig(), zap.NewNop())
	defer eng.Close()
	require.NoError(t, eng.LoadString(`
		function on_action(name, ctx)
			return name == "attack"
		end
	`))
	deps, _ := newTestDeps()
	require.True(t, eng.FireAction(deps, "attack", nil))
	require.False(t, eng.FireAction(deps, "wave", nil))
}

func TestFireAdminGatesOnPermission(t *testing.T) {
	eng := NewEngine(DefaultConfig(), zap.NewNop())
	defer eng.Close()
	require.NoError(t, eng.LoadString(`
		function on_admin(cmd, min_perm, ctx)
			return true
		end
	`))
	deps, _ := newTestDeps()

	require.False(t, eng.FireAdmin(deps, "kick", perm.Admin, perm.Player, nil))
	require.True(t, eng.FireAdmin(deps, "kick", perm.Helper, perm.GameMaster, nil))
}

func TestLoadTemplateLoadsScriptsInDeclaredOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "game.toml"), []byte(`
name = "arena"
version = "0.1.0"
scripts = ["second", "first"]
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "first.lua"), []byte(`
table.insert(order, "first")
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "second.lua"), []byte(`
table.insert(order, "second")
`), 0o644))

	eng := NewEngine(DefaultConfig(), zap.NewNop())
	defer eng.Close()
	eng.vm.SetGlobal("order", eng.vm.NewTable())

	tmpl, err := eng.LoadTemplate(dir)
	require.NoError(t, err)
	require.Equal(t, "arena", tmpl.Name)

	order := eng.vm.GetGlobal("order").(*lua.LTable)
	require.Equal(t, "second", order.RawGetInt(1).String())
	require.Equal(t, "first", order.RawGetInt(2).String())
}

func TestLoadTemplateFallsBackToDirSweepWhenScriptsUnlisted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "game.toml"), []byte(`
name = "sandbox"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "a.lua"), []byte(`
loaded_a = true
`), 0o644))

	eng := NewEngine(DefaultConfig(), zap.NewNop())
	defer eng.Close()

	_, err := eng.LoadTemplate(dir)
	require.NoError(t, err)
	require.Equal(t, lua.LTrue, eng.vm.GetGlobal("loaded_a"))
}

func TestSpaceProxyMoveEntityPushesCommand(t *testing.T) {
	eng := NewEngine(DefaultConfig(), zap.NewNop())
	defer eng.Close()
	require.NoError(t, eng.LoadString(`
		function on_tick(n)
			space.move_entity(1, 2)
		end
	`))
	deps, _ := newTestDeps()
	eng.FireTick(deps, 0)
	require.Equal(t, 1, deps.Stream.Len())
}
