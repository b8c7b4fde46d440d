package authflow

import (
	"context"
	"testing"

	"github.com/l1jgo/simcore/internal/component"
	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/perm"
	"github.com/l1jgo/simcore/internal/persist"
	"github.com/l1jgo/simcore/internal/session"
	"github.com/l1jgo/simcore/internal/spatial"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAccounts is an in-memory stand-in for *persist.AccountRepo, keyed by
// account name, storing the password in the clear since bcrypt is the
// real repo's concern, not this package's.
type fakeAccounts struct {
	byName map[string]*persist.AccountRow
	byID   map[int64]string
	pw     map[string]string
	nextID int64
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		byName: make(map[string]*persist.AccountRow),
		byID:   make(map[int64]string),
		pw:     make(map[string]string),
	}
}

func (f *fakeAccounts) Load(_ context.Context, name string) (*persist.AccountRow, error) {
	row, ok := f.byName[name]
	if !ok {
		return nil, nil
	}
	return row, nil
}

func (f *fakeAccounts) Create(_ context.Context, name, rawPassword, _, _ string) (*persist.AccountRow, error) {
	f.nextID++
	row := &persist.AccountRow{ID: f.nextID, Name: name, PasswordHash: rawPassword}
	f.byName[name] = row
	f.byID[f.nextID] = name
	f.pw[name] = rawPassword
	return row, nil
}

func (f *fakeAccounts) ValidatePassword(hash, rawPassword string) bool { return hash == rawPassword }

func (f *fakeAccounts) UpdateLastActive(_ context.Context, _, _ string) error { return nil }

func (f *fakeAccounts) NameByID(_ context.Context, id int64) (string, error) {
	return f.byID[id], nil
}

// fakeCharacters is an in-memory stand-in for *persist.CharacterRepo.
type fakeCharacters struct {
	byAccount map[string][]persist.CharacterRow
}

func newFakeCharacters() *fakeCharacters {
	return &fakeCharacters{byAccount: make(map[string][]persist.CharacterRow)}
}

func (f *fakeCharacters) Get(_ context.Context, accountName string, slot int16) (*persist.CharacterRow, error) {
	for _, row := range f.byAccount[accountName] {
		if row.Slot == slot {
			r := row
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeCharacters) ListForAccount(_ context.Context, accountName string) ([]persist.CharacterRow, error) {
	return f.byAccount[accountName], nil
}

func (f *fakeCharacters) Create(_ context.Context, accountName string, slot int16, name string, entityID uint64) (*persist.CharacterRow, error) {
	row := persist.CharacterRow{ID: int64(len(f.byAccount[accountName]) + 1), Slot: slot, Name: name, EntityID: entityID}
	f.byAccount[accountName] = append(f.byAccount[accountName], row)
	return &row, nil
}

func newTestHandler(accounts *fakeAccounts, characters *fakeCharacters) *Handler {
	world := component.NewWorld()
	space := spatial.NewRoomGraph()
	spawnRoom := entity.New(1, 0)
	space.AddExit(spawnRoom, "north", spawnRoom)

	return New(Deps{
		Accounts:   accounts,
		Characters: characters,
		World:      world,
		Space:      space,
		SpawnRoom:  spawnRoom,
		Log:        zap.NewNop(),
	})
}

func TestNewAccountFlowReachesCharacterCreation(t *testing.T) {
	accounts := newFakeAccounts()
	characters := newFakeCharacters()
	h := newTestHandler(accounts, characters)

	s := session.New(1)
	mgr := session.NewManager(session.Config{})

	h.Handle(s, "newplayer", mgr)
	require.Equal(t, session.PhaseAwaitingPassword, s.Phase())

	h.Handle(s, "hunter2", mgr)
	require.Equal(t, session.PhaseAwaitingPasswordConfirm, s.Phase())

	h.Handle(s, "hunter2", mgr)
	require.Equal(t, session.PhaseSelectingCharacter, s.Phase())
	require.Contains(t, accounts.byName, "newplayer")

	h.Handle(s, "new Aragorn", mgr)
	require.Equal(t, session.PhasePlaying, s.Phase())

	entID, playing := s.Entity()
	require.True(t, playing)
	require.True(t, h.deps.World.IsLive(entID))

	chars := characters.byAccount["newplayer"]
	require.Len(t, chars, 1)
	require.Equal(t, "Aragorn", chars[0].Name)
}

func TestPasswordConfirmMismatchDisconnects(t *testing.T) {
	accounts := newFakeAccounts()
	characters := newFakeCharacters()
	h := newTestHandler(accounts, characters)

	s := session.New(2)
	mgr := session.NewManager(session.Config{})

	h.Handle(s, "newplayer", mgr)
	h.Handle(s, "hunter2", mgr)
	h.Handle(s, "wrongconfirm", mgr)

	require.Equal(t, session.PhaseDisconnected, s.Phase())
}

func TestExistingAccountWrongPasswordDisconnects(t *testing.T) {
	accounts := newFakeAccounts()
	characters := newFakeCharacters()
	ctx := context.Background()
	_, err := accounts.Create(ctx, "veteran", "correcthorse", "", "")
	require.NoError(t, err)

	h := newTestHandler(accounts, characters)
	s := session.New(3)
	mgr := session.NewManager(session.Config{})

	h.Handle(s, "veteran", mgr)
	require.Equal(t, session.PhaseAwaitingPassword, s.Phase())

	h.Handle(s, "wrongpassword", mgr)
	require.Equal(t, session.PhaseDisconnected, s.Phase())
}

func TestExistingAccountCorrectPasswordSelectsCharacter(t *testing.T) {
	accounts := newFakeAccounts()
	characters := newFakeCharacters()
	ctx := context.Background()
	row, err := accounts.Create(ctx, "veteran", "correcthorse", "", "")
	require.NoError(t, err)
	row.AccessLevel = int16(perm.GameMaster)

	e := entity.New(42, 0)
	_, err = characters.Create(ctx, "veteran", 0, "Gandalf", e.ToUint64())
	require.NoError(t, err)

	h := newTestHandler(accounts, characters)
	s := session.New(4)
	mgr := session.NewManager(session.Config{})

	h.Handle(s, "veteran", mgr)
	h.Handle(s, "correcthorse", mgr)
	require.Equal(t, session.PhaseSelectingCharacter, s.Phase())
	require.Equal(t, perm.GameMaster, s.Permission())

	h.Handle(s, "0", mgr)
	require.Equal(t, session.PhasePlaying, s.Phase())

	ent, playing := s.Entity()
	require.True(t, playing)
	require.Equal(t, e, ent)
}

func TestAccessLevelToPermissionOrdering(t *testing.T) {
	require.Equal(t, perm.Player, accessLevelToPermission(0))
	require.Equal(t, perm.Helper, accessLevelToPermission(int16(perm.Helper)))
	require.Equal(t, perm.GameMaster, accessLevelToPermission(int16(perm.GameMaster)))
	require.Equal(t, perm.Admin, accessLevelToPermission(int16(perm.Admin)+5))
}
