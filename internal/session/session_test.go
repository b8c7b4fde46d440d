package session

import (
	"testing"
	"time"

	"github.com/l1jgo/simcore/internal/entity"
	"github.com/l1jgo/simcore/internal/perm"
	"github.com/stretchr/testify/require"
)

func TestNewAccountFlowTransitionsThroughConfirm(t *testing.T) {
	s := New(1)
	require.NoError(t, s.EnterAwaitingPassword("alice", true))
	require.Equal(t, PhaseAwaitingPassword, s.Phase())

	require.NoError(t, s.EnterAwaitingPasswordConfirm("hunter2"))
	require.Equal(t, PhaseAwaitingPasswordConfirm, s.Phase())

	require.ErrorIs(t, s.ConfirmPassword("wrong", 10), ErrPasswordMismatch)
	require.NoError(t, s.ConfirmPassword("hunter2", 10))
	require.Equal(t, PhaseSelectingCharacter, s.Phase())

	require.NoError(t, s.BindEntity(entity.New(5, 0)))
	require.Equal(t, PhasePlaying, s.Phase())
	e, ok := s.Entity()
	require.True(t, ok)
	require.Equal(t, entity.New(5, 0), e)
}

func TestExistingAccountSkipsConfirm(t *testing.T) {
	s := New(2)
	require.NoError(t, s.EnterAwaitingPassword("bob", false))
	require.NoError(t, s.AuthenticateExisting(20, perm.GameMaster))
	require.Equal(t, PhaseSelectingCharacter, s.Phase())
	require.Equal(t, perm.GameMaster, s.Permission())
}

func TestInvalidTransitionsRejected(t *testing.T) {
	s := New(3)
	require.ErrorIs(t, s.BindEntity(entity.New(1, 0)), ErrInvalidTransition)
	require.ErrorIs(t, s.ConfirmPassword("x", 1), ErrInvalidTransition)
}

func TestDisconnectFromPlaying(t *testing.T) {
	s := New(4)
	_ = s.EnterAwaitingPassword("carl", false)
	_ = s.AuthenticateExisting(1, perm.Player)
	_ = s.BindEntity(entity.New(9, 0))
	s.Disconnect()
	require.Equal(t, PhaseDisconnected, s.Phase())
	_, playing := s.Entity()
	require.False(t, playing)
}

func TestManagerLingersEntityOnDisconnect(t *testing.T) {
	m := NewManager(Config{LingerDuration: time.Minute})
	s := New(1)
	_ = s.EnterAwaitingPassword("d", false)
	_ = s.AuthenticateExisting(7, perm.Player)
	_ = s.BindEntity(entity.New(3, 0))
	m.Add(s)

	now := time.Unix(1000, 0)
	m.Remove(1, 7, now)

	_, stillThere := m.Get(1)
	require.False(t, stillThere)

	l, ok := m.Reclaim(7, now.Add(time.Second))
	require.True(t, ok)
	require.Equal(t, entity.New(3, 0), l.Entity)
}

func TestManagerQuickPlaySkipsLingering(t *testing.T) {
	m := NewManager(Config{LingerDuration: time.Minute, QuickPlay: true})
	s := New(1)
	_ = s.EnterAwaitingPassword("d", false)
	_ = s.AuthenticateExisting(7, perm.Player)
	_ = s.BindEntity(entity.New(3, 0))
	m.Add(s)

	m.Remove(1, 7, time.Unix(0, 0))
	_, ok := m.Reclaim(7, time.Unix(0, 0))
	require.False(t, ok)
}

func TestSweepExpiredRemovesStaleLingers(t *testing.T) {
	m := NewManager(Config{LingerDuration: time.Second})
	s := New(1)
	_ = s.EnterAwaitingPassword("d", false)
	_ = s.AuthenticateExisting(7, perm.Player)
	_ = s.BindEntity(entity.New(3, 0))
	m.Add(s)

	start := time.Unix(1000, 0)
	m.Remove(1, 7, start)

	expired := m.SweepExpired(start.Add(2 * time.Second))
	require.Len(t, expired, 1)
	require.Equal(t, int64(7), expired[0].CharacterID)

	_, ok := m.Reclaim(7, start.Add(2*time.Second))
	require.False(t, ok)
}

func TestEntityForSessionAndSessionForEntity(t *testing.T) {
	m := NewManager(Config{})
	s := New(42)
	_ = s.EnterAwaitingPassword("e", false)
	_ = s.AuthenticateExisting(1, perm.Player)
	id := entity.New(99, 0)
	_ = s.BindEntity(id)
	m.Add(s)

	got, ok := m.EntityForSession(42)
	require.True(t, ok)
	require.Equal(t, id, got)

	sid, ok := m.SessionForEntity(id)
	require.True(t, ok)
	require.Equal(t, uint64(42), sid)
}
