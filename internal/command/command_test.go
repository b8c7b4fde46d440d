package command

import (
	"testing"

	"github.com/l1jgo/simcore/internal/entity"
	"github.com/stretchr/testify/require"
)

func TestLWWCollision(t *testing.T) {
	s := NewStream()
	e := entity.New(42, 0)
	s.Push(SetComponent(e, "c10", []byte{1, 2, 3}))
	s.Push(SetComponent(e, "c10", []byte{4, 5, 6}))

	resolved := s.Resolve()
	require.Len(t, resolved, 1)
	require.Equal(t, KindSetComponent, resolved[0].Kind)
	require.Equal(t, []byte{4, 5, 6}, resolved[0].Payload)
}

func TestResolveSortsComponentKeyedAscending(t *testing.T) {
	s := NewStream()
	e1 := entity.New(5, 0)
	e2 := entity.New(2, 0)
	s.Push(SetComponent(e1, "z", nil))
	s.Push(SetComponent(e2, "a", nil))
	s.Push(SetComponent(e1, "a", nil))

	resolved := s.Resolve()
	require.Len(t, resolved, 3)
	require.Equal(t, e2, resolved[0].Entity)
	require.Equal(t, e1, resolved[1].Entity)
	require.Equal(t, "a", resolved[1].Component)
	require.Equal(t, e1, resolved[2].Entity)
	require.Equal(t, "z", resolved[2].Component)
}

func TestOtherCommandsPreservePushOrderAndAreNotDeduped(t *testing.T) {
	s := NewStream()
	e := entity.New(1, 0)
	s.Push(EmitEvent(e, "ding", nil))
	s.Push(EmitEvent(e, "ding", nil))
	s.Push(DestroyEntity(e))

	resolved := s.Resolve()
	require.Len(t, resolved, 3)
	require.Equal(t, KindEmitEvent, resolved[0].Kind)
	require.Equal(t, KindEmitEvent, resolved[1].Kind)
	require.Equal(t, KindDestroyEntity, resolved[2].Kind)
}

func TestResetClearsStream(t *testing.T) {
	s := NewStream()
	s.Push(DestroyEntity(entity.New(1, 0)))
	require.Equal(t, 1, s.Len())
	s.Reset()
	require.Equal(t, 0, s.Len())
	require.Empty(t, s.Resolve())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Command{
		SetComponent(entity.New(1, 2), "hp", []byte{9, 9}),
		RemoveComponent(entity.New(3, 4), "hp"),
		EmitEvent(entity.New(5, 6), "enter_room", []byte("payload")),
		SpawnEntity(),
		DestroyEntity(entity.New(7, 8)),
		MoveEntity(entity.New(9, 10), entity.New(11, 12)),
	}
	for _, c := range cases {
		encoded := Encode(c)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		require.Equal(t, c, decoded)
	}
}

func TestDecodeOutOfBounds(t *testing.T) {
	_, err := Decode([]byte{0, 1, 2})
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestDecodeUnknownKind(t *testing.T) {
	encoded := Encode(DestroyEntity(entity.New(1, 0)))
	encoded[0] = 0xFF
	_, err := Decode(encoded)
	require.ErrorIs(t, err, ErrSerialize)
}
