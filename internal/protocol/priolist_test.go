package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriolistHigherPriorityWinsFirst(t *testing.T) {
	pl := NewPriolist()
	pl.Insert(1, 8)
	pl.Insert(2, 1)
	pl.Activate(1)
	pl.Activate(2)

	id, ok := pl.Pop()
	require.True(t, ok)
	require.Equal(t, uint32(2), id, "lower numeric priority value must be served first")
}

func TestPriolistRoundRobinsWithinPriority(t *testing.T) {
	pl := NewPriolist()
	pl.Insert(1, 4)
	pl.Insert(2, 4)
	pl.Activate(1)
	pl.Activate(2)

	first, _ := pl.Pop()
	pl.Deactivate(first)
	pl.Activate(first) // re-arm immediately, as a pump would after send completes

	second, _ := pl.Pop()
	require.NotEqual(t, first, second, "rotation must not pick the same id twice in a row when another is ready")
}

func TestPriolistPopFalseWhenNoneActive(t *testing.T) {
	pl := NewPriolist()
	pl.Insert(1, 8)
	_, ok := pl.Pop()
	require.False(t, ok)
}

func TestPriolistRemoveDuringRotation(t *testing.T) {
	pl := NewPriolist()
	pl.Insert(1, 8)
	pl.Insert(2, 8)
	pl.Insert(3, 8)
	pl.Activate(1)
	pl.Activate(2)
	pl.Activate(3)

	pl.Remove(2)
	require.False(t, pl.Contains(2))
	require.Equal(t, 2, pl.Len())

	seen := map[uint32]bool{}
	for i := 0; i < 4; i++ {
		id, ok := pl.Pop()
		require.True(t, ok)
		seen[id] = true
		pl.Deactivate(id)
		pl.Activate(id)
	}
	require.Len(t, seen, 2)
	require.True(t, seen[1] && seen[3])
}
