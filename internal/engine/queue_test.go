package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOPerRole(t *testing.T) {
	q := NewQueue()
	q.PushBack(QueueEntry{Player: "a", Role: RoleDPS, EnqueuedAt: at(0)})
	q.PushBack(QueueEntry{Player: "f", Role: RoleFlex, EnqueuedAt: at(1)})
	q.PushBack(QueueEntry{Player: "b", Role: RoleDPS, EnqueuedAt: at(2)})
	q.PushBack(QueueEntry{Player: "t", Role: RoleTank, EnqueuedAt: at(3)})

	assert.Equal(t, 2, q.Len(RoleDPS))
	assert.Equal(t, []Role{RoleTank, RoleDPS, RoleFlex}, q.Roles())
	assert.Equal(t, map[Role]int{RoleTank: 1, RoleDPS: 2, RoleFlex: 1}, q.Counts())

	var order []PlayerID
	for _, e := range q.All() {
		order = append(order, e.Player)
	}
	assert.Equal(t, []PlayerID{"t", "a", "b", "f"}, order)

	head, ok := q.PopHead(RoleDPS)
	require.True(t, ok)
	assert.Equal(t, PlayerID("a"), head.Player)

	q.PushFront(head)
	head, _ = q.PopHead(RoleDPS)
	assert.Equal(t, PlayerID("a"), head.Player)

	_, ok = q.PopHead(RoleSupport)
	assert.False(t, ok)
}

func TestQueue_UpdateKeepsPosition(t *testing.T) {
	q := NewQueue()
	q.PushBack(QueueEntry{Player: "a", Role: RoleTank})
	q.PushBack(QueueEntry{Player: "b", Role: RoleTank})

	require.True(t, q.Update(QueueEntry{Player: "a", Role: RoleTank, Character: "Winston"}))
	entries := q.Entries(RoleTank)
	assert.Equal(t, PlayerID("a"), entries[0].Player)
	assert.Equal(t, Character("Winston"), entries[0].Character)

	assert.False(t, q.Update(QueueEntry{Player: "zz", Role: RoleTank}))
}

func TestQueue_RemoveAndClear(t *testing.T) {
	q := NewQueue()
	q.PushBack(QueueEntry{Player: "a", Role: RoleTank})
	q.PushBack(QueueEntry{Player: "b", Role: RoleSupport})

	removed, ok := q.Remove("b")
	require.True(t, ok)
	assert.Equal(t, RoleSupport, removed.Role)
	_, ok = q.Find("b")
	assert.False(t, ok)

	q.Clear()
	assert.Empty(t, q.All())
}
