package engine

import (
	"slices"
	"time"
)

type QueueEntry struct {
	Player     PlayerID  `json:"player_id"`
	Role       Role      `json:"role"`
	Character  Character `json:"character,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is one FIFO per requested role. Slice order is the only ordering that
// matters; EnqueuedAt is kept for re-queueing and display.
type Queue struct {
	fifos map[Role][]QueueEntry
}

func NewQueue() *Queue {
	return &Queue{fifos: make(map[Role][]QueueEntry)}
}

func (q *Queue) PushBack(e QueueEntry) {
	q.fifos[e.Role] = append(q.fifos[e.Role], e)
}

func (q *Queue) PushFront(e QueueEntry) {
	q.fifos[e.Role] = slices.Insert(q.fifos[e.Role], 0, e)
}

func (q *Queue) PopHead(role Role) (QueueEntry, bool) {
	fifo := q.fifos[role]
	if len(fifo) == 0 {
		return QueueEntry{}, false
	}
	head := fifo[0]
	q.fifos[role] = fifo[1:]
	return head, true
}

func (q *Queue) Find(p PlayerID) (QueueEntry, bool) {
	for _, fifo := range q.fifos {
		for _, e := range fifo {
			if e.Player == p {
				return e, true
			}
		}
	}
	return QueueEntry{}, false
}

func (q *Queue) Remove(p PlayerID) (QueueEntry, bool) {
	for role, fifo := range q.fifos {
		for i, e := range fifo {
			if e.Player == p {
				q.fifos[role] = slices.Delete(fifo, i, i+1)
				return e, true
			}
		}
	}
	return QueueEntry{}, false
}

// Update rewrites an entry in place without changing its position.
func (q *Queue) Update(e QueueEntry) bool {
	fifo := q.fifos[e.Role]
	for i := range fifo {
		if fifo[i].Player == e.Player {
			fifo[i] = e
			return true
		}
	}
	return false
}

func (q *Queue) Len(role Role) int { return len(q.fifos[role]) }

// Size counts entries across every FIFO.
func (q *Queue) Size() int {
	n := 0
	for _, fifo := range q.fifos {
		n += len(fifo)
	}
	return n
}

func (q *Queue) Entries(role Role) []QueueEntry {
	return slices.Clone(q.fifos[role])
}

// All returns every entry: slot roles first in their fixed order, then flex,
// each FIFO in queue order.
func (q *Queue) All() []QueueEntry {
	var out []QueueEntry
	for _, role := range q.Roles() {
		out = append(out, q.fifos[role]...)
	}
	return out
}

func (q *Queue) Roles() []Role {
	var out []Role
	for _, role := range append(slices.Clone(slotRoles), RoleFlex) {
		if len(q.fifos[role]) > 0 {
			out = append(out, role)
		}
	}
	return out
}

func (q *Queue) Counts() map[Role]int {
	out := make(map[Role]int, len(q.fifos))
	for role, fifo := range q.fifos {
		if len(fifo) > 0 {
			out[role] = len(fifo)
		}
	}
	return out
}

func (q *Queue) Clear() {
	clear(q.fifos)
}
