package membership

import (
	"errors"
	"sync"

	"github.com/DoyleJ11/lordfarm/internal/engine"
)

var ErrInOtherSession = errors.New("player already belongs to another session")

// Index maps each player to the one session whose roster holds them. Lobbies
// touch it only through these methods; the lock is held for single map
// operations and never across engine work.
type Index struct {
	mutex    sync.RWMutex
	players  map[engine.PlayerID]engine.SessionID
	sessions map[engine.SessionID]map[engine.PlayerID]struct{}
}

func New() *Index {
	return &Index{
		players:  make(map[engine.PlayerID]engine.SessionID),
		sessions: make(map[engine.SessionID]map[engine.PlayerID]struct{}),
	}
}

// set and unset keep players and sessions in step. Callers hold the write lock.
func (x *Index) set(p engine.PlayerID, id engine.SessionID) {
	x.players[p] = id
	members, ok := x.sessions[id]
	if !ok {
		members = make(map[engine.PlayerID]struct{})
		x.sessions[id] = members
	}
	members[p] = struct{}{}
}

func (x *Index) unset(p engine.PlayerID, id engine.SessionID) {
	delete(x.players, p)
	members := x.sessions[id]
	delete(members, p)
	if len(members) == 0 {
		delete(x.sessions, id)
	}
}

// Claim records p as a member of id. Claiming again for the same session is a no-op.
func (x *Index) Claim(p engine.PlayerID, id engine.SessionID) error {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	if owner, ok := x.players[p]; ok && owner != id {
		return ErrInOtherSession
	}
	x.set(p, id)
	return nil
}

// Release forgets p, but only if id still owns the claim.
func (x *Index) Release(p engine.PlayerID, id engine.SessionID) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	if owner, ok := x.players[p]; ok && owner == id {
		x.unset(p, id)
	}
}

func (x *Index) Lookup(p engine.PlayerID) (engine.SessionID, bool) {
	x.mutex.RLock()
	defer x.mutex.RUnlock()

	id, ok := x.players[p]
	return id, ok
}

// Sync makes the index agree with a session's roster: members that left are
// released, new members are claimed. Players already owned by another session
// are returned and left alone. Only id's own members are visited.
func (x *Index) Sync(id engine.SessionID, roster []engine.PlayerID) []engine.PlayerID {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	keep := make(map[engine.PlayerID]bool, len(roster))
	for _, p := range roster {
		keep[p] = true
	}
	for p := range x.sessions[id] {
		if !keep[p] {
			x.unset(p, id)
		}
	}

	var clashes []engine.PlayerID
	for _, p := range roster {
		if owner, ok := x.players[p]; ok && owner != id {
			clashes = append(clashes, p)
			continue
		}
		x.set(p, id)
	}
	return clashes
}

// ReleaseSession drops every claim held by id and reports how many there were.
func (x *Index) ReleaseSession(id engine.SessionID) int {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	members := x.sessions[id]
	for p := range members {
		delete(x.players, p)
	}
	delete(x.sessions, id)
	return len(members)
}

func (x *Index) Len() int {
	x.mutex.RLock()
	defer x.mutex.RUnlock()
	return len(x.players)
}
