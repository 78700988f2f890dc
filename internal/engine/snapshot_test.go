package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := newSession(t, "tank:1", 1)
	enqueue(t, s, "a", RoleTank, "Reinhardt", at(0))

	snap := s.Snapshot()
	snap.Teams[0].Slots[0].Assignment.Character = "Sigma"
	snap.Formation.Roles[0].Count = 5

	assert.Equal(t, Character("Reinhardt"), assignedTo(t, s, "a").Character)
	assert.Equal(t, 1, s.Formation.Roles[0].Count)
}

func TestRestore_RoundTrip(t *testing.T) {
	s := newSession(t, "tank:1,dps:1", 2)
	enqueue(t, s, "a", RoleTank, "Reinhardt", at(0))
	enqueue(t, s, "b", RoleDPS, "Tracer", at(time.Second))
	enqueue(t, s, "c", RoleTank, "Sigma", at(2*time.Second))
	enqueue(t, s, "d", RoleTank, "Zarya", at(3*time.Second))
	apply(t, s, Command{Type: CmdLock, Actor: host, At: at(4 * time.Second)})
	warn(t, s, "a", at(5*time.Second))

	restored, err := Restore(s.Snapshot(), DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), restored.Snapshot())
	assert.Equal(t, 1, restored.WarningCount("a"))
	assert.Empty(t, ofType(Resume(restored, at(time.Minute)), IntentAssignPlayer))
}

func TestRestore_PendingGoesBackToFront(t *testing.T) {
	rules := DefaultRules()
	rules.Catalog = testCatalog()
	s, err := NewSession("s1", host, "", "", mustFormation(t, "tank:1", 1), rules, t0)
	require.NoError(t, err)
	enqueue(t, s, "a", RoleTank, "", at(0))
	enqueue(t, s, "b", RoleTank, "Sigma", at(time.Second))
	require.Contains(t, s.Pending, PlayerID("a"))

	restored, err := Restore(s.Snapshot(), rules)
	require.NoError(t, err)
	assert.Empty(t, restored.Pending)
	assert.True(t, restored.Teams[0].Slots[0].Empty())
	entries := restored.Queue.Entries(RoleTank)
	require.Len(t, entries, 2)
	assert.Equal(t, PlayerID("a"), entries[0].Player)

	res := Resume(restored, at(time.Minute))
	requests := ofType(res, IntentRequestCharacter)
	require.Len(t, requests, 1)
	assert.Equal(t, PlayerID("a"), requests[0].Player)
}

func TestRestore_RejectsMismatchedTeams(t *testing.T) {
	s := newSession(t, "tank:1", 2)
	snap := s.Snapshot()
	snap.Teams = snap.Teams[:1]

	_, err := Restore(snap, DefaultRules())
	require.Error(t, err)
}
