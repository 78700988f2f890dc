package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/DoyleJ11/lordfarm/internal/engine"
)

var t0 = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

func sampleSession(t *testing.T) *engine.Session {
	t.Helper()
	f, err := engine.ParseFormation("tank:1,dps:1", 2)
	require.NoError(t, err)
	rules := engine.DefaultRules()
	rules.Catalog = engine.Catalog{
		engine.RoleTank: {"Reinhardt", "Sigma"},
		engine.RoleDPS:  {"Tracer", "Genji"},
	}
	s, err := engine.NewSession("abc12345", "host", "friday", "vc-lobby", f, rules, t0)
	require.NoError(t, err)

	steps := []engine.Command{
		{Type: engine.CmdSetTeamChannel, Actor: "host", Team: 1, Channel: "vc-team-2"},
		{Type: engine.CmdEnqueue, Player: "a", Role: engine.RoleTank, Character: "Reinhardt"},
		{Type: engine.CmdEnqueue, Player: "b", Role: engine.RoleDPS, Character: "Tracer"},
		{Type: engine.CmdEnqueue, Player: "c", Role: engine.RoleTank, Character: ""},
		{Type: engine.CmdEnqueue, Player: "d", Role: engine.RoleDPS, Character: "Genji"},
		{Type: engine.CmdEnqueue, Player: "e", Role: engine.RoleDPS, Character: "Tracer"},
		{Type: engine.CmdLock, Actor: "host"},
		{Type: engine.CmdWarn, Actor: "host", Player: "b", Reason: "toxic"},
	}
	for i, cmd := range steps {
		cmd.At = t0.Add(time.Duration(i) * time.Second)
		_, err := engine.Apply(s, cmd)
		require.NoError(t, err, "step %d", i)
	}
	require.Contains(t, s.Pending, engine.PlayerID("c"))
	return s
}

func warningRows(snap engine.Snapshot) []warningRow {
	var out []warningRow
	for _, w := range snap.Warnings {
		out = append(out, warningRow{SessionID: string(w.Session), PlayerID: string(w.Player), Reason: w.Reason, Issuer: w.Issuer, CreatedAt: w.At})
	}
	return out
}

func TestRows_RoundTripRestoresSession(t *testing.T) {
	s := sampleSession(t)
	snap := s.Snapshot()

	sess, assigns, queue := toRows(snap)
	assert.Equal(t, []string{"vc-lobby", "vc-team-2"}, sess.TeamChannels)
	assert.Nil(t, sess.EndedAt)
	require.Len(t, assigns, 3)
	require.Len(t, queue, 2)
	assert.Equal(t, "c", queue[0].PlayerID, "pending player is stored first")
	assert.Equal(t, 0, queue[0].Position)

	back := fromRows(sess, assigns, queue, warningRows(snap))
	restored, err := engine.Restore(back, s.Rules)
	require.NoError(t, err)

	for _, p := range []engine.PlayerID{"a", "b", "d"} {
		want, ok := s.Assignment(p)
		require.True(t, ok)
		got, ok := restored.Assignment(p)
		require.True(t, ok, "%s should still be assigned", p)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, "vc-team-2", restored.Teams[1].Channel)
	assert.True(t, restored.Locked)
	assert.Equal(t, 1, restored.WarningCount("b"))
	assert.Empty(t, restored.Pending)

	tanks := restored.Queue.Entries(engine.RoleTank)
	require.Len(t, tanks, 1)
	assert.Equal(t, engine.PlayerID("c"), tanks[0].Player)
	assert.Equal(t, engine.PlayerID("e"), restored.Queue.Entries(engine.RoleDPS)[0].Player)

	res := engine.Resume(restored, t0.Add(time.Minute))
	var asked []engine.PlayerID
	for _, in := range res.Intents {
		if in.Type == engine.IntentRequestCharacter {
			asked = append(asked, in.Player)
		}
	}
	assert.Equal(t, []engine.PlayerID{"c"}, asked)
}

func TestRows_EndedSessionGetsEndTime(t *testing.T) {
	s := sampleSession(t)
	_, err := engine.Apply(s, engine.Command{Type: engine.CmdEnd, Actor: "host", At: t0.Add(time.Hour)})
	require.NoError(t, err)

	sess, assigns, queue := toRows(s.Snapshot())
	require.NotNil(t, sess.EndedAt)
	assert.Equal(t, t0.Add(time.Hour), *sess.EndedAt)
	assert.Empty(t, assigns)
	assert.Empty(t, queue)
}

func TestPlayer_Enabled(t *testing.T) {
	open := Player{ID: "p"}
	assert.True(t, open.Enabled(engine.RoleTank))

	healer := Player{ID: "p", Roles: []engine.Role{engine.RoleSupport}}
	assert.True(t, healer.Enabled(engine.RoleSupport))
	assert.True(t, healer.Enabled(engine.RoleFlex))
	assert.False(t, healer.Enabled(engine.RoleDPS))
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(gorm.ErrRecordNotFound), ErrPlayerNotFound)
	assert.ErrorIs(t, classify(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", Detail: "Key exists"})), ErrNameTaken)

	other := errors.New("boom")
	assert.Equal(t, other, classify(other))
}
