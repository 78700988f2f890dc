package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/lordfarm/internal/engine"
)

var now = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

func TestToCommand(t *testing.T) {
	cases := []struct {
		msg  ClientMessage
		want engine.Command
	}{
		{
			ClientMessage{Type: "playerEnqueue", Player: "p", Role: "healer", Character: "Mantis"},
			engine.Command{Type: engine.CmdEnqueue, Player: "p", Role: engine.RoleSupport, Character: "Mantis", At: now},
		},
		{
			ClientMessage{Type: "hostLock", Actor: "h"},
			engine.Command{Type: engine.CmdLock, Actor: "h", At: now},
		},
		{
			ClientMessage{Type: "manualWarn", Actor: "h", Player: "p", Reason: "afk"},
			engine.Command{Type: engine.CmdWarn, Actor: "h", Player: "p", Reason: "afk", At: now},
		},
		{
			ClientMessage{Type: "voiceMoved", Player: "p", Channel: "vc-2"},
			engine.Command{Type: engine.CmdVoiceMoved, Player: "p", Channel: "vc-2", At: now},
		},
		{
			ClientMessage{Type: "hostSetTeamChannel", Actor: "h", Team: 1, Channel: "vc-b"},
			engine.Command{Type: engine.CmdSetTeamChannel, Actor: "h", Team: 1, Channel: "vc-b", At: now},
		},
	}
	for _, tc := range cases {
		t.Run(tc.msg.Type, func(t *testing.T) {
			got, err := ToCommand(tc.msg, engine.ParseFormation, now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestToCommand_Formation(t *testing.T) {
	var gotTeams int
	resolve := func(spec string, teams int) (engine.Formation, error) {
		gotTeams = teams
		return engine.ParseFormation(spec, teams)
	}
	cmd, err := ToCommand(ClientMessage{Type: "hostSetFormation", Actor: "h", Formation: "tank:1,dps:2"}, resolve, now)
	require.NoError(t, err)
	assert.Equal(t, 1, gotTeams, "teams default to one")
	assert.Equal(t, 3, cmd.Formation.SlotsPerTeam())

	_, err = ToCommand(ClientMessage{Type: "hostSetFormation", Actor: "h", Formation: "tank"}, resolve, now)
	require.ErrorIs(t, err, engine.ErrInvalidFormation)
}

func TestToCommand_Rejects(t *testing.T) {
	_, err := ToCommand(ClientMessage{Type: "LockPick"}, engine.ParseFormation, now)
	require.ErrorIs(t, err, ErrUnknownType)

	_, err = ToCommand(ClientMessage{Type: "playerEnqueue", Player: "p", Role: "bard"}, engine.ParseFormation, now)
	require.ErrorIs(t, err, engine.ErrUnknownRole)

	_, err = ToCommand(ClientMessage{Type: "playerDequeue"}, engine.ParseFormation, now)
	require.Error(t, err)
}
