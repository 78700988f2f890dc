// Package types is the JSON wire format shared by the HTTP and websocket
// boundaries.
//
// Client -> server events (ClientMessage.Type):
//
//	hostSetFormation       actor, formation, teams
//	hostSetTeamChannel     actor, team, channel
//	hostLock / hostUnlock  actor
//	hostStart / hostEnd    actor, reason (end only)
//	playerEnqueue          player_id, role, character (optional)
//	playerDequeue          player_id
//	characterSelected      player_id, character
//	characterSelectionAbandoned  player_id
//	voiceLeftTeamChannel / voiceRejoinedTeamChannel  player_id
//	voiceMoved             player_id, channel ("" = disconnected)
//	manualWarn             actor, player_id, reason
//	manualUnassign         actor, player_id
//
// Server -> client messages (ServerMessage.Type): Intents carries the intents
// produced by one accepted event plus the resulting snapshot; Error reports a
// rejected event to its sender only.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/lordfarm/internal/engine"
)

var ErrUnknownType = errors.New("unknown message type")

type ClientMessage struct {
	Type      string `json:"type"`
	Actor     string `json:"actor,omitempty"`
	Player    string `json:"player_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Character string `json:"character,omitempty"`
	Formation string `json:"formation,omitempty"` // preset name or "tank:2,dps:2"
	Teams     int    `json:"teams,omitempty"`
	Team      int    `json:"team,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type ServerMessage struct {
	Type    string           `json:"type"` // "Intents" | "Error"
	Version int              `json:"version,omitempty"`
	Intents []engine.Intent  `json:"intents,omitempty"`
	State   *engine.Snapshot `json:"state,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// CreateSession is the body of a hostCreateSession request.
type CreateSession struct {
	Host      string `json:"host"`
	Name      string `json:"name"`
	Channel   string `json:"channel,omitempty"`
	Formation string `json:"formation"`
	Teams     int    `json:"teams,omitempty"`
}

// FormationResolver turns a preset name or formation text into a Formation.
type FormationResolver func(spec string, teams int) (engine.Formation, error)

// ToCommand maps a wire event to an engine command stamped with at.
func ToCommand(m ClientMessage, resolve FormationResolver, at time.Time) (engine.Command, error) {
	cmd := engine.Command{
		Actor:     engine.PlayerID(m.Actor),
		Player:    engine.PlayerID(m.Player),
		Character: engine.Character(m.Character),
		Team:      m.Team,
		Channel:   m.Channel,
		Reason:    m.Reason,
		At:        at,
	}

	switch m.Type {
	case "hostSetFormation":
		teams := m.Teams
		if teams == 0 {
			teams = 1
		}
		f, err := resolve(m.Formation, teams)
		if err != nil {
			return engine.Command{}, err
		}
		cmd.Type, cmd.Formation = engine.CmdSetFormation, f
	case "hostSetTeamChannel":
		cmd.Type = engine.CmdSetTeamChannel
	case "hostLock":
		cmd.Type = engine.CmdLock
	case "hostUnlock":
		cmd.Type = engine.CmdUnlock
	case "hostStart":
		cmd.Type = engine.CmdStart
	case "hostEnd":
		cmd.Type = engine.CmdEnd
	case "playerEnqueue":
		role, err := engine.ParseRole(m.Role)
		if err != nil {
			return engine.Command{}, err
		}
		cmd.Type, cmd.Role = engine.CmdEnqueue, role
	case "playerDequeue":
		cmd.Type = engine.CmdDequeue
	case "characterSelected":
		cmd.Type = engine.CmdSelectCharacter
	case "characterSelectionAbandoned":
		cmd.Type = engine.CmdAbandonSelection
	case "voiceLeftTeamChannel":
		cmd.Type = engine.CmdVoiceLeft
	case "voiceRejoinedTeamChannel":
		cmd.Type = engine.CmdVoiceRejoined
	case "voiceMoved":
		cmd.Type = engine.CmdVoiceMoved
	case "manualWarn":
		cmd.Type = engine.CmdWarn
	case "manualUnassign":
		cmd.Type = engine.CmdUnassign
	default:
		return engine.Command{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}

	if cmd.Player == "" && needsPlayer(cmd.Type) {
		return engine.Command{}, fmt.Errorf("%s: player_id is required", m.Type)
	}
	return cmd, nil
}

func needsPlayer(t engine.CommandType) bool {
	switch t {
	case engine.CmdSetFormation, engine.CmdSetTeamChannel, engine.CmdLock, engine.CmdUnlock, engine.CmdStart, engine.CmdEnd:
		return false
	}
	return true
}
