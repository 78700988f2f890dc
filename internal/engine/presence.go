package engine

import (
	"slices"
	"time"
)

const reasonLeftTeamChannel = "left team voice channel"

// Presence is the live voice state of an assigned player. It is rebuilt from
// voice events and never persisted.
type Presence struct {
	Channel        string    `json:"channel,omitempty"`
	LastSeenInTeam time.Time `json:"last_seen_in_team,omitempty"`
	DepartedAt     time.Time `json:"departed_at,omitempty"`
	Pending        bool      `json:"pending"`
	Gen            uint64    `json:"gen"`
}

func (s *Session) presence(p PlayerID) *Presence {
	pr, ok := s.Presence[p]
	if !ok {
		pr = &Presence{}
		s.Presence[p] = pr
	}
	return pr
}

// dropPresence forgets a player's voice state and disarms any grace timer.
func (s *Session) dropPresence(p PlayerID) []TimerOp {
	pr, ok := s.Presence[p]
	if !ok {
		return nil
	}
	delete(s.Presence, p)
	if pr.Pending {
		return []TimerOp{{Cancel: true, Player: p, Gen: pr.Gen}}
	}
	return nil
}

func (s *Session) voiceLeft(p PlayerID, at time.Time) (Result, error) {
	ti, _, ok := s.Locate(p)
	if !ok {
		return Result{}, ErrNotAssigned
	}
	if s.Phase != PhaseActive {
		return Result{}, nil
	}

	pr := s.presence(p)
	if pr.Channel == s.Teams[ti].Channel {
		pr.Channel = ""
	}
	if pr.Pending {
		return Result{}, nil
	}

	s.timerGen++
	pr.Pending = true
	pr.Gen = s.timerGen
	pr.DepartedAt = at

	in := s.intent(IntentGraceStarted, at)
	in.Player = p
	in.Team = ti
	in.Channel = s.Teams[ti].Channel
	in.Deadline = at.Add(s.Rules.GracePeriod)

	return Result{
		Intents: []Intent{in},
		Timers:  []TimerOp{{Player: p, Gen: pr.Gen, Delay: s.Rules.GracePeriod}},
	}, nil
}

func (s *Session) voiceRejoined(p PlayerID, at time.Time) (Result, error) {
	ti, _, ok := s.Locate(p)
	if !ok {
		return Result{}, ErrNotAssigned
	}
	if s.Phase != PhaseActive {
		return Result{}, nil
	}

	pr := s.presence(p)
	pr.Channel = s.Teams[ti].Channel
	pr.LastSeenInTeam = at
	if !pr.Pending {
		return Result{}, nil
	}

	pr.Pending = false
	pr.DepartedAt = time.Time{}

	in := s.intent(IntentGraceCleared, at)
	in.Player = p
	in.Team = ti
	return Result{
		Intents: []Intent{in},
		Timers:  []TimerOp{{Cancel: true, Player: p, Gen: pr.Gen}},
	}, nil
}

// voiceMoved classifies a raw channel change against the player's team channel.
func (s *Session) voiceMoved(p PlayerID, channel string, at time.Time) (Result, error) {
	ti, _, ok := s.Locate(p)
	if !ok {
		return Result{}, ErrNotAssigned
	}
	team := s.Teams[ti].Channel
	if team == "" {
		return Result{}, nil
	}
	if channel == team {
		return s.voiceRejoined(p, at)
	}
	res, err := s.voiceLeft(p, at)
	if err == nil && s.Phase == PhaseActive {
		s.presence(p).Channel = channel
	}
	return res, err
}

// graceExpired re-checks everything the timer assumed when it was armed. Any
// mismatch means the timer is stale and nothing happens.
func (s *Session) graceExpired(p PlayerID, gen uint64, at time.Time) Result {
	if s.Phase != PhaseActive {
		return Result{Stale: true}
	}
	pr, ok := s.Presence[p]
	if !ok || !pr.Pending || pr.Gen != gen {
		return Result{Stale: true}
	}
	ti, _, ok := s.Locate(p)
	if !ok {
		return Result{Stale: true}
	}
	if team := s.Teams[ti].Channel; team != "" && pr.Channel == team {
		return Result{Stale: true}
	}

	pr.Pending = false
	pr.DepartedAt = time.Time{}
	return s.recordWarning(p, reasonLeftTeamChannel, IssuerSystem, at)
}

// present is false only for a player known to be out of their team channel.
func (s *Session) present(p PlayerID, teamChannel string) bool {
	pr, ok := s.Presence[p]
	if !ok {
		return true
	}
	if pr.Pending {
		return false
	}
	return teamChannel == "" || pr.Channel == teamChannel
}

func sortedPresence(m map[PlayerID]*Presence) []PlayerID {
	out := make([]PlayerID, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
