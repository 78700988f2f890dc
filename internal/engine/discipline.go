package engine

import (
	"fmt"
	"time"
)

const IssuerSystem = "system"

type WarningRecord struct {
	Player  PlayerID  `json:"player_id"`
	Session SessionID `json:"session_id"`
	Reason  string    `json:"reason"`
	Issuer  string    `json:"issuer"`
	At      time.Time `json:"at"`
}

func (s *Session) WarningCount(p PlayerID) int {
	n := 0
	for _, w := range s.Warnings {
		if w.Player == p {
			n++
		}
	}
	return n
}

// recordWarning appends unconditionally. Manual and grace-period warnings share
// one per-session counter.
func (s *Session) recordWarning(p PlayerID, reason, issuer string, at time.Time) Result {
	s.Warnings = append(s.Warnings, WarningRecord{
		Player:  p,
		Session: s.ID,
		Reason:  reason,
		Issuer:  issuer,
		At:      at,
	})
	count := s.WarningCount(p)

	var res Result
	in := s.intent(IntentIssueWarning, at)
	in.Player = p
	in.Reason = reason
	in.Issuer = issuer
	in.Warnings = count
	res.add(in)

	if count >= s.Rules.WarnThreshold {
		removal := s.removePlayer(p, count, at)
		res.add(removal.Intents...)
		res.Timers = append(res.Timers, removal.Timers...)
	}
	return res
}

// removePlayer takes a player out of the session after too many warnings. They
// may enqueue again later, at the back like anyone else.
func (s *Session) removePlayer(p PlayerID, warnings int, at time.Time) Result {
	var res Result
	res.Timers = append(res.Timers, s.dropPresence(p)...)

	in := s.intent(IntentRemovePlayer, at)
	in.Player = p
	in.Warnings = warnings
	in.Reason = fmt.Sprintf("reached %d warnings", warnings)

	vacated := false
	if a, ok := s.vacate(p); ok {
		in.Team, in.Slot = a.Team, a.Slot
		in.Role = s.Teams[a.Team].Slots[a.Slot].Role
		vacated = true
	}
	if _, ok := s.release(p); ok {
		vacated = true
	}
	s.Queue.Remove(p)
	res.add(in)

	notice := s.intent(IntentPostAnnouncement, at)
	notice.Announcement = AnnouncePlayerRemoved
	notice.Player = p
	notice.Warnings = warnings
	notice.Summary = fmt.Sprintf("%s was removed from the session (%d/%d warnings)", p, warnings, s.Rules.WarnThreshold)
	res.add(notice)

	if vacated {
		res.add(s.attemptAssignment(at)...)
	}
	return res
}
