package engine

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MissingRoles totals, across all teams, the slots that are still open after
// counting players already waiting in that role's FIFO. Flex waiters are not
// counted against any role.
func (s *Session) MissingRoles() []RoleCount {
	var out []RoleCount
	for _, rc := range s.Formation.Roles {
		needed := rc.Count * len(s.Teams)
		filled := 0
		for _, t := range s.Teams {
			for _, sl := range t.Slots {
				if sl.Role == rc.Role && !sl.Empty() {
					filled++
				}
			}
		}
		if short := needed - filled - s.Queue.Len(rc.Role); short > 0 {
			out = append(out, RoleCount{Role: rc.Role, Count: short})
		}
	}
	return out
}

// SummarizeRoles renders counts as "1 Tank, 2 Support".
func SummarizeRoles(roles []RoleCount) string {
	caser := cases.Title(language.English)
	parts := make([]string, 0, len(roles))
	for _, rc := range roles {
		parts = append(parts, fmt.Sprintf("%d %s", rc.Count, caser.String(string(rc.Role))))
	}
	return strings.Join(parts, ", ")
}

// announce posts missing roles at most once per AnnounceInterval, and a single
// "teams full" notice each time every team becomes staffed.
func (s *Session) announce(at time.Time) []Intent {
	if s.Phase == PhaseEnded {
		return nil
	}

	if len(s.StaffedTeams()) == len(s.Teams) {
		if s.teamsFullAnnounced {
			return nil
		}
		s.teamsFullAnnounced = true
		in := s.intent(IntentPostAnnouncement, at)
		in.Announcement = AnnounceTeamsFull
		in.Player = s.Host
		seats := len(s.Teams) * s.Formation.SlotsPerTeam()
		in.Summary = fmt.Sprintf("Teams full (%d/%d players)", seats, seats)
		return []Intent{in}
	}
	s.teamsFullAnnounced = false

	missing := s.MissingRoles()
	if len(missing) == 0 {
		return nil
	}
	if !s.lastAnnounced.IsZero() && at.Sub(s.lastAnnounced) < s.Rules.AnnounceInterval {
		return nil
	}
	s.lastAnnounced = at

	in := s.intent(IntentPostAnnouncement, at)
	in.Announcement = AnnounceMissingRoles
	in.Summary = SummarizeRoles(missing)
	return []Intent{in}
}
