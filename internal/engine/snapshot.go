package engine

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// Snapshot is a deep copy of a session, safe to hand to other goroutines.
type Snapshot struct {
	ID           SessionID       `json:"id"`
	Host         PlayerID        `json:"host"`
	Name         string          `json:"name"`
	Channel      string          `json:"channel,omitempty"`
	Phase        Phase           `json:"phase"`
	Locked       bool            `json:"locked"`
	Formation    Formation       `json:"formation"`
	Teams        []Team          `json:"teams"`
	Queue        []QueueEntry    `json:"queue"`
	Pending      []Pending       `json:"pending,omitempty"`
	Warnings     []WarningRecord `json:"warnings,omitempty"`
	Missing      []RoleCount     `json:"missing,omitempty"`
	Staffed      []int           `json:"staffed,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActivity time.Time       `json:"last_activity"`
}

func (s *Session) Snapshot() Snapshot {
	pending := make([]Pending, 0, len(s.Pending))
	for _, pd := range s.Pending {
		pending = append(pending, pd)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Entry.Player < pending[j].Entry.Player })

	return Snapshot{
		ID:           s.ID,
		Host:         s.Host,
		Name:         s.Name,
		Channel:      s.Channel,
		Phase:        s.Phase,
		Locked:       s.Locked,
		Formation:    Formation{Roles: slices.Clone(s.Formation.Roles), TeamCount: s.Formation.TeamCount},
		Teams:        cloneTeams(s.Teams),
		Queue:        s.Queue.All(),
		Pending:      pending,
		Warnings:     slices.Clone(s.Warnings),
		Missing:      s.MissingRoles(),
		Staffed:      s.StaffedTeams(),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
	}
}

// Restore rebuilds a session from a persisted snapshot. Voice presence starts
// empty and the idle clock restarts at the first check. Players who were choosing a character go back to the front of their
// FIFO; Resume will ask them again.
func Restore(snap Snapshot, rules Rules) (*Session, error) {
	s, err := NewSession(snap.ID, snap.Host, snap.Name, snap.Channel, snap.Formation, rules, snap.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", snap.ID, err)
	}
	s.Phase = snap.Phase
	s.Locked = snap.Locked
	s.LastActivity = snap.LastActivity
	// Downtime does not count towards idleness.
	s.idleSince = time.Time{}
	s.Warnings = slices.Clone(snap.Warnings)

	if len(snap.Teams) > 0 {
		if len(snap.Teams) != snap.Formation.TeamCount {
			return nil, fmt.Errorf("restore %s: %d teams for formation %s", snap.ID, len(snap.Teams), snap.Formation)
		}
		for ti, t := range snap.Teams {
			if len(t.Slots) != snap.Formation.SlotsPerTeam() {
				return nil, fmt.Errorf("restore %s: team %d has %d slots", snap.ID, ti, len(t.Slots))
			}
		}
		s.Teams = cloneTeams(snap.Teams)
		for ti := range s.Teams {
			s.Teams[ti].Index = ti
			for si := range s.Teams[ti].Slots {
				s.Teams[ti].Slots[si].Reserved = ""
			}
		}
	}

	for _, e := range snap.Queue {
		s.Queue.PushBack(e)
	}
	pending := slices.Clone(snap.Pending)
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Entry.EnqueuedAt.After(pending[j].Entry.EnqueuedAt)
	})
	for _, pd := range pending {
		s.Queue.PushFront(pd.Entry)
	}
	return s, nil
}

func cloneTeams(teams []Team) []Team {
	out := make([]Team, len(teams))
	for i, t := range teams {
		slots := make([]Slot, len(t.Slots))
		for j, sl := range t.Slots {
			slots[j] = sl
			if sl.Assignment != nil {
				a := *sl.Assignment
				slots[j].Assignment = &a
			}
		}
		out[i] = Team{Index: t.Index, Channel: t.Channel, Slots: slots}
	}
	return out
}
