package store

import (
	"slices"
	"sort"
	"time"

	"github.com/DoyleJ11/lordfarm/internal/engine"
)

// Player is a linked profile: which roles a player is willing to fill and
// which characters they usually bring.
type Player struct {
	ID          engine.PlayerID                    `json:"id"`
	DisplayName string                             `json:"display_name"`
	Roles       []engine.Role                      `json:"roles"`
	Characters  map[engine.Role][]engine.Character `json:"characters,omitempty"`
	WarnsTotal  int                                `json:"warns_total"`
	CreatedAt   time.Time                          `json:"created_at"`
	UpdatedAt   time.Time                          `json:"updated_at"`
}

// Enabled reports whether the player may queue for role. Flex is always open,
// and a profile without roles has every role enabled.
func (p Player) Enabled(role engine.Role) bool {
	if role == engine.RoleFlex || len(p.Roles) == 0 {
		return true
	}
	return slices.Contains(p.Roles, role)
}

type playerRow struct {
	ID          string                             `gorm:"primaryKey"`
	DisplayName string                             `gorm:"not null"`
	Roles       []engine.Role                      `gorm:"serializer:json"`
	Characters  map[engine.Role][]engine.Character `gorm:"serializer:json"`
	WarnsTotal  int                                `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (playerRow) TableName() string { return "players" }

type sessionRow struct {
	ID           string `gorm:"primaryKey"`
	HostID       string `gorm:"not null"`
	Name         string
	Channel      string
	Phase        string           `gorm:"not null"`
	Locked       bool             `gorm:"not null"`
	Formation    engine.Formation `gorm:"serializer:json"`
	TeamChannels []string         `gorm:"serializer:json"`
	CreatedAt    time.Time
	LastActivity time.Time
	EndedAt      *time.Time
	UpdatedAt    time.Time
}

func (sessionRow) TableName() string { return "sessions" }

type assignmentRow struct {
	SessionID  string `gorm:"primaryKey"`
	Team       int    `gorm:"primaryKey;autoIncrement:false"`
	Slot       int    `gorm:"primaryKey;autoIncrement:false"`
	PlayerID   string `gorm:"not null"`
	Role       string `gorm:"not null"`
	Character  string
	Requested  string
	EnqueuedAt time.Time
	AssignedAt time.Time
}

func (assignmentRow) TableName() string { return "assignments" }

type queueRow struct {
	SessionID  string `gorm:"primaryKey"`
	PlayerID   string `gorm:"primaryKey"`
	Role       string `gorm:"not null"`
	Character  string
	Position   int `gorm:"not null"`
	EnqueuedAt time.Time
}

func (queueRow) TableName() string { return "queue_entries" }

type warningRow struct {
	ID        uint64 `gorm:"primaryKey"`
	SessionID string `gorm:"not null"`
	PlayerID  string `gorm:"not null"`
	Reason    string
	Issuer    string
	CreatedAt time.Time
}

func (warningRow) TableName() string { return "warnings" }

func toPlayerRow(p Player) playerRow {
	// The json columns are NOT NULL; gorm writes nil as NULL.
	if p.Roles == nil {
		p.Roles = []engine.Role{}
	}
	if p.Characters == nil {
		p.Characters = map[engine.Role][]engine.Character{}
	}
	return playerRow{
		ID:          string(p.ID),
		DisplayName: p.DisplayName,
		Roles:       p.Roles,
		Characters:  p.Characters,
		WarnsTotal:  p.WarnsTotal,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (r playerRow) player() Player {
	return Player{
		ID:          engine.PlayerID(r.ID),
		DisplayName: r.DisplayName,
		Roles:       r.Roles,
		Characters:  r.Characters,
		WarnsTotal:  r.WarnsTotal,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// toRows flattens a snapshot. Players still choosing a character are stored as
// queue entries ahead of everyone else in their FIFO; that is where a restore
// puts them anyway.
func toRows(snap engine.Snapshot) (sessionRow, []assignmentRow, []queueRow) {
	sess := sessionRow{
		ID:           string(snap.ID),
		HostID:       string(snap.Host),
		Name:         snap.Name,
		Channel:      snap.Channel,
		Phase:        string(snap.Phase),
		Locked:       snap.Locked,
		Formation:    snap.Formation,
		CreatedAt:    snap.CreatedAt,
		LastActivity: snap.LastActivity,
	}
	if snap.Phase == engine.PhaseEnded {
		ended := snap.LastActivity
		sess.EndedAt = &ended
	}

	var assigns []assignmentRow
	for _, t := range snap.Teams {
		sess.TeamChannels = append(sess.TeamChannels, t.Channel)
		for si, sl := range t.Slots {
			if sl.Assignment == nil {
				continue
			}
			a := sl.Assignment
			assigns = append(assigns, assignmentRow{
				SessionID:  string(snap.ID),
				Team:       t.Index,
				Slot:       si,
				PlayerID:   string(a.Player),
				Role:       string(sl.Role),
				Character:  string(a.Character),
				Requested:  string(a.Requested),
				EnqueuedAt: a.EnqueuedAt,
				AssignedAt: a.AssignedAt,
			})
		}
	}

	pending := slices.Clone(snap.Pending)
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Entry.EnqueuedAt.Before(pending[j].Entry.EnqueuedAt)
	})
	entries := make([]engine.QueueEntry, 0, len(pending)+len(snap.Queue))
	for _, pd := range pending {
		entries = append(entries, pd.Entry)
	}
	entries = append(entries, snap.Queue...)

	queue := make([]queueRow, 0, len(entries))
	for i, e := range entries {
		queue = append(queue, queueRow{
			SessionID:  string(snap.ID),
			PlayerID:   string(e.Player),
			Role:       string(e.Role),
			Character:  string(e.Character),
			Position:   i,
			EnqueuedAt: e.EnqueuedAt,
		})
	}
	return sess, assigns, queue
}

// fromRows rebuilds a snapshot. Rows must be ordered: queue by position,
// warnings by creation.
func fromRows(sess sessionRow, assigns []assignmentRow, queue []queueRow, warns []warningRow) engine.Snapshot {
	snap := engine.Snapshot{
		ID:           engine.SessionID(sess.ID),
		Host:         engine.PlayerID(sess.HostID),
		Name:         sess.Name,
		Channel:      sess.Channel,
		Phase:        engine.Phase(sess.Phase),
		Locked:       sess.Locked,
		Formation:    sess.Formation,
		Teams:        sess.Formation.BuildTeams(sess.TeamChannels, sess.Channel),
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
	}

	for _, a := range assigns {
		if a.Team < 0 || a.Team >= len(snap.Teams) || a.Slot < 0 || a.Slot >= len(snap.Teams[a.Team].Slots) {
			continue
		}
		snap.Teams[a.Team].Slots[a.Slot].Assignment = &engine.Assignment{
			Team:       a.Team,
			Slot:       a.Slot,
			Player:     engine.PlayerID(a.PlayerID),
			Character:  engine.Character(a.Character),
			Requested:  engine.Role(a.Requested),
			EnqueuedAt: a.EnqueuedAt,
			AssignedAt: a.AssignedAt,
		}
	}
	for _, q := range queue {
		snap.Queue = append(snap.Queue, engine.QueueEntry{
			Player:     engine.PlayerID(q.PlayerID),
			Role:       engine.Role(q.Role),
			Character:  engine.Character(q.Character),
			EnqueuedAt: q.EnqueuedAt,
		})
	}
	for _, w := range warns {
		snap.Warnings = append(snap.Warnings, engine.WarningRecord{
			Player:  engine.PlayerID(w.PlayerID),
			Session: engine.SessionID(w.SessionID),
			Reason:  w.Reason,
			Issuer:  w.Issuer,
			At:      w.CreatedAt,
		})
	}
	return snap
}
