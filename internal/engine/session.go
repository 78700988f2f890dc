package engine

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

type Assignment struct {
	Team      int       `json:"team"`
	Slot      int       `json:"slot"`
	Player    PlayerID  `json:"player_id"`
	Character Character `json:"character"`
	// Requested is the FIFO the player came from (a slot role or flex).
	Requested  Role      `json:"requested"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Slot holds at most one Assignment. Reserved marks a slot held for a player
// who is still choosing a character.
type Slot struct {
	Role       Role        `json:"role"`
	Assignment *Assignment `json:"assignment,omitempty"`
	Reserved   PlayerID    `json:"reserved,omitempty"`
}

func (s Slot) Empty() bool { return s.Assignment == nil && s.Reserved == "" }

type Team struct {
	Index   int    `json:"index"`
	Channel string `json:"channel,omitempty"`
	Slots   []Slot `json:"slots"`
}

// Staffed reports whether every slot holds an Assignment.
func (t Team) Staffed() bool {
	for _, slot := range t.Slots {
		if slot.Assignment == nil {
			return false
		}
	}
	return true
}

func (t Team) HasCharacter(ch Character) bool {
	for _, slot := range t.Slots {
		if slot.Assignment != nil && slot.Assignment.Character == ch {
			return true
		}
	}
	return false
}

func (t Team) Characters() []Character {
	var out []Character
	for _, slot := range t.Slots {
		if slot.Assignment != nil && slot.Assignment.Character != "" {
			out = append(out, slot.Assignment.Character)
		}
	}
	return out
}

// Missing returns the roles without an Assignment, in slot order.
func (t Team) Missing() []RoleCount {
	var out []RoleCount
	for _, slot := range t.Slots {
		if slot.Assignment != nil {
			continue
		}
		i := slices.IndexFunc(out, func(rc RoleCount) bool { return rc.Role == slot.Role })
		if i < 0 {
			out = append(out, RoleCount{Role: slot.Role, Count: 1})
			continue
		}
		out[i].Count++
	}
	return out
}

// Pending is a player parked outside every FIFO while they pick a character.
type Pending struct {
	Entry QueueEntry `json:"entry"`
	Team  int        `json:"team"`
	Slot  int        `json:"slot"`
	Since time.Time  `json:"since"`
}

type Session struct {
	ID        SessionID
	Host      PlayerID
	Name      string
	Channel   string
	Phase     Phase
	Locked    bool
	Formation Formation
	Teams     []Team
	Queue     *Queue
	Pending   map[PlayerID]Pending
	Presence  map[PlayerID]*Presence
	Warnings  []WarningRecord
	Rules     Rules

	CreatedAt    time.Time
	LastActivity time.Time

	// idleSince is when the session last became unoccupied; zero while occupied
	// or not yet observed.
	idleSince          time.Time
	lastAnnounced      time.Time
	teamsFullAnnounced bool
	conflictsNotified  map[string]bool
	timerGen           uint64
}

func NewSession(id SessionID, host PlayerID, name, channel string, formation Formation, rules Rules, at time.Time) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if err := formation.Validate(); err != nil {
		return nil, err
	}
	if rules.WarnThreshold <= 0 {
		rules.WarnThreshold = DefaultRules().WarnThreshold
	}
	if rules.GracePeriod <= 0 {
		rules.GracePeriod = DefaultRules().GracePeriod
	}

	return &Session{
		ID:                id,
		Host:              host,
		Name:              name,
		Channel:           channel,
		Phase:             PhaseForming,
		Formation:         formation,
		Teams:             formation.BuildTeams(nil, channel),
		Queue:             NewQueue(),
		Pending:           make(map[PlayerID]Pending),
		Presence:          make(map[PlayerID]*Presence),
		Rules:             rules,
		CreatedAt:         at,
		LastActivity:      at,
		idleSince:         at,
		conflictsNotified: make(map[string]bool),
	}, nil
}

// Locate finds the slot a player is assigned to.
func (s *Session) Locate(p PlayerID) (team, slot int, ok bool) {
	for ti, t := range s.Teams {
		for si, sl := range t.Slots {
			if sl.Assignment != nil && sl.Assignment.Player == p {
				return ti, si, true
			}
		}
	}
	return 0, 0, false
}

func (s *Session) Assignment(p PlayerID) (Assignment, bool) {
	ti, si, ok := s.Locate(p)
	if !ok {
		return Assignment{}, false
	}
	return *s.Teams[ti].Slots[si].Assignment, true
}

// Roster lists every player the session holds: queued, choosing, or assigned.
func (s *Session) Roster() []PlayerID {
	var out []PlayerID
	for _, e := range s.Queue.All() {
		out = append(out, e.Player)
	}
	for p := range s.Pending {
		out = append(out, p)
	}
	for _, t := range s.Teams {
		for _, sl := range t.Slots {
			if sl.Assignment != nil {
				out = append(out, sl.Assignment.Player)
			}
		}
	}
	slices.Sort(out)
	return out
}

func (s *Session) StaffedTeams() []int {
	var out []int
	for i, t := range s.Teams {
		if t.Staffed() {
			out = append(out, i)
		}
	}
	return out
}

func (s *Session) Status() string {
	if s.Locked && s.Phase != PhaseEnded {
		return string(s.Phase) + "/locked"
	}
	return string(s.Phase)
}

func (s *Session) setTeamChannel(actor PlayerID, team int, channel string) (Result, error) {
	if actor != s.Host {
		return Result{}, ErrNotHost
	}
	if team < 0 || team >= len(s.Teams) {
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownTeam, team)
	}
	s.Teams[team].Channel = channel
	return Result{}, nil
}

// setFormation replaces the formation while Forming. Everyone holding or reserving a
// slot goes back to the front of their original FIFO, oldest first, before a new pass.
func (s *Session) setFormation(actor PlayerID, f Formation, at time.Time) (Result, error) {
	if actor != s.Host {
		return Result{}, ErrNotHost
	}
	if s.Phase != PhaseForming {
		return Result{}, ErrFormationFrozen
	}
	if err := f.Validate(); err != nil {
		return Result{}, err
	}

	var (
		res      Result
		requeue  []QueueEntry
		channels = make([]string, len(s.Teams))
	)
	for ti, t := range s.Teams {
		channels[ti] = t.Channel
		for si, sl := range t.Slots {
			if sl.Assignment == nil {
				continue
			}
			a := sl.Assignment
			requeue = append(requeue, QueueEntry{
				Player:     a.Player,
				Role:       a.Requested,
				Character:  a.Character,
				EnqueuedAt: a.EnqueuedAt,
			})
			in := s.intent(IntentUnassignPlayer, at)
			in.Player = a.Player
			in.Team, in.Slot = ti, si
			in.Role = sl.Role
			in.Reason = "formation changed"
			res.add(in)
		}
	}
	for _, pd := range s.Pending {
		requeue = append(requeue, pd.Entry)
	}

	// Push newest first so the oldest ends up at the very front.
	sort.SliceStable(requeue, func(i, j int) bool {
		return requeue[i].EnqueuedAt.After(requeue[j].EnqueuedAt)
	})
	for _, e := range requeue {
		s.Queue.PushFront(e)
	}

	s.Formation = f
	s.Teams = f.BuildTeams(channels, s.Channel)
	s.Pending = make(map[PlayerID]Pending)
	s.teamsFullAnnounced = false

	res.add(s.attemptAssignment(at)...)
	return res, nil
}
