package engine

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid transition")
var ErrSessionLocked = fmt.Errorf("%w: session is locked", ErrInvalidTransition)
var ErrSessionEnded = fmt.Errorf("%w: session has ended", ErrInvalidTransition)
var ErrNoStaffedTeam = fmt.Errorf("%w: no team is fully staffed", ErrInvalidTransition)
var ErrFormationFrozen = fmt.Errorf("%w: formation can only change while forming", ErrInvalidTransition)
var ErrAlreadyActive = fmt.Errorf("%w: session already active", ErrInvalidTransition)
var ErrAlreadyLocked = fmt.Errorf("%w: session already locked", ErrInvalidTransition)
var ErrNotLocked = fmt.Errorf("%w: session is not locked", ErrInvalidTransition)

var ErrAlreadyQueued = errors.New("player already queued")
var ErrAlreadyAssigned = errors.New("player already assigned")
var ErrNotQueued = errors.New("player not queued")
var ErrNotAssigned = errors.New("player not assigned")
var ErrNotHost = errors.New("only the session host can do that")
var ErrInvalidFormation = errors.New("invalid formation")
var ErrUnknownRole = errors.New("unknown role")
var ErrUnknownTeam = errors.New("unknown team")
var ErrUnknownCharacter = errors.New("character not available for role")
var ErrUnsupportedCommand = errors.New("unsupported command")

type SessionID string
type PlayerID string
type Character string

type Phase string

const (
	PhaseForming Phase = "forming"
	PhaseActive  Phase = "active"
	PhaseEnded   Phase = "ended"
)

// Rules are the per-session discipline and announcement knobs.
type Rules struct {
	GracePeriod      time.Duration
	WarnThreshold    int
	AnnounceInterval time.Duration
	IdleTimeout      time.Duration
	Catalog          Catalog
}

func DefaultRules() Rules {
	return Rules{
		GracePeriod:      3 * time.Minute,
		WarnThreshold:    3,
		AnnounceInterval: 3 * time.Minute,
		IdleTimeout:      15 * time.Minute,
	}
}

type CommandType string

const (
	CmdSetFormation     CommandType = "SetFormation"
	CmdSetTeamChannel   CommandType = "SetTeamChannel"
	CmdLock             CommandType = "Lock"
	CmdUnlock           CommandType = "Unlock"
	CmdStart            CommandType = "Start"
	CmdEnd              CommandType = "End"
	CmdEnqueue          CommandType = "Enqueue"
	CmdDequeue          CommandType = "Dequeue"
	CmdSelectCharacter  CommandType = "SelectCharacter"
	CmdAbandonSelection CommandType = "AbandonSelection"
	CmdVoiceLeft        CommandType = "VoiceLeft"
	CmdVoiceRejoined    CommandType = "VoiceRejoined"
	CmdVoiceMoved       CommandType = "VoiceMoved"
	CmdWarn             CommandType = "Warn"
	CmdUnassign         CommandType = "Unassign"
	CmdGraceExpired     CommandType = "GraceExpired"
	CmdIdleCheck        CommandType = "IdleCheck"
)

/*
	CmdEnqueue         -> AssignPlayer + MoveVoice | RequestCharacter | CharacterConflict, PostAnnouncement
	CmdSelectCharacter -> AssignPlayer | CharacterConflict (player goes to the back of the FIFO)
	CmdVoiceLeft       -> GraceStarted + timer scheduled
	CmdVoiceRejoined   -> GraceCleared + timer cancelled
	CmdGraceExpired    -> IssueWarning [-> RemovePlayer -> PostAnnouncement -> AssignPlayer...] or nothing when stale
	CmdWarn            -> IssueWarning [-> RemovePlayer ...]
	CmdEnd             -> UnassignPlayer..., SessionStateChanged, every timer cancelled
*/

type Command struct {
	Type      CommandType
	Actor     PlayerID // issuer of host commands and manual warnings
	Player    PlayerID
	Role      Role
	Character Character
	Formation Formation
	Team      int
	Channel   string
	Reason    string
	Gen       uint64
	At        time.Time
}

type IntentType string

const (
	IntentAssignPlayer        IntentType = "AssignPlayer"
	IntentMoveVoice           IntentType = "MoveVoice"
	IntentPostAnnouncement    IntentType = "PostAnnouncement"
	IntentIssueWarning        IntentType = "IssueWarning"
	IntentRemovePlayer        IntentType = "RemovePlayer"
	IntentSessionStateChanged IntentType = "SessionStateChanged"
	IntentUnassignPlayer      IntentType = "UnassignPlayer"
	IntentRequestCharacter    IntentType = "RequestCharacter"
	IntentCharacterConflict   IntentType = "CharacterConflict"
	IntentGraceStarted        IntentType = "GraceStarted"
	IntentGraceCleared        IntentType = "GraceCleared"
)

type AnnouncementKind string

const (
	AnnounceMissingRoles  AnnouncementKind = "missing_roles"
	AnnounceTeamsFull     AnnouncementKind = "teams_full"
	AnnouncePlayerRemoved AnnouncementKind = "player_removed"
)

// Intent is an instruction for the outside world. The engine never performs I/O itself.
type Intent struct {
	Type         IntentType       `json:"type"`
	Session      SessionID        `json:"session_id"`
	Player       PlayerID         `json:"player_id,omitempty"`
	Team         int              `json:"team"`
	Slot         int              `json:"slot"`
	Role         Role             `json:"role,omitempty"`
	Character    Character        `json:"character,omitempty"`
	Characters   []Character      `json:"characters,omitempty"`
	Channel      string           `json:"channel,omitempty"`
	Announcement AnnouncementKind `json:"announcement,omitempty"`
	Summary      string           `json:"summary,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Issuer       string           `json:"issuer,omitempty"`
	Warnings     int              `json:"warnings,omitempty"`
	Phase        Phase            `json:"phase,omitempty"`
	Locked       bool             `json:"locked,omitempty"`
	Deadline     time.Time        `json:"deadline,omitempty"`
	At           time.Time        `json:"at"`
}

// TimerOp asks the owner of the session to arm or disarm a grace timer.
// Expired timers come back as CmdGraceExpired carrying the same Gen.
type TimerOp struct {
	Cancel bool
	Player PlayerID
	Gen    uint64
	Delay  time.Duration
}

type Result struct {
	Intents []Intent
	Timers  []TimerOp
	// Stale is set when a grace timer fired for a departure that no longer applies.
	Stale bool
}

func (r *Result) add(intents ...Intent) {
	r.Intents = append(r.Intents, intents...)
}

// Apply runs one command against the session. On error the session is left unchanged.
func Apply(s *Session, cmd Command) (Result, error) {
	now := cmd.At
	if now.IsZero() {
		now = time.Now()
	}

	if s.Phase == PhaseEnded {
		switch cmd.Type {
		case CmdGraceExpired:
			return Result{Stale: true}, nil
		case CmdIdleCheck:
			return Result{}, nil
		default:
			return Result{}, ErrSessionEnded
		}
	}

	var (
		res Result
		err error
	)

	switch cmd.Type {
	case CmdSetFormation:
		res, err = s.setFormation(cmd.Actor, cmd.Formation, now)
	case CmdSetTeamChannel:
		res, err = s.setTeamChannel(cmd.Actor, cmd.Team, cmd.Channel)
	case CmdLock:
		res, err = s.setLocked(cmd.Actor, true, now)
	case CmdUnlock:
		res, err = s.setLocked(cmd.Actor, false, now)
	case CmdStart:
		res, err = s.start(cmd.Actor, now)
	case CmdEnd:
		if cmd.Actor != s.Host {
			return Result{}, ErrNotHost
		}
		reason := cmd.Reason
		if reason == "" {
			reason = "ended by host"
		}
		res = s.end(reason, now)
	case CmdEnqueue:
		res, err = s.enqueue(cmd.Player, cmd.Role, cmd.Character, now)
	case CmdDequeue:
		res, err = s.dequeue(cmd.Player, now)
	case CmdSelectCharacter:
		res, err = s.selectCharacter(cmd.Player, cmd.Character, now)
	case CmdAbandonSelection:
		res, err = s.abandonSelection(cmd.Player, now)
	case CmdVoiceLeft:
		res, err = s.voiceLeft(cmd.Player, now)
	case CmdVoiceRejoined:
		res, err = s.voiceRejoined(cmd.Player, now)
	case CmdVoiceMoved:
		res, err = s.voiceMoved(cmd.Player, cmd.Channel, now)
	case CmdWarn:
		if cmd.Actor != s.Host {
			return Result{}, ErrNotHost
		}
		reason := cmd.Reason
		if reason == "" {
			reason = "warned by host"
		}
		res = s.recordWarning(cmd.Player, reason, string(cmd.Actor), now)
	case CmdUnassign:
		res, err = s.unassign(cmd.Actor, cmd.Player, now)
	case CmdGraceExpired:
		res = s.graceExpired(cmd.Player, cmd.Gen, now)
		s.trackIdle(now)
		return res, nil
	case CmdIdleCheck:
		return s.idleCheck(now), nil
	default:
		return Result{}, ErrUnsupportedCommand
	}
	if err != nil {
		return Result{}, err
	}

	s.LastActivity = now
	s.trackIdle(now)
	return res, nil
}

// Resume runs an assignment pass without an external trigger, e.g. after a restore.
func Resume(s *Session, at time.Time) Result {
	if s.Phase == PhaseEnded {
		return Result{}
	}
	var res Result
	res.add(s.attemptAssignment(at)...)
	return res
}

func (s *Session) intent(t IntentType, at time.Time) Intent {
	return Intent{Type: t, Session: s.ID, At: at}
}

func (s *Session) stateChanged(reason string, at time.Time) Intent {
	in := s.intent(IntentSessionStateChanged, at)
	in.Phase = s.Phase
	in.Locked = s.Locked
	in.Reason = reason
	return in
}

func (s *Session) setLocked(actor PlayerID, locked bool, at time.Time) (Result, error) {
	if actor != s.Host {
		return Result{}, ErrNotHost
	}
	if locked && s.Locked {
		return Result{}, ErrAlreadyLocked
	}
	if !locked && !s.Locked {
		return Result{}, ErrNotLocked
	}

	s.Locked = locked
	reason := "unlocked"
	if locked {
		reason = "locked"
	}
	var res Result
	res.add(s.stateChanged(reason, at))
	return res, nil
}

func (s *Session) start(actor PlayerID, at time.Time) (Result, error) {
	if actor != s.Host {
		return Result{}, ErrNotHost
	}
	if s.Phase == PhaseActive {
		return Result{}, ErrAlreadyActive
	}
	if len(s.StaffedTeams()) == 0 {
		return Result{}, ErrNoStaffedTeam
	}

	s.Phase = PhaseActive
	// Presence is only tracked while Active; start clean.
	s.Presence = make(map[PlayerID]*Presence)

	var res Result
	res.add(s.stateChanged("farming started", at))
	return res, nil
}

// end tears the session down. Warnings were already handed out as IssueWarning
// intents when they were recorded, so they are dropped here.
func (s *Session) end(reason string, at time.Time) Result {
	var res Result

	for _, p := range sortedPresence(s.Presence) {
		if pr := s.Presence[p]; pr.Pending {
			res.Timers = append(res.Timers, TimerOp{Cancel: true, Player: p, Gen: pr.Gen})
		}
	}

	for ti := range s.Teams {
		for si := range s.Teams[ti].Slots {
			slot := &s.Teams[ti].Slots[si]
			if slot.Assignment != nil {
				in := s.intent(IntentUnassignPlayer, at)
				in.Player = slot.Assignment.Player
				in.Team, in.Slot = ti, si
				in.Role = slot.Role
				in.Reason = "session ended"
				res.add(in)
			}
			slot.Assignment = nil
			slot.Reserved = ""
		}
	}

	s.Queue.Clear()
	s.Pending = make(map[PlayerID]Pending)
	s.Presence = make(map[PlayerID]*Presence)
	s.Warnings = nil
	s.Phase = PhaseEnded
	s.Locked = false

	res.add(s.stateChanged(reason, at))
	return res
}

// idleCheck ends the session once it has been unoccupied for IdleTimeout.
// Events alone do not keep a session alive, and quiet play does not end one.
func (s *Session) idleCheck(at time.Time) Result {
	s.trackIdle(at)
	if s.Rules.IdleTimeout <= 0 || s.idleSince.IsZero() || at.Sub(s.idleSince) < s.Rules.IdleTimeout {
		return Result{}
	}
	return s.end("idle", at)
}

// trackIdle starts the idle clock when the session empties and stops it when
// anyone is back.
func (s *Session) trackIdle(at time.Time) {
	if s.Occupied() {
		s.idleSince = time.Time{}
		return
	}
	if s.idleSince.IsZero() {
		s.idleSince = at
	}
}

// Occupied reports whether anyone is waiting, choosing a character, or sitting
// in an assigned slot. An assigned player counts until they are known to be
// away from their team channel; voice is not tracked before Start.
func (s *Session) Occupied() bool {
	if s.Queue.Size() > 0 || len(s.Pending) > 0 {
		return true
	}
	for _, t := range s.Teams {
		for _, slot := range t.Slots {
			if slot.Assignment != nil && s.present(slot.Assignment.Player, t.Channel) {
				return true
			}
		}
	}
	return false
}
