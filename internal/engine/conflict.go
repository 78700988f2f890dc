package engine

import (
	"fmt"
	"time"
)

type Reservation int

const (
	Granted Reservation = iota
	Conflict
	// NeedsSelection means the character is unknown (or does not fit the slot)
	// and the player has to be asked.
	NeedsSelection
)

func (r Reservation) String() string {
	switch r {
	case Granted:
		return "granted"
	case Conflict:
		return "conflict"
	case NeedsSelection:
		return "needs_selection"
	default:
		return fmt.Sprintf("reservation(%d)", int(r))
	}
}

// ReserveCharacter checks a character against one team's roster.
func ReserveCharacter(t Team, ch Character) Reservation {
	if ch == "" {
		return NeedsSelection
	}
	if t.HasCharacter(ch) {
		return Conflict
	}
	return Granted
}

func (s *Session) reserveCharacter(ti int, slotRole Role, entry QueueEntry) Reservation {
	if !s.Rules.Catalog.Allows(slotRole, entry.Character) {
		// A flex player's pick from another role.
		return NeedsSelection
	}
	return ReserveCharacter(s.Teams[ti], entry.Character)
}

// conflictNotice tells a player their character is taken on a team, once per
// (player, character, team) for the life of the session.
func (s *Session) conflictNotice(ti int, role Role, entry QueueEntry, at time.Time) []Intent {
	key := fmt.Sprintf("%s|%s|%d", entry.Player, entry.Character, ti)
	if s.conflictsNotified[key] {
		return nil
	}
	s.conflictsNotified[key] = true

	in := s.intent(IntentCharacterConflict, at)
	in.Player = entry.Player
	in.Team = ti
	in.Role = role
	in.Character = entry.Character
	in.Characters = s.Teams[ti].Characters()
	return []Intent{in}
}

// selectCharacter resolves a parked player's pick, or records a new pick for a
// player still waiting in a FIFO (position is kept).
func (s *Session) selectCharacter(p PlayerID, ch Character, at time.Time) (Result, error) {
	if ch == "" {
		return Result{}, fmt.Errorf("%w: empty character", ErrUnknownCharacter)
	}

	if pd, ok := s.Pending[p]; ok {
		role := s.Teams[pd.Team].Slots[pd.Slot].Role
		if !s.Rules.Catalog.Allows(role, ch) {
			return Result{}, fmt.Errorf("%w: %q for %s", ErrUnknownCharacter, ch, role)
		}

		s.release(p)
		entry := pd.Entry
		entry.Character = ch

		var res Result
		switch ReserveCharacter(s.Teams[pd.Team], ch) {
		case Granted:
			res.add(s.commit(pd.Team, pd.Slot, entry, at)...)
		default:
			s.Queue.PushBack(entry)
			res.add(s.conflictNotice(pd.Team, role, entry, at)...)
		}
		res.add(s.attemptAssignment(at)...)
		return res, nil
	}

	if entry, ok := s.Queue.Find(p); ok {
		if !s.Rules.Catalog.Allows(entry.Role, ch) {
			return Result{}, fmt.Errorf("%w: %q for %s", ErrUnknownCharacter, ch, entry.Role)
		}
		entry.Character = ch
		s.Queue.Update(entry)

		var res Result
		res.add(s.attemptAssignment(at)...)
		return res, nil
	}

	if _, _, ok := s.Locate(p); ok {
		return Result{}, ErrAlreadyAssigned
	}
	return Result{}, ErrNotQueued
}

// abandonSelection treats a parked player who gave up or disconnected as a
// queue-leave. Nobody is warned for this.
func (s *Session) abandonSelection(p PlayerID, at time.Time) (Result, error) {
	if _, ok := s.release(p); ok {
		var res Result
		res.add(s.attemptAssignment(at)...)
		return res, nil
	}
	if _, ok := s.Queue.Remove(p); ok {
		var res Result
		res.add(s.announce(at)...)
		return res, nil
	}
	return Result{}, ErrNotQueued
}
