package engine

import (
	"fmt"
	"time"
)

func (s *Session) enqueue(p PlayerID, role Role, ch Character, at time.Time) (Result, error) {
	if p == "" {
		return Result{}, fmt.Errorf("%w: empty player", ErrNotQueued)
	}
	if s.Locked {
		return Result{}, ErrSessionLocked
	}
	role, err := ParseRole(string(role))
	if err != nil {
		return Result{}, err
	}
	if !s.Rules.Catalog.Allows(role, ch) {
		return Result{}, fmt.Errorf("%w: %q for %s", ErrUnknownCharacter, ch, role)
	}
	if _, ok := s.Queue.Find(p); ok {
		return Result{}, ErrAlreadyQueued
	}
	if _, ok := s.Pending[p]; ok {
		return Result{}, ErrAlreadyQueued
	}
	if _, _, ok := s.Locate(p); ok {
		return Result{}, ErrAlreadyAssigned
	}

	s.Queue.PushBack(QueueEntry{Player: p, Role: role, Character: ch, EnqueuedAt: at})

	var res Result
	res.add(s.attemptAssignment(at)...)
	return res, nil
}

func (s *Session) dequeue(p PlayerID, at time.Time) (Result, error) {
	if _, ok := s.Queue.Remove(p); ok {
		var res Result
		res.add(s.announce(at)...)
		return res, nil
	}
	if _, ok := s.Pending[p]; ok {
		return s.abandonSelection(p, at)
	}
	if _, _, ok := s.Locate(p); ok {
		return Result{}, ErrAlreadyAssigned
	}
	return Result{}, ErrNotQueued
}

func (s *Session) unassign(actor, p PlayerID, at time.Time) (Result, error) {
	if actor != s.Host {
		return Result{}, ErrNotHost
	}
	a, ok := s.vacate(p)
	if !ok {
		return Result{}, ErrNotAssigned
	}

	var res Result
	res.Timers = append(res.Timers, s.dropPresence(p)...)
	in := s.intent(IntentUnassignPlayer, at)
	in.Player = p
	in.Team, in.Slot = a.Team, a.Slot
	in.Role = s.Teams[a.Team].Slots[a.Slot].Role
	in.Reason = "unassigned by host"
	res.add(in)
	res.add(s.attemptAssignment(at)...)
	return res, nil
}

// attemptAssignment fills every slot it can, team by team in index order and
// slot by slot in formation order, until a full sweep makes no progress.
func (s *Session) attemptAssignment(at time.Time) []Intent {
	var out []Intent
	for {
		progressed := false
		for ti := range s.Teams {
			for si := range s.Teams[ti].Slots {
				if !s.Teams[ti].Slots[si].Empty() {
					continue
				}
				filled, intents := s.fillSlot(ti, si, at)
				out = append(out, intents...)
				progressed = progressed || filled
			}
		}
		if !progressed {
			break
		}
	}
	return append(out, s.announce(at)...)
}

// fillSlot offers the slot to the role FIFO, then the flex FIFO. Each entry is
// looked at no more than once per call, so a FIFO full of conflicting characters
// cannot spin.
func (s *Session) fillSlot(ti, si int, at time.Time) (bool, []Intent) {
	role := s.Teams[ti].Slots[si].Role

	var out []Intent
	for _, source := range []Role{role, RoleFlex} {
		for range s.Queue.Len(source) {
			entry, ok := s.Queue.PopHead(source)
			if !ok {
				break
			}

			switch s.reserveCharacter(ti, role, entry) {
			case Granted:
				return true, append(out, s.commit(ti, si, entry, at)...)
			case NeedsSelection:
				return true, append(out, s.park(ti, si, entry, at))
			case Conflict:
				s.Queue.PushBack(entry)
				out = append(out, s.conflictNotice(ti, role, entry, at)...)
			}
		}
	}
	return false, out
}

func (s *Session) commit(ti, si int, entry QueueEntry, at time.Time) []Intent {
	slot := &s.Teams[ti].Slots[si]
	slot.Reserved = ""
	slot.Assignment = &Assignment{
		Team:       ti,
		Slot:       si,
		Player:     entry.Player,
		Character:  entry.Character,
		Requested:  entry.Role,
		EnqueuedAt: entry.EnqueuedAt,
		AssignedAt: at,
	}
	delete(s.Pending, entry.Player)

	assign := s.intent(IntentAssignPlayer, at)
	assign.Player = entry.Player
	assign.Team, assign.Slot = ti, si
	assign.Role = slot.Role
	assign.Character = entry.Character
	out := []Intent{assign}

	if channel := s.Teams[ti].Channel; channel != "" {
		move := s.intent(IntentMoveVoice, at)
		move.Player = entry.Player
		move.Team = ti
		move.Channel = channel
		out = append(out, move)
	}
	return out
}

// park holds the slot for a player who still has to pick a character.
func (s *Session) park(ti, si int, entry QueueEntry, at time.Time) Intent {
	slot := &s.Teams[ti].Slots[si]
	slot.Reserved = entry.Player
	s.Pending[entry.Player] = Pending{Entry: entry, Team: ti, Slot: si, Since: at}

	in := s.intent(IntentRequestCharacter, at)
	in.Player = entry.Player
	in.Team, in.Slot = ti, si
	in.Role = slot.Role
	in.Characters = s.Teams[ti].Characters()
	return in
}

// release frees a parked player's slot and forgets the parked state.
func (s *Session) release(p PlayerID) (Pending, bool) {
	pd, ok := s.Pending[p]
	if !ok {
		return Pending{}, false
	}
	delete(s.Pending, p)
	if slot := &s.Teams[pd.Team].Slots[pd.Slot]; slot.Reserved == p {
		slot.Reserved = ""
	}
	return pd, true
}

// vacate clears a player's slot.
func (s *Session) vacate(p PlayerID) (Assignment, bool) {
	ti, si, ok := s.Locate(p)
	if !ok {
		return Assignment{}, false
	}
	a := *s.Teams[ti].Slots[si].Assignment
	s.Teams[ti].Slots[si].Assignment = nil
	return a, true
}
