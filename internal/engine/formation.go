package engine

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

type Role string

const (
	RoleTank    Role = "tank"
	RoleDPS     Role = "dps"
	RoleSupport Role = "support"
	// RoleFlex is a queue, not a slot role: flex entries may fill any slot.
	RoleFlex Role = "flex"
)

var slotRoles = []Role{RoleTank, RoleDPS, RoleSupport}

// Upper bounds on a formation. Anything larger is not a team a voice server
// can host, and BuildTeams allocates from these numbers.
const (
	MaxSlotsPerTeam = 12
	MaxTeams        = 16
)

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tank":
		return RoleTank, nil
	case "dps", "damage":
		return RoleDPS, nil
	case "support", "healer":
		return RoleSupport, nil
	case "flex":
		return RoleFlex, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Catalog lists the characters each role may pick. An empty catalog allows anything.
type Catalog map[Role][]Character

// Allows reports whether ch may be played in role. Flex accepts a character of any role.
func (c Catalog) Allows(role Role, ch Character) bool {
	if len(c) == 0 || ch == "" {
		return true
	}
	if role == RoleFlex {
		for _, chars := range c {
			if slices.Contains(chars, ch) {
				return true
			}
		}
		return false
	}
	return slices.Contains(c[role], ch)
}

type RoleCount struct {
	Role  Role `json:"role"`
	Count int  `json:"count"`
}

// Formation is the per-team role requirement. Roles keep declaration order,
// which is also the order slots are filled in.
type Formation struct {
	Roles     []RoleCount `json:"roles"`
	TeamCount int         `json:"team_count"`
}

func NewFormation(teamCount int, roles ...RoleCount) (Formation, error) {
	f := Formation{Roles: slices.Clone(roles), TeamCount: teamCount}
	if err := f.Validate(); err != nil {
		return Formation{}, err
	}
	return f, nil
}

// ParseFormation reads "tank:2,dps:2,support:2".
func ParseFormation(text string, teamCount int) (Formation, error) {
	var roles []RoleCount
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, count, ok := strings.Cut(part, ":")
		if !ok {
			return Formation{}, fmt.Errorf("%w: expected role:count, got %q", ErrInvalidFormation, part)
		}
		role, err := ParseRole(name)
		if err != nil {
			return Formation{}, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return Formation{}, fmt.Errorf("%w: bad count %q", ErrInvalidFormation, count)
		}
		roles = append(roles, RoleCount{Role: role, Count: n})
	}
	return NewFormation(teamCount, roles...)
}

func (f Formation) Validate() error {
	if f.TeamCount < 1 {
		return fmt.Errorf("%w: team count must be at least 1", ErrInvalidFormation)
	}
	if f.TeamCount > MaxTeams {
		return fmt.Errorf("%w: at most %d teams", ErrInvalidFormation, MaxTeams)
	}
	if len(f.Roles) == 0 {
		return fmt.Errorf("%w: no roles", ErrInvalidFormation)
	}
	seen := make(map[Role]bool, len(f.Roles))
	total := 0
	for _, rc := range f.Roles {
		if !slices.Contains(slotRoles, rc.Role) {
			return fmt.Errorf("%w: %w: %q", ErrInvalidFormation, ErrUnknownRole, rc.Role)
		}
		if seen[rc.Role] {
			return fmt.Errorf("%w: role %q listed twice", ErrInvalidFormation, rc.Role)
		}
		seen[rc.Role] = true
		if rc.Count < 0 {
			return fmt.Errorf("%w: negative count for %q", ErrInvalidFormation, rc.Role)
		}
		// Each count is checked before it is summed, so the total cannot overflow.
		if rc.Count > MaxSlotsPerTeam {
			return fmt.Errorf("%w: at most %d %s per team", ErrInvalidFormation, MaxSlotsPerTeam, rc.Role)
		}
		total += rc.Count
		if total > MaxSlotsPerTeam {
			return fmt.Errorf("%w: at most %d slots per team", ErrInvalidFormation, MaxSlotsPerTeam)
		}
	}
	if total == 0 {
		return fmt.Errorf("%w: formation is empty", ErrInvalidFormation)
	}
	return nil
}

func (f Formation) Required(role Role) int {
	for _, rc := range f.Roles {
		if rc.Role == role {
			return rc.Count
		}
	}
	return 0
}

func (f Formation) SlotsPerTeam() int {
	total := 0
	for _, rc := range f.Roles {
		total += rc.Count
	}
	return total
}

func (f Formation) String() string {
	parts := make([]string, 0, len(f.Roles))
	for _, rc := range f.Roles {
		parts = append(parts, fmt.Sprintf("%s:%d", rc.Role, rc.Count))
	}
	return fmt.Sprintf("%s x%d", strings.Join(parts, ","), f.TeamCount)
}

// BuildTeams lays out empty teams. channels[i] overrides fallback for team i.
// An invalid formation builds no teams.
func (f Formation) BuildTeams(channels []string, fallback string) []Team {
	if f.Validate() != nil {
		return nil
	}
	teams := make([]Team, f.TeamCount)
	for i := range teams {
		channel := fallback
		if i < len(channels) && channels[i] != "" {
			channel = channels[i]
		}
		slots := make([]Slot, 0, f.SlotsPerTeam())
		for _, rc := range f.Roles {
			for range rc.Count {
				slots = append(slots, Slot{Role: rc.Role})
			}
		}
		teams[i] = Team{Index: i, Channel: channel, Slots: slots}
	}
	return teams
}
