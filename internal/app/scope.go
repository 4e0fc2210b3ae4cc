package app

import (
	"fmt"
	"strings"

	"atlas/api/internal/store"

	"github.com/google/uuid"
)

type ScopeLevel string

const (
	ScopeOrganization ScopeLevel = store.LevelOrganization
	ScopeTeam         ScopeLevel = store.LevelTeam
	ScopeUser         ScopeLevel = store.LevelUser
)

func (l ScopeLevel) String() string {
	return string(l)
}

func ParseScopeLevel(value string) (ScopeLevel, error) {
	switch ScopeLevel(strings.ToLower(strings.TrimSpace(value))) {
	case ScopeOrganization:
		return ScopeOrganization, nil
	case ScopeTeam:
		return ScopeTeam, nil
	case ScopeUser:
		return ScopeUser, nil
	default:
		return "", &ValidationError{Field: "level", Message: fmt.Sprintf("unknown scope level %q", value)}
	}
}

// Scope identifies whose configuration is addressed.
type Scope struct {
	Level   ScopeLevel
	OwnerID string
}

func UserScope(userID string) Scope {
	return Scope{Level: ScopeUser, OwnerID: userID}
}

func TeamScope(teamID string) Scope {
	return Scope{Level: ScopeTeam, OwnerID: teamID}
}

func OrganizationScope(orgID string) Scope {
	return Scope{Level: ScopeOrganization, OwnerID: orgID}
}

// ContentPath is the deterministic content store path for the scope.
func (s Scope) ContentPath() string {
	switch s.Level {
	case ScopeOrganization:
		return "orgs/" + s.OwnerID + "/claude.md"
	case ScopeTeam:
		return "teams/" + s.OwnerID + "/claude.md"
	default:
		return "users/" + s.OwnerID + "/claude.md"
	}
}

func (s Scope) String() string {
	return string(s.Level) + ":" + s.OwnerID
}

// Canonical validates the scope and rewrites OwnerID into the lower-case
// hyphenated UUID form the metadata store keys rows by. Upper-case, braced
// and urn:uuid: spellings of one id map to the same scope.
func (s Scope) Canonical() (Scope, error) {
	level, err := ParseScopeLevel(string(s.Level))
	if err != nil {
		return Scope{}, err
	}
	id, err := uuid.Parse(strings.TrimSpace(s.OwnerID))
	if err != nil {
		return Scope{}, &ValidationError{Field: "owner_id", Message: fmt.Sprintf("invalid %s id %q", s.Level, s.OwnerID)}
	}
	return Scope{Level: level, OwnerID: id.String()}, nil
}
