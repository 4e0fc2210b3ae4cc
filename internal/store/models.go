package store

import "time"

const (
	LevelOrganization = "organization"
	LevelTeam         = "team"
	LevelUser         = "user"
)

// ScopeConfiguration points a scope at the commit holding its current content.
type ScopeConfiguration struct {
	ID              string
	Level           string
	OwnerID         string
	ContentPath     string
	CurrentCommitID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type User struct {
	ID             string
	OrganizationID string
	DisplayName    string
	Email          string
	Role           string
}

type TeamMembership struct {
	TeamID    string
	UserID    string
	IsPrimary bool
}
