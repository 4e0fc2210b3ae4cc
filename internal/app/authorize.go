package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"atlas/api/internal/rbac"
)

type access int

const (
	accessRead access = iota
	accessWrite
)

func (a access) String() string {
	if a == accessWrite {
		return "write"
	}
	return "read"
}

// Authorize checks that session may read or write scope.
//
// User scopes belong to their owner only. Organization scopes are readable by
// members of the organization and writable by org admins. Team scopes are
// readable by team members and org admins of the owning organization, and
// writable by team admins who are members and by org admins.
func (s *Service) Authorize(ctx context.Context, session Session, scope Scope, mode access) error {
	scope, err := scope.Canonical()
	if err != nil {
		return err
	}
	role := rbac.Normalize(session.Role)
	deny := &AuthorizationError{Action: mode.String(), Scope: scope}

	switch scope.Level {
	case ScopeUser:
		if scope.OwnerID != session.UserID {
			return deny
		}
		action := rbac.ActionReadOwn
		if mode == accessWrite {
			action = rbac.ActionWriteOwn
		}
		if !rbac.Can(role, action) {
			return deny
		}
		return nil

	case ScopeOrganization:
		if session.OrganizationID == "" || scope.OwnerID != session.OrganizationID {
			return deny
		}
		action := rbac.ActionReadOrg
		if mode == accessWrite {
			action = rbac.ActionWriteOrg
		}
		if !rbac.Can(role, action) {
			return deny
		}
		return nil

	case ScopeTeam:
		orgID, err := s.store.TeamOrganization(ctx, scope.OwnerID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", scope, ErrTeamNotFound)
		}
		if err != nil {
			return fmt.Errorf("authorize %s: %w", scope, err)
		}
		if orgID != session.OrganizationID {
			return deny
		}
		if role == rbac.RoleOrgAdmin {
			return nil
		}
		member, err := s.store.IsTeamMember(ctx, scope.OwnerID, session.UserID)
		if err != nil {
			return fmt.Errorf("authorize %s: %w", scope, err)
		}
		action := rbac.ActionReadTeam
		if mode == accessWrite {
			action = rbac.ActionWriteTeam
		}
		if !member || !rbac.Can(role, action) {
			return deny
		}
		return nil
	}
	return deny
}
