package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"atlas/api/internal/store"

	"golang.org/x/sync/errgroup"
)

const mergeSeparator = "\n\n---\n\n"

// EffectiveConfiguration is the merged organization, team and user content.
type EffectiveConfiguration struct {
	Content     string
	OrgApplied  bool
	TeamApplied bool
	UserApplied bool

	OrgContent  string
	TeamContent string
	UserContent string
}

// Resolver computes a user's effective configuration.
type Resolver struct {
	service *Service
}

func NewResolver(service *Service) *Resolver {
	return &Resolver{service: service}
}

// Resolve reads the three scopes concurrently and merges them in fixed
// organization, team, user order.
func (r *Resolver) Resolve(ctx context.Context, userID string) (EffectiveConfiguration, error) {
	user, err := r.service.store.GetUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return EffectiveConfiguration{}, fmt.Errorf("%s: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		return EffectiveConfiguration{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	memberships, err := r.service.store.ListTeamMemberships(ctx, userID)
	if err != nil {
		return EffectiveConfiguration{}, err
	}
	teamID, err := designatedTeam(memberships)
	if err != nil {
		return EffectiveConfiguration{}, err
	}

	var orgContent, teamContent, userContent string
	g, gctx := errgroup.WithContext(ctx)
	if user.OrganizationID != "" {
		g.Go(func() error {
			record, err := r.service.Get(gctx, OrganizationScope(user.OrganizationID))
			orgContent = record.Content
			return err
		})
	}
	if teamID != "" {
		g.Go(func() error {
			record, err := r.service.Get(gctx, TeamScope(teamID))
			teamContent = record.Content
			return err
		})
	}
	g.Go(func() error {
		record, err := r.service.Get(gctx, UserScope(user.ID))
		userContent = record.Content
		return err
	})
	if err := g.Wait(); err != nil {
		return EffectiveConfiguration{}, err
	}

	return MergeScopes(orgContent, teamContent, userContent), nil
}

// MergeScopes joins the non-blank scope contents with a horizontal rule.
// A single contributing scope is returned verbatim.
func MergeScopes(orgContent, teamContent, userContent string) EffectiveConfiguration {
	merged := EffectiveConfiguration{
		OrgContent:  orgContent,
		TeamContent: teamContent,
		UserContent: userContent,
		OrgApplied:  strings.TrimSpace(orgContent) != "",
		TeamApplied: strings.TrimSpace(teamContent) != "",
		UserApplied: strings.TrimSpace(userContent) != "",
	}
	parts := make([]string, 0, 3)
	if merged.OrgApplied {
		parts = append(parts, orgContent)
	}
	if merged.TeamApplied {
		parts = append(parts, teamContent)
	}
	if merged.UserApplied {
		parts = append(parts, userContent)
	}
	merged.Content = strings.Join(parts, mergeSeparator)
	return merged
}

func designatedTeam(memberships []store.TeamMembership) (string, error) {
	switch len(memberships) {
	case 0:
		return "", nil
	case 1:
		return memberships[0].TeamID, nil
	}
	for _, membership := range memberships {
		if membership.IsPrimary {
			return membership.TeamID, nil
		}
	}
	return "", ErrTeamAmbiguous
}
