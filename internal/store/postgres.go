package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrContentPathTaken is returned when another scope already owns a content path.
var ErrContentPathTaken = errors.New("content path already owned by another scope")

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const scopeConfigurationColumns = `id, level, owner_id, content_path, current_commit_id, created_at, updated_at`

func scanScopeConfiguration(row interface{ Scan(...any) error }) (ScopeConfiguration, error) {
	var cfg ScopeConfiguration
	err := row.Scan(&cfg.ID, &cfg.Level, &cfg.OwnerID, &cfg.ContentPath, &cfg.CurrentCommitID, &cfg.CreatedAt, &cfg.UpdatedAt)
	return cfg, err
}

// GetScopeConfiguration returns sql.ErrNoRows when the scope was never saved.
func (s *PostgresStore) GetScopeConfiguration(ctx context.Context, level, ownerID string) (ScopeConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scopeConfigurationColumns+`
		FROM scope_configurations
		WHERE level = $1 AND owner_id = $2
	`, level, ownerID)
	cfg, err := scanScopeConfiguration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ScopeConfiguration{}, err
		}
		return ScopeConfiguration{}, fmt.Errorf("get scope configuration: %w", err)
	}
	return cfg, nil
}

// UpsertScopeConfiguration creates the row on first save and repoints it on
// later saves. The last writer wins.
func (s *PostgresStore) UpsertScopeConfiguration(ctx context.Context, level, ownerID, contentPath, commitID string) (ScopeConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO scope_configurations (id, level, owner_id, content_path, current_commit_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (level, owner_id) DO UPDATE
		SET current_commit_id = EXCLUDED.current_commit_id,
		    updated_at = NOW()
		RETURNING `+scopeConfigurationColumns,
		uuid.NewString(), level, ownerID, contentPath, commitID,
	)
	cfg, err := scanScopeConfiguration(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ScopeConfiguration{}, fmt.Errorf("%s: %w", contentPath, ErrContentPathTaken)
		}
		return ScopeConfiguration{}, fmt.Errorf("upsert scope configuration: %w", err)
	}
	return cfg, nil
}

// RepointScopeConfiguration moves the pointer only if it still holds
// expectedCommitID, so a concurrent save is never overwritten.
func (s *PostgresStore) RepointScopeConfiguration(ctx context.Context, id, expectedCommitID, commitID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scope_configurations
		SET current_commit_id = $3, updated_at = NOW()
		WHERE id = $1 AND current_commit_id = $2
	`, id, expectedCommitID, commitID)
	if err != nil {
		return false, fmt.Errorf("repoint scope configuration: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repoint scope configuration: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) ListScopeConfigurations(ctx context.Context) ([]ScopeConfiguration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scopeConfigurationColumns+`
		FROM scope_configurations
		ORDER BY level, owner_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list scope configurations: %w", err)
	}
	defer rows.Close()

	items := make([]ScopeConfiguration, 0)
	for rows.Next() {
		cfg, err := scanScopeConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scope configuration: %w", err)
		}
		items = append(items, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scope configurations: %w", err)
	}
	return items, nil
}

// GetUser returns sql.ErrNoRows for an unknown user.
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var (
		user  User
		orgID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, display_name, email, role
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &orgID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	user.OrganizationID = orgID.String
	return user, nil
}

func (s *PostgresStore) ListTeamMemberships(ctx context.Context, userID string) ([]TeamMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT team_id, user_id, is_primary
		FROM team_memberships
		WHERE user_id = $1
		ORDER BY created_at, team_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list team memberships: %w", err)
	}
	defer rows.Close()

	items := make([]TeamMembership, 0)
	for rows.Next() {
		var item TeamMembership
		if err := rows.Scan(&item.TeamID, &item.UserID, &item.IsPrimary); err != nil {
			return nil, fmt.Errorf("scan team membership: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team memberships: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) IsTeamMember(ctx context.Context, teamID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM team_memberships WHERE team_id = $1 AND user_id = $2)
	`, teamID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check team membership: %w", err)
	}
	return exists, nil
}

// TeamOrganization returns sql.ErrNoRows for an unknown team.
func (s *PostgresStore) TeamOrganization(ctx context.Context, teamID string) (string, error) {
	var orgID string
	err := s.db.QueryRowContext(ctx, `SELECT organization_id FROM teams WHERE id = $1`, teamID).Scan(&orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("get team organization: %w", err)
	}
	return orgID, nil
}
