package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var scopeConfigurationRowColumns = []string{
	"id", "level", "owner_id", "content_path", "current_commit_id", "created_at", "updated_at",
}

func TestGetScopeConfiguration(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresStore(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM scope_configurations WHERE level = \\$1 AND owner_id = \\$2").
		WithArgs(LevelUser, "u1").
		WillReturnRows(sqlmock.NewRows(scopeConfigurationRowColumns).
			AddRow("row-1", LevelUser, "u1", "users/u1/claude.md", "abc123", now, now))

	cfg, err := s.GetScopeConfiguration(context.Background(), LevelUser, "u1")
	if err != nil {
		t.Fatalf("GetScopeConfiguration() error = %v", err)
	}
	if cfg.CurrentCommitID != "abc123" || cfg.ContentPath != "users/u1/claude.md" {
		t.Fatalf("unexpected row: %+v", cfg)
	}
}

func TestGetScopeConfigurationMissing(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresStore(db)

	mock.ExpectQuery("SELECT .+ FROM scope_configurations").
		WithArgs(LevelTeam, "t1").
		WillReturnRows(sqlmock.NewRows(scopeConfigurationRowColumns))

	_, err := s.GetScopeConfiguration(context.Background(), LevelTeam, "t1")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestUpsertScopeConfiguration(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO scope_configurations .+ ON CONFLICT \\(level, owner_id\\) DO UPDATE").
		WithArgs(sqlmock.AnyArg(), LevelOrganization, "o1", "orgs/o1/claude.md", "c2").
		WillReturnRows(sqlmock.NewRows(scopeConfigurationRowColumns).
			AddRow("row-1", LevelOrganization, "o1", "orgs/o1/claude.md", "c2", now, now))

	cfg, err := s.UpsertScopeConfiguration(context.Background(), LevelOrganization, "o1", "orgs/o1/claude.md", "c2")
	if err != nil {
		t.Fatalf("UpsertScopeConfiguration() error = %v", err)
	}
	if cfg.CurrentCommitID != "c2" {
		t.Fatalf("unexpected commit id: %+v", cfg)
	}
}

func TestUpsertScopeConfigurationContentPathTaken(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresStore(db)

	mock.ExpectQuery("INSERT INTO scope_configurations").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "scope_configurations_content_path_key"})

	_, err := s.UpsertScopeConfiguration(context.Background(), LevelUser, "u1", "users/u1/claude.md", "c1")
	if !errors.Is(err, ErrContentPathTaken) {
		t.Fatalf("expected ErrContentPathTaken, got %v", err)
	}
}

func TestRepointScopeConfiguration(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresStore(db)

	mock.ExpectExec("UPDATE scope_configurations SET current_commit_id = \\$3").
		WithArgs("row-1", "old", "new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE scope_configurations SET current_commit_id = \\$3").
		WithArgs("row-1", "old", "newer").
		WillReturnResult(sqlmock.NewResult(0, 0))

	moved, err := s.RepointScopeConfiguration(context.Background(), "row-1", "old", "new")
	if err != nil || !moved {
		t.Fatalf("RepointScopeConfiguration() = %v, %v", moved, err)
	}
	moved, err = s.RepointScopeConfiguration(context.Background(), "row-1", "old", "newer")
	if err != nil || moved {
		t.Fatalf("RepointScopeConfiguration() stale = %v, %v", moved, err)
	}
}

func TestListScopeConfigurations(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM scope_configurations ORDER BY level, owner_id").
		WillReturnRows(sqlmock.NewRows(scopeConfigurationRowColumns).
			AddRow("r1", LevelOrganization, "o1", "orgs/o1/claude.md", "c1", now, now).
			AddRow("r2", LevelUser, "u1", "users/u1/claude.md", "c2", now, now))

	items, err := s.ListScopeConfigurations(context.Background())
	if err != nil {
		t.Fatalf("ListScopeConfigurations() error = %v", err)
	}
	if len(items) != 2 || items[1].OwnerID != "u1" {
		t.Fatalf("unexpected rows: %+v", items)
	}
}

func TestGetUserWithoutOrganization(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresStore(db)

	mock.ExpectQuery("SELECT id, organization_id, display_name, email, role FROM users WHERE id = \\$1").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "display_name", "email", "role"}).
			AddRow("u1", nil, "Avery", "avery@example.com", "member"))

	user, err := s.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.OrganizationID != "" || user.Role != "member" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestListTeamMemberships(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresStore(db)

	mock.ExpectQuery("SELECT team_id, user_id, is_primary FROM team_memberships WHERE user_id = \\$1").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"team_id", "user_id", "is_primary"}).
			AddRow("t1", "u1", false).
			AddRow("t2", "u1", true))

	items, err := s.ListTeamMemberships(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListTeamMemberships() error = %v", err)
	}
	if len(items) != 2 || !items[1].IsPrimary {
		t.Fatalf("unexpected memberships: %+v", items)
	}
}

func TestIsTeamMember(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresStore(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("t1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.IsTeamMember(context.Background(), "t1", "u1")
	if err != nil || !ok {
		t.Fatalf("IsTeamMember() = %v, %v", ok, err)
	}
}
