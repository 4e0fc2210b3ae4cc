package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"atlas/api/internal/auth"
	"atlas/api/internal/config"
	"atlas/api/internal/contentstore"
	"atlas/api/internal/events"
	"atlas/api/internal/store"
)

const importMessage = "Import configuration from local file"

// ConfigurationRecord is the current state of one scope. CommitID is empty and
// UpdatedAt is zero until the first save.
type ConfigurationRecord struct {
	Content   string
	CommitID  string
	UpdatedAt time.Time
}

type Session struct {
	UserID         string
	UserName       string
	Role           string
	OrganizationID string
}

type metadataStore interface {
	Ping(context.Context) error
	GetScopeConfiguration(ctx context.Context, level, ownerID string) (store.ScopeConfiguration, error)
	UpsertScopeConfiguration(ctx context.Context, level, ownerID, contentPath, commitID string) (store.ScopeConfiguration, error)
	RepointScopeConfiguration(ctx context.Context, id, expectedCommitID, commitID string) (bool, error)
	ListScopeConfigurations(ctx context.Context) ([]store.ScopeConfiguration, error)
	GetUser(ctx context.Context, userID string) (store.User, error)
	ListTeamMemberships(ctx context.Context, userID string) ([]store.TeamMembership, error)
	IsTeamMember(ctx context.Context, teamID, userID string) (bool, error)
	TeamOrganization(ctx context.Context, teamID string) (string, error)
}

// Service is the only writer of scope configuration metadata. Content goes
// to the content store first; metadata is pointed at the new commit after.
type Service struct {
	cfg     config.Config
	store   metadataStore
	content contentstore.Store
	events  events.Publisher
}

func New(cfg config.Config, metadata metadataStore, content contentstore.Store, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	if cfg.MaxImportBytes <= 0 {
		cfg.MaxImportBytes = 1 << 20
	}
	return &Service{
		cfg:     cfg,
		store:   metadata,
		content: content,
		events:  publisher,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Get returns the scope's current content. A scope that was never saved is
// not an error and yields an empty record.
func (s *Service) Get(ctx context.Context, scope Scope) (ConfigurationRecord, error) {
	scope, err := scope.Canonical()
	if err != nil {
		return ConfigurationRecord{}, err
	}
	row, err := s.store.GetScopeConfiguration(ctx, string(scope.Level), scope.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ConfigurationRecord{}, nil
	}
	if err != nil {
		return ConfigurationRecord{}, fmt.Errorf("load %s metadata: %w", scope, err)
	}

	content, err := s.content.ReadContent(ctx, row.ContentPath, row.CurrentCommitID)
	if err != nil {
		if errors.Is(err, contentstore.ErrNotFound) {
			log.Printf("app: %s points at commit %s missing from the content store", scope, row.CurrentCommitID)
			return ConfigurationRecord{}, fmt.Errorf("read %s: %w: %w", scope, ErrContentStoreUnavailable, err)
		}
		return ConfigurationRecord{}, contentError(fmt.Sprintf("read %s", scope), err)
	}
	return ConfigurationRecord{
		Content:   content,
		CommitID:  row.CurrentCommitID,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// Save commits content for the scope and points metadata at the new commit.
func (s *Service) Save(ctx context.Context, scope Scope, content, message, author string) (ConfigurationRecord, error) {
	scope, err := scope.Canonical()
	if err != nil {
		return ConfigurationRecord{}, err
	}
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Update %s configuration for %s", scope.Level, scope.OwnerID)
	}
	path, err := s.contentPath(ctx, scope)
	if err != nil {
		return ConfigurationRecord{}, err
	}
	return s.execute(ctx, &saveOperation{
		scope:   scope,
		path:    path,
		content: content,
		message: message,
		author:  author,
		reason:  events.ReasonSave,
	})
}

// History lists commits for the scope newest-first.
func (s *Service) History(ctx context.Context, scope Scope, limit int) ([]contentstore.CommitRecord, error) {
	scope, err := scope.Canonical()
	if err != nil {
		return nil, err
	}
	row, err := s.requireRow(ctx, scope)
	if err != nil {
		return nil, err
	}
	items, err := contentstore.Collect(s.content.ListHistory(ctx, row.ContentPath, limit))
	if err != nil {
		return nil, contentError(fmt.Sprintf("history %s", scope), err)
	}
	return items, nil
}

// Rollback re-applies the content recorded at targetCommitID as a new commit.
// History is never rewritten.
func (s *Service) Rollback(ctx context.Context, scope Scope, targetCommitID, author string) (ConfigurationRecord, error) {
	scope, err := scope.Canonical()
	if err != nil {
		return ConfigurationRecord{}, err
	}
	targetCommitID = strings.TrimSpace(targetCommitID)
	if targetCommitID == "" {
		return ConfigurationRecord{}, &ValidationError{Field: "commit_id", Message: "commit id is required"}
	}
	row, err := s.requireRow(ctx, scope)
	if err != nil {
		return ConfigurationRecord{}, err
	}

	content, err := s.content.ReadContent(ctx, row.ContentPath, targetCommitID)
	if err != nil {
		return ConfigurationRecord{}, contentError(fmt.Sprintf("read %s at %s", scope, targetCommitID), err)
	}
	return s.execute(ctx, &saveOperation{
		scope:   scope,
		path:    row.ContentPath,
		content: content,
		message: "Rollback to version " + shortCommit(targetCommitID),
		author:  author,
		reason:  events.ReasonRollback,
	})
}

// Import validates an uploaded file and saves it like a regular edit.
// Checks run in order: extension, size, encoding.
func (s *Service) Import(ctx context.Context, scope Scope, raw []byte, filename, author string) (ConfigurationRecord, error) {
	scope, err := scope.Canonical()
	if err != nil {
		return ConfigurationRecord{}, err
	}
	if !strings.EqualFold(filepath.Ext(strings.TrimSpace(filename)), ".md") {
		return ConfigurationRecord{}, &ValidationError{Field: "filename", Message: "file must have a .md extension"}
	}
	if int64(len(raw)) > s.cfg.MaxImportBytes {
		return ConfigurationRecord{}, &ValidationError{Field: "file", Message: fmt.Sprintf("file exceeds the %d byte limit", s.cfg.MaxImportBytes)}
	}
	if !utf8.Valid(raw) {
		return ConfigurationRecord{}, &ValidationError{Field: "encoding", Message: "file must be valid UTF-8"}
	}
	path, err := s.contentPath(ctx, scope)
	if err != nil {
		return ConfigurationRecord{}, err
	}
	return s.execute(ctx, &saveOperation{
		scope:   scope,
		path:    path,
		content: string(raw),
		message: importMessage,
		author:  author,
		reason:  events.ReasonImport,
	})
}

func (s *Service) MaxImportBytes() int64 {
	return s.cfg.MaxImportBytes
}

// SessionFromToken identifies the caller. Role and organization come from the
// metadata store so changes apply without reissuing tokens.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session user: %w", err)
	}
	name := user.DisplayName
	if name == "" {
		name = claims.Name
	}
	return Session{
		UserID:         user.ID,
		UserName:       name,
		Role:           user.Role,
		OrganizationID: user.OrganizationID,
	}, nil
}

func (s *Service) requireRow(ctx context.Context, scope Scope) (store.ScopeConfiguration, error) {
	row, err := s.store.GetScopeConfiguration(ctx, string(scope.Level), scope.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ScopeConfiguration{}, fmt.Errorf("%s: %w", scope, ErrConfigurationNotFound)
	}
	if err != nil {
		return store.ScopeConfiguration{}, fmt.Errorf("load %s metadata: %w", scope, err)
	}
	return row, nil
}

// contentPath is where new commits for scope go. Once a row exists its
// recorded path wins over the one derived from the scope.
func (s *Service) contentPath(ctx context.Context, scope Scope) (string, error) {
	row, err := s.store.GetScopeConfiguration(ctx, string(scope.Level), scope.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return scope.ContentPath(), nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s metadata: %w", scope, err)
	}
	if row.ContentPath == "" {
		return scope.ContentPath(), nil
	}
	return row.ContentPath, nil
}

func (s *Service) publish(ctx context.Context, event events.ConfigurationUpdated) {
	if err := s.events.Publish(ctx, events.TopicConfigurationUpdated, event); err != nil {
		log.Printf("events: publish %s for %s:%s: %v", events.TopicConfigurationUpdated, event.Level, event.OwnerID, err)
	}
}

func shortCommit(commitID string) string {
	if len(commitID) > 7 {
		return commitID[:7]
	}
	return commitID
}
