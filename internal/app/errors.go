package app

import (
	"errors"
	"fmt"
	"net/http"

	"atlas/api/internal/auth"
	"atlas/api/internal/contentstore"
)

var (
	ErrConfigurationNotFound   = errors.New("configuration not found")
	ErrVersionNotFound         = errors.New("version not found")
	ErrContentStoreUnavailable = errors.New("content store unavailable")
	ErrTeamAmbiguous           = errors.New("user belongs to several teams and none is primary")
	ErrUserNotFound            = errors.New("user not found")
	ErrTeamNotFound            = errors.New("team not found")
)

// ValidationError reports which check rejected the input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// AuthorizationError is returned when the caller may not act on a scope.
type AuthorizationError struct {
	Action string
	Scope  Scope
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not allowed to %s %s", e.Action, e.Scope)
}

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// contentError translates adapter failures into service errors.
func contentError(op string, err error) error {
	switch {
	case errors.Is(err, contentstore.ErrUnavailable):
		return fmt.Errorf("%s: %w: %w", op, ErrContentStoreUnavailable, err)
	case errors.Is(err, contentstore.ErrNotFound):
		return fmt.Errorf("%s: %w: %w", op, ErrVersionNotFound, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// toDomainError maps any service error onto its HTTP representation.
func toDomainError(err error) *DomainError {
	var (
		domainErr *DomainError
		validErr  *ValidationError
		authzErr  *AuthorizationError
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.As(err, &validErr):
		return &DomainError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: validErr.Message, Details: map[string]any{"field": validErr.Field}, Err: err}
	case errors.As(err, &authzErr):
		return &DomainError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "Forbidden", Err: err}
	case errors.Is(err, ErrConfigurationNotFound):
		return &DomainError{Status: http.StatusNotFound, Code: "CONFIGURATION_NOT_FOUND", Message: "No configuration has been saved for this scope", Err: err}
	case errors.Is(err, ErrVersionNotFound):
		return &DomainError{Status: http.StatusNotFound, Code: "VERSION_NOT_FOUND", Message: "Version not found", Err: err}
	case errors.Is(err, ErrUserNotFound):
		return &DomainError{Status: http.StatusNotFound, Code: "USER_NOT_FOUND", Message: "User not found", Err: err}
	case errors.Is(err, ErrTeamNotFound):
		return &DomainError{Status: http.StatusNotFound, Code: "TEAM_NOT_FOUND", Message: "Team not found", Err: err}
	case errors.Is(err, ErrTeamAmbiguous):
		return &DomainError{Status: http.StatusConflict, Code: "TEAM_AMBIGUOUS", Message: "No primary team is set for this user", Err: err}
	case errors.Is(err, ErrContentStoreUnavailable):
		return &DomainError{Status: http.StatusServiceUnavailable, Code: "CONTENT_STORE_UNAVAILABLE", Message: "Content store unavailable", Err: err}
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return &DomainError{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Unauthorized", Err: err}
	default:
		return &DomainError{Status: http.StatusInternalServerError, Code: "SERVER_ERROR", Message: "Server error", Err: err}
	}
}
