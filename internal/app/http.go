package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"atlas/api/internal/contentstore"
	"atlas/api/internal/util"
)

const apiPrefix = "/api/v1/"

type HTTPServer struct {
	service    *Service
	resolver   *Resolver
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		resolver:   NewResolver(service),
		corsOrigin: corsOrigin,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

type recordResponse struct {
	Content   string     `json:"content"`
	CommitID  string     `json:"commit_id"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type versionResponse struct {
	CommitID  string    `json:"commit_id"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

type historyResponse struct {
	Versions []versionResponse `json:"versions"`
	Total    int               `json:"total"`
}

type effectiveResponse struct {
	Content     string `json:"content"`
	OrgApplied  bool   `json:"org_applied"`
	TeamApplied bool   `json:"team_applied"`
	UserApplied bool   `json:"user_applied"`
}

func toRecordResponse(record ConfigurationRecord) recordResponse {
	response := recordResponse{Content: record.Content, CommitID: record.CommitID}
	if !record.UpdatedAt.IsZero() {
		updatedAt := record.UpdatedAt.UTC()
		response.UpdatedAt = &updatedAt
	}
	return response
}

func toHistoryResponse(items []contentstore.CommitRecord) historyResponse {
	versions := make([]versionResponse, 0, len(items))
	for _, item := range items {
		versions = append(versions, versionResponse{
			CommitID:  item.CommitID,
			Message:   item.Message,
			Author:    item.Author,
			Timestamp: item.Timestamp.UTC(),
		})
	}
	return historyResponse{Versions: versions, Total: len(versions)}
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if !strings.HasPrefix(r.URL.Path, apiPrefix) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, apiPrefix))
	switch {
	case len(parts) == 2 && parts[0] == "profile" && parts[1] == "effective-configuration":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		s.handleEffectiveConfiguration(w, r, session)
		return

	case len(parts) >= 2 && parts[0] == "configuration" && parts[1] == "me":
		s.handleScope(w, r, session, UserScope(session.UserID), parts[2:])
		return

	case len(parts) >= 2 && parts[0] == "configuration" && parts[1] == "organization":
		if session.OrganizationID == "" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User does not belong to an organization", nil)
			return
		}
		s.handleScope(w, r, session, OrganizationScope(session.OrganizationID), parts[2:])
		return

	case len(parts) >= 3 && parts[0] == "configuration" && parts[1] == "teams":
		s.handleScope(w, r, session, TeamScope(parts[2]), parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleScope serves the record, history, rollback and import routes shared
// by every scope level.
func (s *HTTPServer) handleScope(w http.ResponseWriter, r *http.Request, session Session, scope Scope, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		if !s.authorize(w, r, session, scope, accessRead) {
			return
		}
		record, err := s.service.Get(r.Context(), scope)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRecordResponse(record))

	case len(rest) == 0 && r.Method == http.MethodPut:
		if !s.authorize(w, r, session, scope, accessWrite) {
			return
		}
		var body struct {
			Content *string `json:"content"`
			Message string  `json:"message"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, 2*s.service.MaxImportBytes())
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Content == nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "content is required", nil)
			return
		}
		record, err := s.service.Save(r.Context(), scope, *body.Content, body.Message, session.UserName)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRecordResponse(record))

	case len(rest) == 1 && rest[0] == "history" && r.Method == http.MethodGet:
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !s.authorize(w, r, session, scope, accessRead) {
			return
		}
		items, err := s.service.History(r.Context(), scope, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toHistoryResponse(items))

	case len(rest) == 2 && rest[0] == "rollback" && r.Method == http.MethodPost:
		if !s.authorize(w, r, session, scope, accessWrite) {
			return
		}
		record, err := s.service.Rollback(r.Context(), scope, rest[1], session.UserName)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRecordResponse(record))

	case len(rest) == 1 && rest[0] == "import" && r.Method == http.MethodPost:
		if !s.authorize(w, r, session, scope, accessWrite) {
			return
		}
		raw, filename, err := s.readUpload(w, r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		record, err := s.service.Import(r.Context(), scope, raw, filename, session.UserName)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRecordResponse(record))

	case len(rest) <= 2:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleEffectiveConfiguration(w http.ResponseWriter, r *http.Request, session Session) {
	merged, err := s.resolver.Resolve(r.Context(), session.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, effectiveResponse{
		Content:     merged.Content,
		OrgApplied:  merged.OrgApplied,
		TeamApplied: merged.TeamApplied,
		UserApplied: merged.UserApplied,
	})
}

// readUpload returns at most MaxImportBytes+1 bytes of the "file" part so
// that oversize uploads reach the service's size check.
func (s *HTTPServer) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	limit := s.service.MaxImportBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(limit + 1); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", &ValidationError{Field: "file", Message: fmt.Sprintf("file exceeds the %d byte limit", limit)}
		}
		return nil, "", &ValidationError{Field: "file", Message: "expected a multipart upload"}
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll() //nolint:errcheck
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", &ValidationError{Field: "file", Message: "file is required"}
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	return raw, header.Filename, nil
}

func (s *HTTPServer) authorize(w http.ResponseWriter, r *http.Request, session Session, scope Scope, mode access) bool {
	if err := s.service.Authorize(r.Context(), session, scope, mode); err != nil {
		var authzErr *AuthorizationError
		if errors.As(err, &authzErr) {
			log.Printf("authz: denied user=%s %s %s", session.UserID, mode, scope)
		}
		s.fail(w, r, err)
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s error: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		if status != http.StatusUnauthorized {
			log.Printf("session lookup error: %v", err)
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
			return Session{}, false
		}
		writeError(w, status, code, message, details)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// parseLimit accepts an empty value (default page size) or 1..MaxHistoryLimit.
func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return contentstore.DefaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > contentstore.MaxHistoryLimit {
		return 0, &ValidationError{Field: "limit", Message: fmt.Sprintf("limit must be between 1 and %d", contentstore.MaxHistoryLimit)}
	}
	return limit, nil
}

func mapError(err error) (status int, code, message string, details any) {
	domainErr := toDomainError(err)
	return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
}
