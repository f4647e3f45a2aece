package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"noteful/api/internal/auth"
	"noteful/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
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
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "status": "not_ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
		return
	}

	// Login resolves credentials, not a token.
	if r.Method == http.MethodPost && r.URL.Path == "/api/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/refresh" {
		identity, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		token, err := s.service.Refresh(identity)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token})
		return
	}

	parts := splitPath(r.URL.Path)

	// Registration is public; so is the user directory.
	if len(parts) == 2 && parts[0] == "api" && parts[1] == "users" {
		switch r.Method {
		case http.MethodGet:
			s.handleListUsers(w, r)
		case http.MethodPost:
			s.handleRegister(w, r)
		default:
			methodNotAllowed(w)
		}
		return
	}

	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	if len(parts) >= 2 && parts[0] == "api" {
		switch parts[1] {
		case "folders":
			s.routeFolders(w, r, identity, parts[2:])
			return
		case "tags":
			s.routeTags(w, r, identity, parts[2:])
			return
		case "notes":
			s.routeNotes(w, r, identity, parts[2:])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// Auth handlers

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	token, err := s.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

// User handlers

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	payload, err := s.service.Register(r.Context(), body)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeCreated(w, r, payload)
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListUsers(r.Context())
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// Folder handlers

func (s *HTTPServer) routeFolders(w http.ResponseWriter, r *http.Request, identity Identity, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListFolders(r.Context(), identity)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			body, ok := decodeNameBody(w, r)
			if !ok {
				return
			}
			payload, err := s.service.CreateFolder(r.Context(), identity, body.Name)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeCreated(w, r, payload)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	folderID := rest[0]

	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetFolder(r.Context(), identity, folderID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPut:
		body, ok := decodeNameBody(w, r)
		if !ok {
			return
		}
		payload, err := s.service.UpdateFolder(r.Context(), identity, folderID, body.Name)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeleteFolder(r.Context(), identity, folderID); err != nil {
			writeMapped(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// Tag handlers

func (s *HTTPServer) routeTags(w http.ResponseWriter, r *http.Request, identity Identity, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListTags(r.Context(), identity)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			body, ok := decodeNameBody(w, r)
			if !ok {
				return
			}
			payload, err := s.service.CreateTag(r.Context(), identity, body.Name)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeCreated(w, r, payload)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	tagID := rest[0]

	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetTag(r.Context(), identity, tagID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPut:
		body, ok := decodeNameBody(w, r)
		if !ok {
			return
		}
		payload, err := s.service.UpdateTag(r.Context(), identity, tagID, body.Name)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeleteTag(r.Context(), identity, tagID); err != nil {
			writeMapped(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// Note handlers

func (s *HTTPServer) routeNotes(w http.ResponseWriter, r *http.Request, identity Identity, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			filter := store.NoteFilter{
				SearchTerm: strings.TrimSpace(r.URL.Query().Get("searchTerm")),
				FolderID:   strings.TrimSpace(r.URL.Query().Get("folderId")),
				TagID:      strings.TrimSpace(r.URL.Query().Get("tagId")),
			}
			payload, err := s.service.ListNotes(r.Context(), identity, filter)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body NoteInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateNote(r.Context(), identity, body)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeCreated(w, r, payload)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	noteID := rest[0]

	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetNote(r.Context(), identity, noteID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPut:
		var body NoteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateNote(r.Context(), identity, noteID, body)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeleteNote(r.Context(), identity, noteID); err != nil {
			writeMapped(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// requireIdentity is the authorization gate: it resolves the bearer token
// to an identity, or short-circuits with 401 before any store is touched.
func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Identity{}, false
	}
	identity, err := s.service.IdentityFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Identity{}, false
	}
	return identity, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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

func writeMapped(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func writeCreated(w http.ResponseWriter, r *http.Request, payload map[string]any) {
	if id, ok := payload["id"].(string); ok {
		w.Header().Set("Location", r.URL.Path+"/"+id)
	}
	writeJSON(w, http.StatusCreated, payload)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return fmt.Errorf("%s should be a string", typeErr.Field)
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

type nameInput struct {
	Name string `json:"name"`
}

func decodeNameBody(w http.ResponseWriter, r *http.Request) (nameInput, bool) {
	var body nameInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return body, false
	}
	return body, true
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrDuplicate) {
		return http.StatusBadRequest, "CONFLICT", "Record already exists", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
