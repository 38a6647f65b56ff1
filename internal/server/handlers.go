package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/opd-ai/go-emby-bridge/internal/emby"
	"github.com/opd-ai/go-emby-bridge/internal/storage"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// SystemStatus is returned by /api/status.
type SystemStatus struct {
	Status           string         `json:"status"`
	Version          string         `json:"version"`
	Uptime           string         `json:"uptime"`
	WebSocketClients int            `json:"websocket_clients"`
	Storage          *storage.Stats `json:"storage,omitempty"`
}

// TerminateRequest is the optional body of a terminate call.
type TerminateRequest struct {
	Message string `json:"message"`
}

const cachedMessage = "Emby unreachable, served from last sync"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.HealthCheck(); err != nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Storage unavailable", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Server is healthy",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.GetStats()
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to get storage stats", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data: SystemStatus{
			Status:           "running",
			Version:          Version,
			Uptime:           time.Since(s.started).Round(time.Second).String(),
			WebSocketClients: s.hub.ClientCount(),
			Storage:          stats,
		},
	})
}

// handleActivity builds the activity view live. It never fails: an
// unreachable server yields the empty view.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    s.bridge.CurrentActivity(r.Context()),
	})
}

func (s *Server) handleLatestActivity(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.storage.LatestActivity()
	if errors.Is(err, storage.ErrNotFound) {
		s.writeErrorResponse(w, http.StatusNotFound, "No activity has been recorded yet", nil)
		return
	}
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to load activity snapshot", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    snapshot,
	})
}

// handleUsers serves the live user list and persists it. When Emby cannot
// be reached the last synchronized list is served instead.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	serveInventory(s, w, r, "users",
		s.bridge.Users, s.storage.SaveUsers, s.storage.ListUsers)
}

// handleLibraries behaves like handleUsers for libraries.
func (s *Server) handleLibraries(w http.ResponseWriter, r *http.Request) {
	serveInventory(s, w, r, "libraries",
		s.bridge.Libraries, s.storage.SaveLibraries, s.storage.ListLibraries)
}

func serveInventory[T any](
	s *Server,
	w http.ResponseWriter,
	r *http.Request,
	kind string,
	live func(context.Context) ([]T, error),
	save func([]T) error,
	stored func() ([]T, error),
) {
	records, err := live(r.Context())
	if err == nil {
		if saveErr := save(records); saveErr != nil {
			s.logger.Warn("Failed to persist inventory", "kind", kind, "error", saveErr)
		}
		s.writeJSONResponse(w, http.StatusOK, APIResponse{Success: true, Data: records})
		return
	}

	s.logger.Warn("Live inventory unavailable", "kind", kind, "error", err)

	cached, cacheErr := stored()
	if cacheErr != nil || len(cached) == 0 {
		s.writeErrorResponse(w, upstreamStatus(err), "Failed to get "+kind, err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    cached,
		Message: cachedMessage,
	})
}

func (s *Server) handleServerIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := s.bridge.ServerIdentity(r.Context())
	if err == nil {
		if saveErr := s.storage.SaveIdentity(*identity); saveErr != nil {
			s.logger.Warn("Failed to persist server identity", "error", saveErr)
		}
		s.writeJSONResponse(w, http.StatusOK, APIResponse{Success: true, Data: identity})
		return
	}

	cached, cacheErr := s.storage.Identity()
	if cacheErr != nil {
		s.writeErrorResponse(w, upstreamStatus(err), "Failed to get server identity", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    cached,
		Message: cachedMessage,
	})
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "Session ID is required", nil)
		return
	}

	var req TerminateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.bridge.TerminateSession(r.Context(), sessionID, req.Message); err != nil {
		s.writeErrorResponse(w, upstreamStatus(err), "Failed to terminate session", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]string{"session_id": sessionID},
		Message: "Session terminated",
	})
}

// upstreamStatus maps an Emby failure to the status reported to callers.
func upstreamStatus(err error) int {
	var failure *emby.Failure
	if !errors.As(err, &failure) {
		return http.StatusBadGateway
	}

	switch failure.Kind {
	case emby.FailureTimeout:
		return http.StatusGatewayTimeout
	case emby.FailureCircuitOpen:
		return http.StatusServiceUnavailable
	case emby.FailureHTTPStatus:
		if failure.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
	}
	return http.StatusBadGateway
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	s.logger.Error("HTTP error response",
		"status", statusCode,
		"message", message,
		"error", err)

	errorMsg := message
	if err != nil {
		errorMsg = err.Error()
	}

	s.writeJSONResponse(w, statusCode, APIResponse{
		Success: false,
		Error:   errorMsg,
		Message: message,
	})
}
