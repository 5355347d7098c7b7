// Package api provides HTTP API handlers for survey sessions.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/roadscan/internal/store"
)

// SessionHandler serves session summaries, detection logs and reports.
type SessionHandler struct {
	store *store.Store
}

// NewSessionHandler creates a new SessionHandler with the given store.
func NewSessionHandler(s *store.Store) *SessionHandler {
	return &SessionHandler{store: s}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Expected paths: /api/sessions, /api/sessions/{id},
	// /api/sessions/{id}/detections or /api/sessions/{id}/report
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.Trim(path, "/")

	if path == "" {
		h.list(w)
		return
	}

	id, sub, _ := strings.Cut(path, "/")
	switch sub {
	case "":
		h.get(w, id)
	case "detections":
		h.detections(w, id)
	case "report":
		h.report(w, id)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type sessionResponse struct {
	ID              string  `json:"id"`
	StartTime       string  `json:"start_time"`
	EndTime         *string `json:"end_time"`
	Duration        float64 `json:"duration"`
	TotalFrames     int64   `json:"total_frames"`
	TotalDetections int64   `json:"total_detections"`
	AvgFPS          float64 `json:"avg_fps"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type detectionsResponse struct {
	SessionID  string                   `json:"session_id"`
	Count      int                      `json:"count"`
	Detections []*store.DetectionRecord `json:"detections"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// toResponse converts a store.Session to a sessionResponse.
func toResponse(s *store.Session) sessionResponse {
	resp := sessionResponse{
		ID:              s.ID,
		StartTime:       s.StartTime.Format(timeLayout),
		Duration:        s.Duration().Seconds(),
		TotalFrames:     s.TotalFrames,
		TotalDetections: s.TotalDetections,
		AvgFPS:          s.AvgFPS,
	}
	if s.EndTime.Valid {
		end := s.EndTime.Time.Format(timeLayout)
		resp.EndTime = &end
	}
	return resp
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/sessions and returns all sessions, newest first.
func (h *SessionHandler) list(w http.ResponseWriter) {
	sessions, err := h.store.Sessions().List()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := listSessionsResponse{
		Sessions: make([]sessionResponse, 0, len(sessions)),
	}
	for _, s := range sessions {
		response.Sessions = append(response.Sessions, toResponse(s))
	}

	WriteJSON(w, http.StatusOK, response)
}

// get handles GET /api/sessions/{id}.
func (h *SessionHandler) get(w http.ResponseWriter, id string) {
	session, err := h.store.Sessions().GetByID(id)
	if err != nil {
		h.storeError(w, err, "Failed to get session")
		return
	}

	WriteJSON(w, http.StatusOK, toResponse(session))
}

// detections handles GET /api/sessions/{id}/detections.
func (h *SessionHandler) detections(w http.ResponseWriter, id string) {
	if _, err := h.store.Sessions().GetByID(id); err != nil {
		h.storeError(w, err, "Failed to get session")
		return
	}

	records, err := h.store.Detections().ListBySession(id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list detections")
		return
	}

	WriteJSON(w, http.StatusOK, detectionsResponse{
		SessionID:  id,
		Count:      len(records),
		Detections: records,
	})
}

// report handles GET /api/sessions/{id}/report.
func (h *SessionHandler) report(w http.ResponseWriter, id string) {
	report, err := h.store.BuildReport(id)
	if err != nil {
		h.storeError(w, err, "Failed to build report")
		return
	}

	WriteJSON(w, http.StatusOK, report)
}

func (h *SessionHandler) storeError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Session not found")
		return
	}
	WriteError(w, http.StatusInternalServerError, message)
}
