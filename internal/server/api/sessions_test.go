package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/roadscan/internal/store"
)

func newTestHandler(t *testing.T) (*SessionHandler, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewSessionHandler(s), s
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSessionHandler_ListEmpty(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(h, http.MethodGet, "/api/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp listSessionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Sessions == nil || len(resp.Sessions) != 0 {
		t.Errorf("sessions = %v, want empty list", resp.Sessions)
	}
}

func TestSessionHandler_Get(t *testing.T) {
	h, s := newTestHandler(t)

	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	sess, err := s.Sessions().Create(start)
	if err != nil {
		t.Fatal(err)
	}
	s.Sessions().Finalize(sess.ID, start.Add(time.Minute), store.SessionTotals{Frames: 600, Detections: 4, AvgFPS: 10})

	rec := do(h, http.MethodGet, "/api/sessions/"+sess.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp sessionResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.ID != sess.ID || resp.TotalFrames != 600 || resp.Duration != 60 {
		t.Errorf("session = %+v", resp)
	}
	if resp.StartTime != "2026-05-01T10:00:00Z" || resp.EndTime == nil || *resp.EndTime != "2026-05-01T10:01:00Z" {
		t.Errorf("times = %s, %v", resp.StartTime, resp.EndTime)
	}
}

func TestSessionHandler_Errors(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown session", http.MethodGet, "/api/sessions/missing", http.StatusNotFound},
		{"unknown session detections", http.MethodGet, "/api/sessions/missing/detections", http.StatusNotFound},
		{"unknown session report", http.MethodGet, "/api/sessions/missing/report", http.StatusNotFound},
		{"unknown subresource", http.MethodGet, "/api/sessions/x/frames", http.StatusNotFound},
		{"post not allowed", http.MethodPost, "/api/sessions", http.StatusMethodNotAllowed},
		{"delete not allowed", http.MethodDelete, "/api/sessions/x", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.method, tt.path)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Error == "" {
				t.Errorf("error body missing: %v", err)
			}
		})
	}
}

func TestSessionHandler_DetectionsEmptySession(t *testing.T) {
	h, s := newTestHandler(t)
	sess, _ := s.Sessions().Create(time.Now())

	rec := do(h, http.MethodGet, "/api/sessions/"+sess.ID+"/detections")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["count"] != float64(0) {
		t.Errorf("count = %v", resp["count"])
	}
	if dets, ok := resp["detections"].([]any); !ok || len(dets) != 0 {
		t.Errorf("detections = %v, want []", resp["detections"])
	}
}
