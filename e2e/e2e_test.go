package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/roadscan/internal/app"
	"github.com/ayusman/roadscan/internal/artifact"
	"github.com/ayusman/roadscan/internal/capture"
	"github.com/ayusman/roadscan/internal/config"
	"github.com/ayusman/roadscan/internal/detector"
	"github.com/ayusman/roadscan/internal/gps"
	"github.com/ayusman/roadscan/internal/server"
	"github.com/ayusman/roadscan/internal/store"
	"github.com/ayusman/roadscan/testdata"
)

const (
	surveyFrames = 100
	surveyHits   = 37
)

// spreadHits reports one pothole on exactly hits of the first frames calls,
// spread evenly across the run.
func spreadHits(hits, frames int) *detector.MockBackend {
	b := detector.NewMockBackend(detector.InputSpec{Width: 32, Height: 32, Domain: detector.DomainFloat32}, detector.OutputObjects)
	b.SetFunc(func(call int, req detector.Request) (detector.Output, error) {
		if call >= frames || call*hits/frames == (call+1)*hits/frames {
			return detector.Output{}, nil
		}
		return detector.Output{Objects: []detector.Object{{
			ClassID: 3, Score: 0.9, XMin: 0, YMin: 0, XMax: 32, YMax: 24,
		}}}, nil
	})
	return b
}

func getJSON(t *testing.T, client *http.Client, url string, v any) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d, want %d", url, resp.StatusCode, http.StatusOK)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("GET %s decode error = %v", url, err)
	}
}

func TestE2E_SurveyRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()

	s, err := store.New(filepath.Join(tmpDir, "road_damage.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	frame := testdata.SolidFrame(64, 48, 40, 40, 40)
	defer frame.Close()
	cam := capture.NewMockCamera([]*gocv.Mat{frame}, true)
	cam.SetFPS(500)

	backend := spreadHits(surveyHits, surveyFrames)
	det, err := detector.New(backend, detector.DefaultConfig())
	if err != nil {
		t.Fatalf("detector.New() error = %v", err)
	}

	writer, err := artifact.NewWriter(filepath.Join(tmpDir, "detections"), true)
	if err != nil {
		t.Fatalf("artifact.NewWriter() error = %v", err)
	}

	hub := server.NewHub()
	preview := artifact.NewPreview()

	orch, err := app.New(config.PipelineConfig{
		FrameTimeout: time.Second,
		StatusEvery:  10,
		MaxFrames:    surveyFrames,
	}, app.Components{
		Source:    capture.NewFrameSource(cam, capture.SourceConfig{QueueSize: 8}),
		Tracker:   gps.NewTracker(gps.SyntheticDevice{Rate: 10 * time.Millisecond}, gps.Config{}),
		Detector:  det,
		Store:     s,
		Artifacts: writer,
		Preview:   preview,
		Sinks:     []app.Sink{hub},
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}

	srv := server.New(server.Config{Store: s, Status: orch, Hub: hub, Preview: preview})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := ts.Client()

	if err := orch.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sessionID := orch.SessionID()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orch.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := orch.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if backend.Calls() != surveyFrames {
		t.Errorf("inference calls = %d, want %d", backend.Calls(), surveyFrames)
	}

	t.Run("DetectionRows", func(t *testing.T) {
		n, err := s.Detections().CountBySession(sessionID)
		if err != nil {
			t.Fatal(err)
		}
		if n != surveyHits {
			t.Errorf("persisted rows = %d, want %d", n, surveyHits)
		}
	})

	t.Run("SessionTotals", func(t *testing.T) {
		var resp struct {
			ID              string  `json:"id"`
			EndTime         *string `json:"end_time"`
			TotalFrames     int64   `json:"total_frames"`
			TotalDetections int64   `json:"total_detections"`
		}
		getJSON(t, client, ts.URL+"/api/sessions/"+sessionID, &resp)

		if resp.TotalFrames != surveyFrames {
			t.Errorf("total_frames = %d, want %d", resp.TotalFrames, surveyFrames)
		}
		if resp.TotalDetections != surveyHits {
			t.Errorf("total_detections = %d, want %d", resp.TotalDetections, surveyHits)
		}
		if resp.EndTime == nil {
			t.Error("session has no end_time")
		}
	})

	t.Run("DetectionLog", func(t *testing.T) {
		var resp struct {
			Count      int `json:"count"`
			Detections []struct {
				ClassName string `json:"class_name"`
				Severity  string `json:"severity"`
				ImagePath string `json:"image_path"`
			} `json:"detections"`
		}
		getJSON(t, client, ts.URL+"/api/sessions/"+sessionID+"/detections", &resp)

		if resp.Count != surveyHits || len(resp.Detections) != surveyHits {
			t.Fatalf("count = %d (%d rows), want %d", resp.Count, len(resp.Detections), surveyHits)
		}
		for _, d := range resp.Detections {
			if d.ClassName != "pothole" {
				t.Errorf("class_name = %q, want pothole", d.ClassName)
			}
			if d.ImagePath == "" {
				t.Error("detection has no image_path")
			}
		}
	})

	t.Run("Report", func(t *testing.T) {
		var report store.Report
		getJSON(t, client, ts.URL+"/api/sessions/"+sessionID+"/report", &report)

		if report.Summary.Total != surveyHits {
			t.Errorf("summary total = %d, want %d", report.Summary.Total, surveyHits)
		}
		if report.Summary.ByClass["pothole"] != surveyHits {
			t.Errorf("by_class = %v", report.Summary.ByClass)
		}
	})

	t.Run("Artifacts", func(t *testing.T) {
		entries, err := os.ReadDir(writer.Dir())
		if err != nil {
			t.Fatal(err)
		}
		var images, crops int
		for _, e := range entries {
			switch {
			case strings.HasPrefix(e.Name(), "crop_"):
				crops++
			case strings.HasSuffix(e.Name(), ".jpg"):
				images++
			}
		}
		if images != surveyHits || crops != surveyHits {
			t.Errorf("images = %d, crops = %d, want %d each", images, crops, surveyHits)
		}
	})

	t.Run("Status", func(t *testing.T) {
		var st app.Status
		getJSON(t, client, ts.URL+"/api/status", &st)

		if st.SessionID != sessionID {
			t.Errorf("session_id = %q, want %q", st.SessionID, sessionID)
		}
		if st.Running {
			t.Error("status reports running after Stop")
		}
		if st.Frames != surveyFrames || st.Detections != surveyHits {
			t.Errorf("status frames = %d, detections = %d", st.Frames, st.Detections)
		}
	})

	t.Run("ExportReport", func(t *testing.T) {
		path, err := s.ExportReport(sessionID, tmpDir)
		if err != nil {
			t.Fatalf("ExportReport() error = %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		var report store.Report
		if err := json.Unmarshal(data, &report); err != nil {
			t.Fatalf("report is not valid JSON: %v", err)
		}
		if report.Session.TotalFrames != surveyFrames || len(report.Detections) != surveyHits {
			t.Errorf("exported report: %d frames, %d detections", report.Session.TotalFrames, len(report.Detections))
		}
	})
}
