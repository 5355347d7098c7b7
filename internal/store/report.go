package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Report is the JSON export of one session.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Session     ReportSession      `json:"session"`
	Detections  []*DetectionRecord `json:"detections"`
	Summary     ReportSummary      `json:"summary"`
}

// ReportSession summarizes the session a report covers. Duration is in
// seconds.
type ReportSession struct {
	ID              string     `json:"id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	Duration        float64    `json:"duration"`
	TotalFrames     int64      `json:"total_frames"`
	TotalDetections int64      `json:"total_detections"`
	AvgFPS          float64    `json:"avg_fps"`
}

// ReportSummary holds the detection histograms.
type ReportSummary struct {
	ByClass    map[string]int64 `json:"by_class"`
	BySeverity map[string]int64 `json:"by_severity"`
	Total      int64            `json:"total"`
}

// BuildReport assembles the report for a session.
func (s *Store) BuildReport(sessionID string) (*Report, error) {
	sess, err := s.Sessions().GetByID(sessionID)
	if err != nil {
		return nil, err
	}

	detections := s.Detections()
	records, err := detections.ListBySession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	byClass, err := detections.CountByClass(sessionID)
	if err != nil {
		return nil, fmt.Errorf("count by class: %w", err)
	}
	bySeverity, err := detections.CountBySeverity(sessionID)
	if err != nil {
		return nil, fmt.Errorf("count by severity: %w", err)
	}

	rs := ReportSession{
		ID:              sess.ID,
		StartTime:       sess.StartTime,
		EndTime:         sess.EndTime.Ptr(),
		Duration:        sess.Duration().Seconds(),
		TotalFrames:     sess.TotalFrames,
		TotalDetections: sess.TotalDetections,
		AvgFPS:          sess.AvgFPS,
	}
	// Open sessions have no finalized count yet.
	if !sess.EndTime.Valid {
		rs.TotalDetections = int64(len(records))
	}

	return &Report{
		GeneratedAt: time.Now(),
		Session:     rs,
		Detections:  records,
		Summary: ReportSummary{
			ByClass:    byClass,
			BySeverity: bySeverity,
			Total:      int64(len(records)),
		},
	}, nil
}

// ExportReport writes the session report as report_<YYYYmmdd_HHMMSS>.json
// in dir and returns the file path.
func (s *Store) ExportReport(sessionID, dir string) (string, error) {
	report, err := s.BuildReport(sessionID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	path := filepath.Join(dir, "report_"+report.GeneratedAt.Format("20060102_150405")+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	return path, nil
}
