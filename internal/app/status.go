package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ayusman/roadscan/internal/gps"
)

// Status is an aggregate snapshot of a running session. Durations are in
// seconds; FixAge is null without a fix.
type Status struct {
	SessionID      string   `json:"session_id"`
	Running        bool     `json:"running"`
	Elapsed        float64  `json:"elapsed"`
	Frames         int64    `json:"frames"`
	Detections     int64    `json:"detections"`
	CameraFPS      float64  `json:"camera_fps"`
	Captured       uint64   `json:"captured"`
	Dropped        uint64   `json:"dropped"`
	DetectorFPS    float64  `json:"detector_fps"`
	AvgInferenceMs float64  `json:"avg_inference_ms"`
	GPSFix         bool     `json:"gps_fix"`
	FixAge         *float64 `json:"fix_age"`
	Position       *gps.Fix `json:"position,omitempty"`
}

// Status returns the current snapshot. It is safe to call from any
// goroutine.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *Orchestrator) statusLocked() Status {
	st := Status{
		Running:        o.running.Load(),
		Frames:         o.frames.Load(),
		Detections:     o.detections.Load(),
		CameraFPS:      o.c.Source.FPS(),
		Captured:       o.c.Source.Captured(),
		Dropped:        o.c.Source.Dropped(),
		DetectorFPS:    o.c.Detector.FPS(),
		AvgInferenceMs: float64(o.c.Detector.AvgLatency()) / float64(time.Millisecond),
	}
	if o.session != nil {
		st.SessionID = o.session.ID
		st.Elapsed = time.Since(o.started).Seconds()
	}

	if o.trackerUp.Load() {
		if fix, ok := o.c.Tracker.Current(); ok {
			st.GPSFix = true
			st.Position = &fix
			age := o.c.Tracker.FixAge().Seconds()
			st.FixAge = &age
		}
	}
	return st
}

func (o *Orchestrator) reportStatus() {
	st := o.Status()

	attrs := []any{
		"elapsed", fmt.Sprintf("%.1fs", st.Elapsed),
		"frames", st.Frames,
		"detections", st.Detections,
		"camera_fps", fmt.Sprintf("%.1f", st.CameraFPS),
		"detector_fps", fmt.Sprintf("%.1f", st.DetectorFPS),
		"avg_inference_ms", fmt.Sprintf("%.1f", st.AvgInferenceMs),
		"gps_fix", st.GPSFix,
	}
	if st.Position != nil {
		attrs = append(attrs,
			"fix_age", fmt.Sprintf("%.1fs", *st.FixAge),
			"position", fmt.Sprintf("%.6f,%.6f", st.Position.Latitude, st.Position.Longitude))
	}
	slog.Info("status", attrs...)

	for _, sink := range o.c.Sinks {
		if err := sink.PublishStatus(st.SessionID, st); err != nil {
			slog.Warn("status not published", "error", err)
		}
	}
}
