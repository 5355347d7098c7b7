package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/ayusman/roadscan/internal/capture"
	"github.com/ayusman/roadscan/internal/detector"
	"github.com/ayusman/roadscan/internal/gps"
	"github.com/ayusman/roadscan/internal/store"
)

// Run processes frames until ctx is cancelled, the configured duration
// elapses or the frame limit is reached. Those endings return nil. An
// inference failure ends the run with the error; the caller still calls
// Stop.
//
// Pipeline per frame:
// 1. Wait up to FrameTimeout for a frame; on timeout log and wait again
// 2. Run damage detection
// 3. Attach the latest GPS fix, if any, to every detection
// 4. Persist one record per detection, with evidence images when enabled
// 5. Publish records to sinks and log status every StatusEvery frames
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.SessionID() == "" {
		return ErrNotStarted
	}
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("orchestrator already running")
	}
	defer o.running.Store(false)

	var deadline <-chan time.Time
	if o.cfg.Duration > 0 {
		timer := time.NewTimer(o.cfg.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("run cancelled", "frames", o.frames.Load())
			return nil
		case <-deadline:
			slog.Info("run duration reached", "duration", o.cfg.Duration, "frames", o.frames.Load())
			return nil
		default:
		}

		if o.cfg.MaxFrames > 0 && o.frames.Load() >= int64(o.cfg.MaxFrames) {
			slog.Info("frame limit reached", "frames", o.frames.Load())
			return nil
		}

		frame := o.c.Source.GetFrame(o.cfg.FrameTimeout)
		if frame == nil {
			slog.Warn("no frame received", "timeout", o.cfg.FrameTimeout)
			continue
		}

		err := o.ProcessFrame(frame)
		frame.Close()
		if err != nil {
			return err
		}

		if o.frames.Load()%int64(o.cfg.StatusEvery) == 0 {
			o.reportStatus()
		}
	}
}

// ProcessFrame runs detection on one frame and records the results. The
// caller keeps ownership of frame.
func (o *Orchestrator) ProcessFrame(frame *capture.Frame) error {
	sessionID := o.SessionID()
	if sessionID == "" {
		return ErrNotStarted
	}

	dets, err := o.c.Detector.Detect(frame.Mat)
	if err != nil {
		return fmt.Errorf("frame %d: %w", frame.Seq, err)
	}
	o.frames.Add(1)

	var fix *gps.Fix
	if o.trackerUp.Load() {
		if f, ok := o.c.Tracker.Current(); ok {
			fix = &f
		}
	}

	repo := o.c.Store.Detections()
	for _, det := range dets {
		n := o.detections.Add(1)
		rec := NewRecord(sessionID, frame.Timestamp, det, fix)

		if o.c.Artifacts != nil {
			path, err := o.c.Artifacts.Save(frame.Mat, det, frame.Timestamp, int(n))
			if err != nil {
				slog.Warn("detection image not saved", "class", det.ClassName, "error", err)
			} else {
				rec.ImagePath = null.StringFrom(path)
			}
		}

		if err := repo.Insert(rec); err != nil {
			slog.Error("detection not persisted", "class", det.ClassName, "error", err)
			continue
		}

		slog.Info("damage detected",
			"class", det.ClassName,
			"severity", det.Severity,
			"confidence", fmt.Sprintf("%.2f", det.Confidence),
			"located", fix != nil)

		for _, sink := range o.c.Sinks {
			if err := sink.PublishDetection(sessionID, rec); err != nil {
				slog.Warn("detection not published", "error", err)
			}
		}
	}

	if o.c.Preview != nil {
		if err := o.c.Preview.Update(frame.Mat, dets); err != nil {
			slog.Debug("preview not updated", "error", err)
		}
	}

	return nil
}

// NewRecord fuses a detection with the fix current at capture time. A nil
// fix leaves the location fields null.
func NewRecord(sessionID string, at time.Time, det detector.Detection, fix *gps.Fix) *store.DetectionRecord {
	rec := &store.DetectionRecord{
		SessionID:      sessionID,
		ClassID:        det.ClassID,
		ClassName:      det.ClassName,
		Confidence:     det.Confidence,
		Severity:       string(det.Severity),
		BBoxXMin:       det.BBox.XMin,
		BBoxYMin:       det.BBox.YMin,
		BBoxXMax:       det.BBox.XMax,
		BBoxYMax:       det.BBox.YMax,
		AreaPercentage: det.AreaFraction,
	}
	rec.SetTime(at)

	if fix != nil {
		rec.Latitude = null.FloatFrom(fix.Latitude)
		rec.Longitude = null.FloatFrom(fix.Longitude)
		rec.Altitude = null.FloatFrom(fix.Altitude)
		rec.GPSFixQuality = null.IntFrom(int64(fix.FixQuality))
	}
	return rec
}
