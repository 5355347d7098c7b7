// Package app provides the survey orchestrator that drives the capture,
// detect, locate and persist loop.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/roadscan/internal/artifact"
	"github.com/ayusman/roadscan/internal/capture"
	"github.com/ayusman/roadscan/internal/config"
	"github.com/ayusman/roadscan/internal/detector"
	"github.com/ayusman/roadscan/internal/gps"
	"github.com/ayusman/roadscan/internal/store"
)

var (
	// ErrNotStarted is returned by Run before a successful Start.
	ErrNotStarted = errors.New("orchestrator not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("orchestrator already started")
)

// FrameSource produces RGB frames. *capture.FrameSource implements it.
type FrameSource interface {
	Start() error
	Stop() error
	GetFrame(timeout time.Duration) *capture.Frame
	FPS() float64
	Captured() uint64
	Dropped() uint64
}

// PositionTracker reports the latest GPS fix. *gps.Tracker implements it.
type PositionTracker interface {
	Start() error
	Stop() error
	Current() (gps.Fix, bool)
	FixAge() time.Duration
}

// DamageDetector finds damage in a frame. *detector.Detector implements it.
type DamageDetector interface {
	Detect(frame gocv.Mat) ([]detector.Detection, error)
	FPS() float64
	AvgLatency() time.Duration
	Close() error
}

// Components are the collaborators an Orchestrator drives. Source,
// Detector and Store are required.
type Components struct {
	Source    FrameSource
	Tracker   PositionTracker
	Detector  DamageDetector
	Store     *store.Store
	Artifacts *artifact.Writer
	Preview   *artifact.Preview
	Sinks     []Sink
}

// Orchestrator owns one survey session.
type Orchestrator struct {
	cfg config.PipelineConfig
	c   Components

	mu         sync.Mutex
	session    *store.Session
	started    time.Time
	stopped    bool
	trackerUp  atomic.Bool
	running    atomic.Bool
	frames     atomic.Int64
	detections atomic.Int64
}

// New validates the components and returns an idle orchestrator.
func New(cfg config.PipelineConfig, c Components) (*Orchestrator, error) {
	if c.Source == nil {
		return nil, errors.New("frame source is required")
	}
	if c.Detector == nil {
		return nil, errors.New("detector is required")
	}
	if c.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 2 * time.Second
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = 10
	}
	return &Orchestrator{cfg: cfg, c: c}, nil
}

// Start starts the frame source and tracker and opens a session. A source
// failure is fatal; a tracker failure only disables positioning. After a
// failed Start the detector is closed and the orchestrator cannot be reused.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session != nil {
		return ErrAlreadyStarted
	}

	if err := o.c.Source.Start(); err != nil {
		o.c.Detector.Close()
		return fmt.Errorf("start frame source: %w", err)
	}

	o.trackerUp.Store(false)
	if o.c.Tracker != nil {
		if err := o.c.Tracker.Start(); err != nil {
			slog.Warn("gps unavailable, continuing without positions", "error", err)
		} else {
			o.trackerUp.Store(true)
		}
	}

	started := time.Now()
	session, err := o.c.Store.Sessions().Create(started)
	if err != nil {
		o.releaseLocked()
		return fmt.Errorf("create session: %w", err)
	}

	o.session = session
	o.started = started
	o.stopped = false
	o.frames.Store(0)
	o.detections.Store(0)

	slog.Info("survey session started", "session", session.ID, "gps", o.trackerUp.Load())
	return nil
}

// SessionID returns the current session id, or "" before Start.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ""
	}
	return o.session.ID
}

// Stop finalizes the session and releases components in reverse order of
// acquisition. Join timeouts and close errors are returned joined.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil || o.stopped {
		return nil
	}
	o.stopped = true

	var errs []error

	end := time.Now()
	totals := store.SessionTotals{
		Frames:     o.frames.Load(),
		Detections: o.detections.Load(),
		AvgFPS:     rate(o.frames.Load(), end.Sub(o.started)),
	}
	if err := o.c.Store.Sessions().Finalize(o.session.ID, end, totals); err != nil {
		errs = append(errs, fmt.Errorf("finalize session: %w", err))
	}

	st := o.statusLocked()
	for _, sink := range o.c.Sinks {
		if err := sink.PublishStatus(o.session.ID, st); err != nil {
			slog.Warn("final status not published", "error", err)
		}
	}

	if err := o.releaseLocked(); err != nil {
		errs = append(errs, err)
	}

	slog.Info("survey session stopped",
		"session", o.session.ID,
		"frames", totals.Frames,
		"detections", totals.Detections,
		"avg_fps", fmt.Sprintf("%.1f", totals.AvgFPS))

	return errors.Join(errs...)
}

func (o *Orchestrator) releaseLocked() error {
	var errs []error
	if o.trackerUp.Swap(false) {
		if err := o.c.Tracker.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop gps: %w", err))
		}
	}
	if err := o.c.Detector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close detector: %w", err))
	}
	if err := o.c.Source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop frame source: %w", err))
	}
	return errors.Join(errs...)
}

func rate(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
