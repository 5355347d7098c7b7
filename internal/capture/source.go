package capture

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// Source defaults
const (
	DefaultQueueSize   = 30
	DefaultReadBackoff = 100 * time.Millisecond
	DefaultJoinTimeout = 2 * time.Second
)

var (
	// ErrAlreadyStarted is returned by Start on a running source.
	ErrAlreadyStarted = errors.New("frame source already started")
	// ErrJoinTimeout is returned by Stop when the capture goroutine does not
	// exit within the join timeout. The device is left open in that case.
	ErrJoinTimeout = errors.New("capture goroutine did not stop in time")
	// ErrCaptureBusy is returned by Start while a goroutine abandoned by a
	// timed-out Stop is still running.
	ErrCaptureBusy = errors.New("previous capture goroutine still running")
)

// Frame is a captured image in RGB order. The consumer owns it and must
// call Close.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Mat       gocv.Mat
	Width     int
	Height    int
}

// Close releases the image memory.
func (f *Frame) Close() error {
	return f.Mat.Close()
}

// SourceConfig tunes a FrameSource. Zero values select defaults.
type SourceConfig struct {
	QueueSize   int
	ReadBackoff time.Duration
	JoinTimeout time.Duration
}

func (c *SourceConfig) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ReadBackoff <= 0 {
		c.ReadBackoff = DefaultReadBackoff
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
}

// FrameSource runs a capture goroutine that feeds a bounded queue. When
// the queue is full the newest frame is discarded, so a slow consumer
// sees a gap rather than growing latency.
type FrameSource struct {
	camera Camera
	cfg    SourceConfig
	queue  chan *Frame

	captured atomic.Uint64
	dropped  atomic.Uint64
	stopping atomic.Bool

	mu      sync.Mutex
	started time.Time
	done    chan struct{}
}

// NewFrameSource wraps camera. The camera is opened by Start.
func NewFrameSource(camera Camera, cfg SourceConfig) *FrameSource {
	cfg.applyDefaults()
	return &FrameSource{
		camera: camera,
		cfg:    cfg,
		queue:  make(chan *Frame, cfg.QueueSize),
	}
}

// Start opens the camera and begins capturing. After a timed-out Stop it
// fails with ErrCaptureBusy until the old goroutine has exited.
func (s *FrameSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		if !s.stopping.Load() {
			return ErrAlreadyStarted
		}
		select {
		case <-s.done:
			if err := s.releaseLocked(); err != nil {
				slog.Warn("closing camera after late capture exit", "error", err)
			}
		default:
			return ErrCaptureBusy
		}
	}
	if err := s.camera.Open(); err != nil {
		return err
	}

	s.stopping.Store(false)
	s.captured.Store(0)
	s.dropped.Store(0)
	s.started = time.Now()
	s.done = make(chan struct{})

	go s.run(s.done)

	slog.Info("frame source started",
		"fps", s.camera.FPS(),
		"queue", s.cfg.QueueSize,
		"self_paced", s.camera.SelfPaced())
	return nil
}

func (s *FrameSource) run(done chan struct{}) {
	defer close(done)

	var seq uint64
	for !s.stopping.Load() {
		mat, err := s.camera.ReadFrame()
		if err != nil {
			if s.stopping.Load() {
				return
			}
			slog.Warn("frame read failed", "error", err)
			time.Sleep(s.cfg.ReadBackoff)
			continue
		}

		rgb := gocv.NewMat()
		gocv.CvtColor(*mat, &rgb, gocv.ColorBGRToRGB)
		mat.Close()

		frame := &Frame{
			Seq:       seq,
			Timestamp: time.Now(),
			Mat:       rgb,
			Width:     rgb.Cols(),
			Height:    rgb.Rows(),
		}
		seq++
		s.captured.Add(1)

		select {
		case s.queue <- frame:
		default:
			frame.Close()
			s.dropped.Add(1)
		}

		if !s.camera.SelfPaced() {
			if fps := s.camera.FPS(); fps > 0 {
				time.Sleep(time.Second / time.Duration(fps))
			}
		}
	}
}

// GetFrame waits up to timeout for the next frame. It returns nil on
// timeout.
func (s *FrameSource) GetFrame(timeout time.Duration) *Frame {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-s.queue:
		return f
	case <-timer.C:
		return nil
	}
}

// Stop halts capture, releases the camera and discards queued frames.
// It is safe to call on a source that was never started. After
// ErrJoinTimeout a later Stop waits for the goroutine again.
func (s *FrameSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return nil
	}
	s.stopping.Store(true)

	select {
	case <-s.done:
	case <-time.After(s.cfg.JoinTimeout):
		slog.Error("frame source join timed out", "timeout", s.cfg.JoinTimeout)
		return ErrJoinTimeout
	}
	return s.releaseLocked()
}

// releaseLocked closes the camera and drains the queue once the capture
// goroutine has exited.
func (s *FrameSource) releaseLocked() error {
	s.done = nil
	err := s.camera.Close()

	for {
		select {
		case f := <-s.queue:
			f.Close()
		default:
			slog.Info("frame source stopped",
				"captured", s.captured.Load(),
				"dropped", s.dropped.Load())
			return err
		}
	}
}

// Captured returns the number of frames read from the camera.
func (s *FrameSource) Captured() uint64 { return s.captured.Load() }

// Dropped returns the number of frames discarded on a full queue.
func (s *FrameSource) Dropped() uint64 { return s.dropped.Load() }

// Queued returns the number of frames waiting for a consumer.
func (s *FrameSource) Queued() int { return len(s.queue) }

// FPS returns the capture rate since Start.
func (s *FrameSource) FPS() float64 {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if started.IsZero() {
		return 0
	}
	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.captured.Load()) / elapsed
}
