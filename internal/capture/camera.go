// Package capture delivers camera frames to the survey pipeline.
//
// A Camera produces BGR frames one at a time; a FrameSource runs it on a
// goroutine, converts each frame to RGB and buffers it in a bounded queue.
package capture

import (
	"errors"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 10
	DefaultWidth  = 1280
	DefaultHeight = 720
)

var (
	// ErrCameraNotOpen is returned when reading from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrReadFailed is returned when the device yields no image.
	ErrReadFailed = errors.New("camera read failed")
)

// Camera is a frame producer. ReadFrame returns BGR frames; the caller
// closes them.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
	// SelfPaced reports whether ReadFrame blocks until the device delivers
	// the next frame, so the reader need not sleep between frames.
	SelfPaced() bool
}

// deviceCamera reads from a V4L2/OpenCV capture device.
type deviceCamera struct {
	device int

	mu      sync.Mutex
	vc      *gocv.VideoCapture
	width   int
	height  int
	fps     int
	failed  uint64 // consecutive failed reads
	running bool
}

// NewCamera creates a Camera for a capture device. Non-positive settings
// fall back to the defaults.
func NewCamera(device, width, height, fps int) Camera {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &deviceCamera{device: device, width: width, height: height, fps: fps}
}

// Open opens the device and requests the configured resolution and rate.
// The driver may negotiate another size; frames carry their own.
func (c *deviceCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	vc, err := gocv.OpenVideoCapture(c.device)
	if err != nil {
		return err
	}
	if !vc.IsOpened() {
		vc.Close()
		return ErrCameraNotOpen
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	vc.Set(gocv.VideoCaptureFPS, float64(c.fps))

	slog.Info("camera opened",
		"device", c.device,
		"requested", []int{c.width, c.height, c.fps},
		"width", int(vc.Get(gocv.VideoCaptureFrameWidth)),
		"height", int(vc.Get(gocv.VideoCaptureFrameHeight)),
		"fps", vc.Get(gocv.VideoCaptureFPS))

	c.vc = vc
	c.failed = 0
	c.running = true
	return nil
}

// Close releases the device. Closing a closed camera is a no-op.
func (c *deviceCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running = false
	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.vc = nil
	return err
}

// ReadFrame blocks for the next device frame.
func (c *deviceCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.vc == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		c.failed++
		if c.failed == 1 {
			slog.Debug("camera returned no image", "device", c.device)
		}
		return nil, ErrReadFailed
	}
	if c.failed > 0 {
		slog.Debug("camera recovered", "device", c.device, "failed_reads", c.failed)
		c.failed = 0
	}
	return &mat, nil
}

// SetFPS changes the requested rate. Non-positive values are ignored.
func (c *deviceCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps
	if c.vc != nil {
		c.vc.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

func (c *deviceCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *deviceCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SelfPaced is true: VideoCapture.Read blocks for the next frame.
func (c *deviceCamera) SelfPaced() bool { return true }
