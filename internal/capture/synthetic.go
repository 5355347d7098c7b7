package capture

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"
)

// SyntheticCamera generates random-noise frames stamped with a running
// counter. It is used for bench runs without a camera attached.
type SyntheticCamera struct {
	width  int
	height int
	seed   int64

	mu      sync.Mutex
	fps     int
	count   int
	running bool
}

// NewSyntheticCamera creates a generator of width x height frames.
func NewSyntheticCamera(width, height, fps int, seed int64) *SyntheticCamera {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &SyntheticCamera{width: width, height: height, fps: fps, seed: seed}
}

func (c *SyntheticCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	gocv.SetRNGSeed(int(c.seed))
	c.running = true
	c.count = 0
	return nil
}

func (c *SyntheticCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

// ReadFrame returns a new BGR noise frame with the frame number drawn on it.
func (c *SyntheticCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMatWithSize(c.height, c.width, gocv.MatTypeCV8UC3)
	gocv.RandU(&mat, gocv.NewScalar(0, 0, 0, 0), gocv.NewScalar(255, 255, 255, 0))
	gocv.PutText(&mat, fmt.Sprintf("Frame %d", c.count), image.Pt(50, 50),
		gocv.FontHersheySimplex, 1, color.RGBA{R: 255, G: 255, B: 255, A: 0}, 2)
	c.count++

	return &mat, nil
}

func (c *SyntheticCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
}

func (c *SyntheticCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *SyntheticCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SelfPaced is false: frames are generated instantly.
func (c *SyntheticCamera) SelfPaced() bool { return false }
