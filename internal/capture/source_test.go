package capture

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/roadscan/testdata"
)

func newMockSource(t *testing.T, cfg SourceConfig) (*FrameSource, *MockCamera) {
	t.Helper()
	// Pure blue in BGR.
	frame := testdata.SolidFrame(64, 48, 255, 0, 0)
	t.Cleanup(func() { frame.Close() })

	cam := NewMockCamera([]*gocv.Mat{frame}, true)
	return NewFrameSource(cam, cfg), cam
}

func TestFrameSource_DeliversRGB(t *testing.T) {
	src, _ := newMockSource(t, SourceConfig{})
	if err := src.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	f := src.GetFrame(2 * time.Second)
	if f == nil {
		t.Fatal("GetFrame() returned nil")
	}
	defer f.Close()

	if f.Width != 64 || f.Height != 48 {
		t.Errorf("frame size = %dx%d, want 64x48", f.Width, f.Height)
	}
	if f.Timestamp.IsZero() {
		t.Error("frame has no timestamp")
	}
	// After BGR to RGB conversion blue is in the last channel.
	px := f.Mat.GetVecbAt(0, 0)
	if px[0] != 0 || px[2] != 255 {
		t.Errorf("pixel = %v, want RGB blue", px)
	}
}

func TestFrameSource_SequenceIncreases(t *testing.T) {
	src, cam := newMockSource(t, SourceConfig{})
	cam.SetFPS(200)
	if err := src.Start(); err != nil {
		t.Fatal(err)
	}
	defer src.Stop()

	var last int64 = -1
	for i := 0; i < 5; i++ {
		f := src.GetFrame(2 * time.Second)
		if f == nil {
			t.Fatalf("GetFrame() %d returned nil", i)
		}
		if int64(f.Seq) <= last {
			t.Errorf("Seq %d after %d", f.Seq, last)
		}
		last = int64(f.Seq)
		f.Close()
	}
}

func TestFrameSource_DropsNewestWhenFull(t *testing.T) {
	src, cam := newMockSource(t, SourceConfig{QueueSize: 3})
	cam.SetSelfPaced(true)
	if err := src.Start(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if src.Dropped() == 0 {
		t.Fatal("no frames dropped with an idle consumer")
	}
	if q := src.Queued(); q != 3 {
		t.Errorf("Queued() = %d, want 3", q)
	}

	// The oldest frames survive.
	f := src.GetFrame(time.Second)
	if f == nil {
		t.Fatal("GetFrame() returned nil")
	}
	if f.Seq != 0 {
		t.Errorf("first frame Seq = %d, want 0", f.Seq)
	}
	f.Close()

	if err := src.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if src.Queued() != 0 {
		t.Errorf("Queued() after Stop = %d, want 0", src.Queued())
	}
	if src.Captured() < src.Dropped() {
		t.Errorf("Captured() %d < Dropped() %d", src.Captured(), src.Dropped())
	}
}

func TestFrameSource_GetFrameTimeout(t *testing.T) {
	src, _ := newMockSource(t, SourceConfig{})

	start := time.Now()
	if f := src.GetFrame(50 * time.Millisecond); f != nil {
		t.Error("GetFrame() on idle source returned a frame")
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("GetFrame() returned after %v", elapsed)
	}
}

func TestFrameSource_RecoversFromReadErrors(t *testing.T) {
	src, cam := newMockSource(t, SourceConfig{ReadBackoff: time.Millisecond})
	cam.FailNext(3)
	if err := src.Start(); err != nil {
		t.Fatal(err)
	}
	defer src.Stop()

	f := src.GetFrame(2 * time.Second)
	if f == nil {
		t.Fatal("no frame after transient read errors")
	}
	f.Close()
	if cam.Reads() < 4 {
		t.Errorf("Reads() = %d, want at least 4", cam.Reads())
	}
}

func TestFrameSource_OpenFailure(t *testing.T) {
	src, cam := newMockSource(t, SourceConfig{})
	openErr := errors.New("no such device")
	cam.SetOpenError(openErr)

	if err := src.Start(); !errors.Is(err, openErr) {
		t.Errorf("Start() error = %v, want %v", err, openErr)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("Stop() on failed source error = %v", err)
	}
}

func TestFrameSource_DoubleStart(t *testing.T) {
	src, _ := newMockSource(t, SourceConfig{})
	if err := src.Start(); err != nil {
		t.Fatal(err)
	}
	defer src.Stop()

	if err := src.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestFrameSource_StopClosesCamera(t *testing.T) {
	src, cam := newMockSource(t, SourceConfig{})
	if err := src.Start(); err != nil {
		t.Fatal(err)
	}
	if !cam.IsOpen() {
		t.Fatal("camera not opened by Start()")
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if cam.IsOpen() {
		t.Error("camera still open after Stop()")
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

// stuckCamera blocks in ReadFrame until released.
type stuckCamera struct {
	release chan struct{}
	open    atomic.Bool
}

func (c *stuckCamera) Open() error  { c.open.Store(true); return nil }
func (c *stuckCamera) Close() error { c.open.Store(false); return nil }
func (c *stuckCamera) ReadFrame() (*gocv.Mat, error) {
	<-c.release
	return nil, ErrCameraNotOpen
}
func (c *stuckCamera) SetFPS(int)      {}
func (c *stuckCamera) FPS() int        { return 10 }
func (c *stuckCamera) IsOpen() bool    { return c.open.Load() }
func (c *stuckCamera) SelfPaced() bool { return true }

func TestFrameSource_JoinTimeout(t *testing.T) {
	cam := &stuckCamera{release: make(chan struct{})}
	released := false
	defer func() {
		if !released {
			close(cam.release)
		}
	}()

	src := NewFrameSource(cam, SourceConfig{JoinTimeout: 50 * time.Millisecond})
	if err := src.Start(); err != nil {
		t.Fatal(err)
	}

	if err := src.Stop(); !errors.Is(err, ErrJoinTimeout) {
		t.Errorf("Stop() error = %v, want ErrJoinTimeout", err)
	}
	if !cam.IsOpen() {
		t.Error("camera closed while capture goroutine still owns it")
	}

	// The abandoned goroutine must not become a second producer.
	if err := src.Start(); !errors.Is(err, ErrCaptureBusy) {
		t.Errorf("Start() after join timeout error = %v, want ErrCaptureBusy", err)
	}

	close(cam.release)
	released = true

	src.cfg.JoinTimeout = 2 * time.Second
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if cam.IsOpen() {
		t.Error("camera still open after the goroutine exited")
	}
}

func TestFrameSource_RestartAfterLateExit(t *testing.T) {
	cam := &stuckCamera{release: make(chan struct{})}
	src := NewFrameSource(cam, SourceConfig{JoinTimeout: 20 * time.Millisecond, ReadBackoff: time.Millisecond})
	if err := src.Start(); err != nil {
		t.Fatal(err)
	}
	if err := src.Stop(); !errors.Is(err, ErrJoinTimeout) {
		t.Fatalf("Stop() error = %v, want ErrJoinTimeout", err)
	}

	close(cam.release)
	deadline := time.Now().Add(2 * time.Second)
	err := src.Start()
	for errors.Is(err, ErrCaptureBusy) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		err = src.Start()
	}
	if err != nil {
		t.Fatalf("Start() after goroutine exit error = %v", err)
	}
	src.cfg.JoinTimeout = 2 * time.Second
	if err := src.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestFrameSource_FPS(t *testing.T) {
	src, cam := newMockSource(t, SourceConfig{})
	if src.FPS() != 0 {
		t.Errorf("FPS() before Start = %v, want 0", src.FPS())
	}
	cam.SetFPS(100)
	if err := src.Start(); err != nil {
		t.Fatal(err)
	}
	defer src.Stop()

	for i := 0; i < 3; i++ {
		if f := src.GetFrame(time.Second); f != nil {
			f.Close()
		}
	}
	if src.FPS() <= 0 {
		t.Errorf("FPS() = %v, want > 0", src.FPS())
	}
}
