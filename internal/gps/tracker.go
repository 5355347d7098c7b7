package gps

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// NoFix is returned by FixAge when no fix has ever been received.
const NoFix = time.Duration(math.MaxInt64)

// maxLineLength bounds a single sentence; NMEA allows 82 bytes.
const maxLineLength = 256

var (
	// ErrAlreadyStarted is returned by Start on a running tracker.
	ErrAlreadyStarted = errors.New("gps tracker already started")
	// ErrJoinTimeout is returned by Stop when the reader does not exit in time.
	ErrJoinTimeout = errors.New("gps reader did not stop in time")
)

// Fix is a fused GGA+RMC position.
type Fix struct {
	Timestamp  time.Time `json:"timestamp"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	Speed      float64   `json:"speed"`
	Satellites int       `json:"satellites"`
	FixQuality int       `json:"fix_quality"`
}

// Device opens a stream of newline-delimited NMEA sentences.
type Device interface {
	Open() (io.ReadCloser, error)
}

// Config tunes a Tracker.
type Config struct {
	HistorySize     int
	StalenessWindow time.Duration // 0 keeps partials forever
	JoinTimeout     time.Duration
	ReadBackoff     time.Duration
}

// Tracker owns a GPS device and publishes the latest fix.
//
// The reader goroutine is the single writer of the current fix; any number
// of goroutines may call Current, HasFix, FixAge and History.
type Tracker struct {
	device Device
	cfg    Config
	now    func() time.Time

	current  atomic.Pointer[Fix]
	fixCount atomic.Uint64

	histMu  sync.Mutex
	history []Fix
	head    int
	size    int

	// owned by the reader goroutine
	gga   *GGA
	ggaAt time.Time
	rmc   *RMC
	rmcAt time.Time

	runMu    sync.Mutex
	stream   io.ReadCloser
	stopping atomic.Bool
	done     chan struct{}
}

// NewTracker creates a tracker for the given device.
func NewTracker(device Device, cfg Config) *Tracker {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 2 * time.Second
	}
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = 100 * time.Millisecond
	}
	return &Tracker{
		device:  device,
		cfg:     cfg,
		now:     time.Now,
		history: make([]Fix, cfg.HistorySize),
	}
}

// Start opens the device and spawns the reader goroutine.
func (t *Tracker) Start() error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.done != nil {
		return ErrAlreadyStarted
	}

	stream, err := t.device.Open()
	if err != nil {
		return fmt.Errorf("open gps device: %w", err)
	}

	t.stream = stream
	t.stopping.Store(false)
	t.done = make(chan struct{})
	go t.run(stream, t.done)

	slog.Info("gps tracker started")
	return nil
}

// Stop closes the device and waits for the reader goroutine to exit.
func (t *Tracker) Stop() error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.done == nil {
		return nil
	}

	t.stopping.Store(true)
	closeErr := t.stream.Close()

	var joinErr error
	select {
	case <-t.done:
	case <-time.After(t.cfg.JoinTimeout):
		joinErr = ErrJoinTimeout
	}

	t.done = nil
	t.stream = nil

	slog.Info("gps tracker stopped", "fixes", t.FixCount())
	return errors.Join(joinErr, closeErr)
}

func (t *Tracker) run(stream io.Reader, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 128)
	line := make([]byte, 0, maxLineLength)
	overflow := false

	for !t.stopping.Load() {
		n, err := stream.Read(buf)
		for _, b := range buf[:n] {
			switch {
			case b == '\n':
				if !overflow {
					t.handleLine(string(line))
				}
				line = line[:0]
				overflow = false
			case overflow:
			case len(line) >= maxLineLength:
				overflow = true
				line = line[:0]
			default:
				line = append(line, b)
			}
		}

		if err == nil {
			continue
		}
		if t.stopping.Load() {
			return
		}
		if errors.Is(err, io.EOF) {
			slog.Info("gps stream ended")
			return
		}
		slog.Warn("gps read failed", "error", err)
		time.Sleep(t.cfg.ReadBackoff)
	}
}

// handleLine feeds one sentence into the fusion state.
func (t *Tracker) handleLine(line string) {
	s := Parse(strings.TrimSpace(line))
	now := t.now()

	switch s.Kind {
	case SentenceGGA:
		t.gga, t.ggaAt = s.GGA, now
	case SentenceRMC:
		t.rmc, t.rmcAt = s.RMC, now
	default:
		return
	}

	if !s.Accepted() || t.gga == nil || t.rmc == nil {
		return
	}
	if w := t.cfg.StalenessWindow; w > 0 && (now.Sub(t.ggaAt) > w || now.Sub(t.rmcAt) > w) {
		return
	}

	t.publish(Fix{
		Timestamp:  now,
		Latitude:   t.gga.Latitude,
		Longitude:  t.gga.Longitude,
		Altitude:   t.gga.Altitude,
		Speed:      t.rmc.Speed,
		Satellites: t.gga.Satellites,
		FixQuality: t.gga.FixQuality,
	})
}

func (t *Tracker) publish(fix Fix) {
	t.current.Store(&fix)
	t.fixCount.Add(1)

	t.histMu.Lock()
	capacity := len(t.history)
	t.history[(t.head+t.size)%capacity] = fix
	if t.size < capacity {
		t.size++
	} else {
		t.head = (t.head + 1) % capacity
	}
	t.histMu.Unlock()
}

// Current returns the latest fix without blocking.
func (t *Tracker) Current() (Fix, bool) {
	f := t.current.Load()
	if f == nil {
		return Fix{}, false
	}
	return *f, true
}

// HasFix reports whether a current fix with non-zero quality exists.
func (t *Tracker) HasFix() bool {
	f := t.current.Load()
	return f != nil && f.FixQuality > 0
}

// FixAge returns the time since the last fix, or NoFix.
func (t *Tracker) FixAge() time.Duration {
	f := t.current.Load()
	if f == nil {
		return NoFix
	}
	return t.now().Sub(f.Timestamp)
}

// FixCount returns the number of fixes emitted so far.
func (t *Tracker) FixCount() uint64 {
	return t.fixCount.Load()
}

// History returns the retained fixes, oldest first.
func (t *Tracker) History() []Fix {
	t.histMu.Lock()
	defer t.histMu.Unlock()

	out := make([]Fix, t.size)
	for i := range out {
		out[i] = t.history[(t.head+i)%len(t.history)]
	}
	return out
}
