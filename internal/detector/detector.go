// Package detector finds road damage in camera frames.
//
// A Detector wraps one Backend (OpenCV DNN, an accelerator helper process or
// a synthetic generator), prepares the model input, decodes whichever output
// convention the backend declares and grades each detection by severity.
package detector

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrInference is returned when a backend fails on every attempt.
var ErrInference = errors.New("inference failed")

// Config holds detection thresholds and statistics settings.
type Config struct {
	// Confidence is the minimum score a detection must reach (0.0-1.0).
	Confidence float64

	// IoU is the overlap at which NMS suppresses a lower-scoring box.
	IoU float64

	// LatencyWindow is the number of recent calls averaged for FPS.
	LatencyWindow int

	// Retries is the number of extra attempts after a failed inference.
	Retries int

	// Labels names the model's classes; DamageClasses when nil.
	Labels Labels
}

// DefaultConfig returns a Config with the road-damage model defaults.
func DefaultConfig() Config {
	return Config{
		Confidence:    0.5,
		IoU:           0.45,
		LatencyWindow: 100,
		Retries:       1,
		Labels:        DamageClasses,
	}
}

// Detector runs one inference per frame and tracks latency.
type Detector struct {
	backend Backend
	cfg     Config
	spec    InputSpec
	kind    OutputKind

	mu        sync.Mutex
	latencies []time.Duration
	next      int
	filled    int
	calls     uint64
}

// New wraps a loaded backend. An invalid backend input spec is an error.
func New(backend Backend, cfg Config) (*Detector, error) {
	spec := backend.Spec()
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = 100
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Labels == nil {
		cfg.Labels = DamageClasses
	}

	d := &Detector{
		backend:   backend,
		cfg:       cfg,
		spec:      spec,
		kind:      backend.Kind(),
		latencies: make([]time.Duration, cfg.LatencyWindow),
	}

	slog.Info("detector ready",
		"input", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"domain", spec.Domain,
		"output", d.kind,
		"classes", len(cfg.Labels),
	)
	return d, nil
}

// Detect finds damage in an RGB frame. It returns an empty slice when
// nothing passes the confidence threshold.
func (d *Detector) Detect(frame gocv.Mat) ([]Detection, error) {
	width, height := frame.Cols(), frame.Rows()

	tensor, err := NewTensor(frame, d.spec)
	if err != nil {
		return nil, fmt.Errorf("prepare input: %w", err)
	}

	req := Request{
		Tensor:       tensor,
		SourceWidth:  width,
		SourceHeight: height,
		Threshold:    d.cfg.Confidence,
	}

	start := time.Now()

	var out Output
	for attempt := 0; ; attempt++ {
		out, err = d.backend.Invoke(req)
		if err == nil {
			break
		}
		if attempt >= d.cfg.Retries {
			return nil, fmt.Errorf("%w: %w", ErrInference, err)
		}
		slog.Warn("inference failed, retrying", "attempt", attempt+1, "error", err)
	}

	boxes, err := d.decode(out, width, height)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInference, err)
	}
	d.record(time.Since(start))

	detections := make([]Detection, 0, len(boxes))
	for _, b := range boxes {
		detections = append(detections, newDetection(b, d.cfg.Labels, width, height))
	}
	return detections, nil
}

func (d *Detector) decode(out Output, width, height int) ([]Box, error) {
	switch d.kind {
	case OutputObjects:
		return DecodeObjects(out.Objects, d.cfg.Confidence), nil
	case OutputBoxes:
		if out.Boxes == nil {
			return nil, errors.New("backend returned no box tensors")
		}
		return DecodeBoxes(*out.Boxes, d.cfg.Confidence, width, height), nil
	case OutputRaw:
		if out.Raw == nil {
			return nil, errors.New("backend returned no raw tensor")
		}
		return DecodeRaw(*out.Raw, d.cfg.Confidence, d.cfg.IoU, Geometry{
			InputWidth:   d.spec.Width,
			InputHeight:  d.spec.Height,
			SourceWidth:  width,
			SourceHeight: height,
		})
	default:
		return nil, fmt.Errorf("unsupported output kind %v", d.kind)
	}
}

func (d *Detector) record(latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.latencies[d.next] = latency
	d.next = (d.next + 1) % len(d.latencies)
	if d.filled < len(d.latencies) {
		d.filled++
	}
	d.calls++
}

// AvgLatency returns the mean latency over the rolling window.
func (d *Detector) AvgLatency() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filled == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range d.latencies[:d.filled] {
		total += l
	}
	return total / time.Duration(d.filled)
}

// FPS returns the inference rate implied by the average latency.
func (d *Detector) FPS() float64 {
	avg := d.AvgLatency()
	if avg <= 0 {
		return 0
	}
	return float64(time.Second) / float64(avg)
}

// Calls returns the number of successful Detect calls since the last reset.
func (d *Detector) Calls() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// ResetStats clears latency statistics without reloading the model.
func (d *Detector) ResetStats() {
	d.mu.Lock()
	defer d.mu.Unlock()

	clear(d.latencies)
	d.next = 0
	d.filled = 0
	d.calls = 0
}

// Close releases the backend.
func (d *Detector) Close() error {
	return d.backend.Close()
}
