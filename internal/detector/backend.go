package detector

import (
	"fmt"

	"github.com/ayusman/roadscan/internal/config"
)

// OutputKind is the output convention a backend declares at load time.
type OutputKind int

const (
	// OutputObjects is a resolved object list in source-image pixels.
	OutputObjects OutputKind = iota
	// OutputRaw is a raw [attributes x candidates] score tensor.
	OutputRaw
	// OutputBoxes is the four-tensor SSD layout.
	OutputBoxes
)

func (k OutputKind) String() string {
	switch k {
	case OutputObjects:
		return "objects"
	case OutputRaw:
		return "raw"
	case OutputBoxes:
		return "boxes"
	default:
		return fmt.Sprintf("OutputKind(%d)", int(k))
	}
}

// Request is one inference call.
type Request struct {
	Tensor       Tensor
	SourceWidth  int
	SourceHeight int
	Threshold    float64
}

// Object is a detection already resolved by the backend, in source pixels.
type Object struct {
	ClassID int
	Score   float64
	XMin    float64
	YMin    float64
	XMax    float64
	YMax    float64
}

// RawOutput is a row-major [Attributes x Candidates] tensor. Rows 0-3 are
// cx, cy, w, h in model-input pixels; the remaining rows are class scores.
type RawOutput struct {
	Data       []float32
	Attributes int
	Candidates int
}

// BoxesOutput is the SSD post-processed layout: normalised
// (ymin, xmin, ymax, xmax) boxes, class ids, scores and a valid count.
type BoxesOutput struct {
	Boxes   [][4]float32
	Classes []float32
	Scores  []float32
	Count   int
}

// Output holds the field matching the backend's OutputKind.
type Output struct {
	Objects []Object
	Raw     *RawOutput
	Boxes   *BoxesOutput
}

// Backend runs a loaded model on an accelerator or CPU.
type Backend interface {
	// Spec returns the model's input shape and domain.
	Spec() InputSpec
	// Kind returns the output convention of Invoke.
	Kind() OutputKind
	// Invoke runs exactly one inference.
	Invoke(req Request) (Output, error)
	// Close releases the model.
	Close() error
}

// OpenBackend loads the backend selected by cfg. Load failures are returned
// so startup can abort.
func OpenBackend(cfg config.DetectorConfig, classes int) (Backend, error) {
	spec := InputSpec{
		Width:     cfg.InputWidth,
		Height:    cfg.InputHeight,
		Domain:    Domain(cfg.InputType),
		ZeroPoint: cfg.ZeroPoint,
	}

	switch cfg.Backend {
	case config.BackendDNN:
		return NewDNNBackend(cfg.ModelPath, cfg.ConfigPath, spec)
	case config.BackendCoral:
		return NewCoralBackend(cfg.HelperCommand, cfg.HelperArgs, cfg.ModelPath)
	case config.BackendSynthetic:
		return NewSyntheticBackend(spec, classes, cfg.SyntheticRate, cfg.Seed), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}
