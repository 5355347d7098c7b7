package detector

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Domain is the numeric type a model expects on its input.
type Domain string

const (
	DomainFloat32 Domain = "float32"
	DomainUint8   Domain = "uint8"
	DomainInt8    Domain = "int8"
)

// InputSpec is a model's fixed input shape and numeric domain.
type InputSpec struct {
	Width     int
	Height    int
	Domain    Domain
	ZeroPoint int // int8 only
}

func (s InputSpec) validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid model input size %dx%d", s.Width, s.Height)
	}
	switch s.Domain {
	case DomainFloat32, DomainUint8, DomainInt8:
		return nil
	default:
		return fmt.Errorf("unsupported model input domain %q", s.Domain)
	}
}

// Tensor is a preprocessed HWC RGB input. Float holds float32 data;
// Bytes holds uint8 data or int8 data as two's complement.
type Tensor struct {
	Domain Domain
	Width  int
	Height int
	Float  []float32
	Bytes  []byte
}

// NewTensor resizes an RGB frame to the model input and converts it to the
// model's domain.
func NewTensor(rgb gocv.Mat, spec InputSpec) (Tensor, error) {
	if rgb.Empty() {
		return Tensor{}, fmt.Errorf("empty frame")
	}
	if rgb.Type() != gocv.MatTypeCV8UC3 {
		return Tensor{}, fmt.Errorf("unsupported frame type %v", rgb.Type())
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(rgb, &resized, image.Pt(spec.Width, spec.Height), 0, 0, gocv.InterpolationLinear)

	return Preprocess(resized.ToBytes(), spec)
}

// Preprocess converts packed 8-bit RGB pixels of spec's size to a Tensor.
func Preprocess(pixels []byte, spec InputSpec) (Tensor, error) {
	if want := spec.Width * spec.Height * 3; len(pixels) != want {
		return Tensor{}, fmt.Errorf("pixel buffer has %d bytes, want %d", len(pixels), want)
	}

	t := Tensor{Domain: spec.Domain, Width: spec.Width, Height: spec.Height}
	switch spec.Domain {
	case DomainFloat32:
		t.Float = make([]float32, len(pixels))
		for i, p := range pixels {
			t.Float[i] = float32(p) / 255
		}
	case DomainUint8:
		t.Bytes = make([]byte, len(pixels))
		copy(t.Bytes, pixels)
	case DomainInt8:
		t.Bytes = make([]byte, len(pixels))
		for i, p := range pixels {
			t.Bytes[i] = byte(int8(clampInt(int(p)-spec.ZeroPoint, -128, 127)))
		}
	default:
		return Tensor{}, fmt.Errorf("unsupported model input domain %q", spec.Domain)
	}
	return t, nil
}
