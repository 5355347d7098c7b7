package detector

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// DNNBackend runs an exported detection model (ONNX, TFLite, ...) on the
// CPU with OpenCV's DNN module. The model must emit a single
// [1, 4+classes, candidates] tensor.
type DNNBackend struct {
	net  gocv.Net
	spec InputSpec
	mu   sync.Mutex
}

// NewDNNBackend loads the model. configPath may be empty for
// self-describing formats.
func NewDNNBackend(modelPath, configPath string, spec InputSpec) (*DNNBackend, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	spec.Domain = DomainFloat32
	return &DNNBackend{net: net, spec: spec}, nil
}

func (b *DNNBackend) Spec() InputSpec  { return b.spec }
func (b *DNNBackend) Kind() OutputKind { return OutputRaw }

// Invoke packs the float tensor into an NCHW blob and runs a forward pass.
func (b *DNNBackend) Invoke(req Request) (Output, error) {
	t := req.Tensor
	if t.Domain != DomainFloat32 || len(t.Float) != t.Width*t.Height*3 {
		return Output{}, fmt.Errorf("dnn backend needs a %dx%d float32 tensor", b.spec.Width, b.spec.Height)
	}

	buf := make([]byte, 4*len(t.Float))
	for i, v := range t.Float {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	img, err := gocv.NewMatFromBytes(t.Height, t.Width, gocv.MatTypeCV32FC3, buf)
	if err != nil {
		return Output{}, fmt.Errorf("wrap tensor: %w", err)
	}
	defer img.Close()

	blob := gocv.BlobFromImage(img, 1.0, image.Pt(t.Width, t.Height), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.net.SetInput(blob, "")
	out := b.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[0] != 1 {
		return Output{}, fmt.Errorf("unexpected output shape %v", dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return Output{}, fmt.Errorf("read output: %w", err)
	}

	raw := RawOutput{
		Data:       append([]float32(nil), data...),
		Attributes: dims[1],
		Candidates: dims[2],
	}
	return Output{Raw: &raw}, nil
}

func (b *DNNBackend) Close() error {
	return b.net.Close()
}
