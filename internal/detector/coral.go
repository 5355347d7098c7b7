package detector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameSize bounds a single helper message.
const maxFrameSize = 64 << 20

// CoralBackend drives an accelerator helper process (for example an Edge
// TPU runtime wrapper) over stdin/stdout. Every message in both directions
// is a 4-byte big-endian length followed by a msgpack body.
//
// On start the helper loads the model and answers with a hello message
// declaring its input spec and output convention.
type CoralBackend struct {
	spec InputSpec
	kind OutputKind

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

type helloMsg struct {
	InputWidth  int    `msgpack:"input_width"`
	InputHeight int    `msgpack:"input_height"`
	InputDType  string `msgpack:"input_dtype"`
	ZeroPoint   int    `msgpack:"zero_point"`
	Output      string `msgpack:"output"`
	Error       string `msgpack:"error,omitempty"`
}

type requestMsg struct {
	Width        int       `msgpack:"width"`
	Height       int       `msgpack:"height"`
	DType        string    `msgpack:"dtype"`
	Tensor       []byte    `msgpack:"tensor,omitempty"`
	TensorF32    []float32 `msgpack:"tensor_f32,omitempty"`
	SourceWidth  int       `msgpack:"source_width"`
	SourceHeight int       `msgpack:"source_height"`
	Threshold    float64   `msgpack:"threshold"`
}

type objectMsg struct {
	ClassID int     `msgpack:"class_id"`
	Score   float64 `msgpack:"score"`
	XMin    float64 `msgpack:"xmin"`
	YMin    float64 `msgpack:"ymin"`
	XMax    float64 `msgpack:"xmax"`
	YMax    float64 `msgpack:"ymax"`
}

type responseMsg struct {
	Objects []objectMsg `msgpack:"objects,omitempty"`
	Boxes   [][]float32 `msgpack:"boxes,omitempty"`
	Classes []float32   `msgpack:"classes,omitempty"`
	Scores  []float32   `msgpack:"scores,omitempty"`
	Count   int         `msgpack:"count"`
	Error   string      `msgpack:"error,omitempty"`
}

// NewCoralBackend starts the helper with the model path appended to args
// and waits for its hello message. Any failure here is a model-load failure.
func NewCoralBackend(command string, args []string, modelPath string) (*CoralBackend, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}

	cmd := exec.Command(command, append(append([]string(nil), args...), modelPath)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start accelerator helper: %w", err)
	}

	b := &CoralBackend{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}

	var hello helloMsg
	if err := readFrame(b.stdout, &hello); err != nil {
		b.shutdown()
		return nil, fmt.Errorf("read helper handshake: %w", err)
	}
	if hello.Error != "" {
		b.shutdown()
		return nil, fmt.Errorf("helper failed to load model: %s", hello.Error)
	}

	b.spec = InputSpec{
		Width:     hello.InputWidth,
		Height:    hello.InputHeight,
		Domain:    Domain(hello.InputDType),
		ZeroPoint: hello.ZeroPoint,
	}
	if err := b.spec.validate(); err != nil {
		b.shutdown()
		return nil, fmt.Errorf("helper handshake: %w", err)
	}

	switch hello.Output {
	case "objects":
		b.kind = OutputObjects
	case "boxes":
		b.kind = OutputBoxes
	default:
		b.shutdown()
		return nil, fmt.Errorf("helper handshake: unsupported output %q", hello.Output)
	}

	slog.Info("accelerator helper started",
		"command", command,
		"pid", cmd.Process.Pid,
		"output", b.kind,
	)
	return b, nil
}

func (b *CoralBackend) Spec() InputSpec  { return b.spec }
func (b *CoralBackend) Kind() OutputKind { return b.kind }

// Invoke sends one tensor and waits for the helper's answer.
func (b *CoralBackend) Invoke(req Request) (Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmd == nil {
		return Output{}, errors.New("accelerator helper is not running")
	}

	msg := requestMsg{
		Width:        req.Tensor.Width,
		Height:       req.Tensor.Height,
		DType:        string(req.Tensor.Domain),
		Tensor:       req.Tensor.Bytes,
		TensorF32:    req.Tensor.Float,
		SourceWidth:  req.SourceWidth,
		SourceHeight: req.SourceHeight,
		Threshold:    req.Threshold,
	}
	if err := writeFrame(b.stdin, msg); err != nil {
		return Output{}, err
	}

	var resp responseMsg
	if err := readFrame(b.stdout, &resp); err != nil {
		return Output{}, err
	}
	if resp.Error != "" {
		return Output{}, fmt.Errorf("helper: %s", resp.Error)
	}

	switch b.kind {
	case OutputObjects:
		objs := make([]Object, len(resp.Objects))
		for i, o := range resp.Objects {
			objs[i] = Object(o)
		}
		return Output{Objects: objs}, nil
	default:
		boxes := make([][4]float32, len(resp.Boxes))
		for i, bx := range resp.Boxes {
			if len(bx) != 4 {
				return Output{}, fmt.Errorf("helper box %d has %d values", i, len(bx))
			}
			boxes[i] = [4]float32(bx)
		}
		return Output{Boxes: &BoxesOutput{
			Boxes:   boxes,
			Classes: resp.Classes,
			Scores:  resp.Scores,
			Count:   resp.Count,
		}}, nil
	}
}

// Close shuts down the helper process.
func (b *CoralBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shutdown()
}

func (b *CoralBackend) shutdown() error {
	if b.cmd == nil {
		return nil
	}

	b.stdin.Close()
	err := b.cmd.Wait()
	b.cmd = nil
	b.stdin = nil
	b.stdout = nil
	return err
}

func writeFrame(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := w.Write(length); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v any) error {
	length := make([]byte, 4)
	if _, err := io.ReadFull(r, length); err != nil {
		return fmt.Errorf("read length: %w", err)
	}

	n := binary.BigEndian.Uint32(length)
	if n > maxFrameSize {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read data: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}
