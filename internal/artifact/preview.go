package artifact

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/roadscan/internal/detector"
)

// Preview keeps the most recent annotated frame as a JPEG for live viewers.
type Preview struct {
	mu   sync.RWMutex
	jpeg []byte
	seq  uint64
}

// NewPreview creates an empty preview.
func NewPreview() *Preview {
	return &Preview{}
}

// Update annotates a copy of rgb and stores it as the latest JPEG.
func (p *Preview) Update(rgb gocv.Mat, dets []detector.Detection) error {
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR)
	Annotate(&bgr, dets)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, bgr)
	if err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	defer buf.Close()
	data := append([]byte(nil), buf.GetBytes()...)

	p.mu.Lock()
	p.jpeg = data
	p.seq++
	p.mu.Unlock()
	return nil
}

// Latest returns the newest JPEG and its sequence number. The sequence is
// zero until the first Update.
func (p *Preview) Latest() ([]byte, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.jpeg, p.seq
}
