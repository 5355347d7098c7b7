package detector

import (
	"fmt"
	"math"
	"sort"
)

// Box is a decoded candidate in source-image pixels.
type Box struct {
	ClassID int
	Score   float64
	Rect    BBox
}

// candidate is a raw-tensor box in model-input pixels.
type candidate struct {
	classID         int
	score           float64
	left, top, w, h float64
}

// Geometry carries the model-input and source-image sizes for one frame.
type Geometry struct {
	InputWidth   int
	InputHeight  int
	SourceWidth  int
	SourceHeight int
}

// DecodeRaw extracts boxes from a raw tensor: per-candidate best class,
// confidence filter, greedy NMS, then rescaling to the source image.
func DecodeRaw(raw RawOutput, confidence, iou float64, g Geometry) ([]Box, error) {
	if raw.Attributes < 5 {
		return nil, fmt.Errorf("raw output has %d attributes, want at least 5", raw.Attributes)
	}
	if len(raw.Data) != raw.Attributes*raw.Candidates {
		return nil, fmt.Errorf("raw output has %d values, want %dx%d", len(raw.Data), raw.Attributes, raw.Candidates)
	}

	n := raw.Candidates
	at := func(attr, c int) float64 { return float64(raw.Data[attr*n+c]) }

	var cands []candidate
	for c := 0; c < n; c++ {
		best, classID := at(4, c), 0
		for a := 5; a < raw.Attributes; a++ {
			if s := at(a, c); s > best {
				best, classID = s, a-4
			}
		}
		if best < confidence {
			continue
		}

		cx, cy, w, h := at(0, c), at(1, c), at(2, c), at(3, c)
		cands = append(cands, candidate{
			classID: classID,
			score:   best,
			left:    cx - w/2,
			top:     cy - h/2,
			w:       w,
			h:       h,
		})
	}

	kept := nms(cands, iou)

	boxes := make([]Box, 0, len(kept))
	inW, inH := float64(g.InputWidth), float64(g.InputHeight)
	srcW, srcH := float64(g.SourceWidth), float64(g.SourceHeight)
	for _, c := range kept {
		x1 := clamp01(c.left / inW)
		y1 := clamp01(c.top / inH)
		x2 := clamp01((c.left + c.w) / inW)
		y2 := clamp01((c.top + c.h) / inH)
		boxes = append(boxes, Box{
			ClassID: c.classID,
			Score:   c.score,
			Rect: BBox{
				XMin: int(math.Round(x1 * srcW)),
				YMin: int(math.Round(y1 * srcH)),
				XMax: int(math.Round(x2 * srcW)),
				YMax: int(math.Round(y2 * srcH)),
			},
		})
	}
	return boxes, nil
}

// nms keeps the highest-scoring candidates, discarding any whose IoU with an
// already kept candidate is at least threshold. Ties keep input order.
func nms(cands []candidate, threshold float64) []candidate {
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })

	var kept []candidate
	for _, c := range sorted {
		suppressed := false
		for _, k := range kept {
			if iouOf(c, k) >= threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}

func iouOf(a, b candidate) float64 {
	x1 := math.Max(a.left, b.left)
	y1 := math.Max(a.top, b.top)
	x2 := math.Min(a.left+a.w, b.left+b.w)
	y2 := math.Min(a.top+a.h, b.top+b.h)

	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := a.w*a.h + b.w*b.h - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// DecodeBoxes converts SSD output to source pixels, keeping scores at or
// above threshold.
func DecodeBoxes(out BoxesOutput, threshold float64, srcW, srcH int) []Box {
	n := min(out.Count, len(out.Boxes), len(out.Classes), len(out.Scores))

	var boxes []Box
	for i := 0; i < n; i++ {
		score := float64(out.Scores[i])
		if score < threshold {
			continue
		}
		b := out.Boxes[i]
		boxes = append(boxes, Box{
			ClassID: int(out.Classes[i]),
			Score:   score,
			Rect: BBox{
				XMin: int(math.Round(clamp01(float64(b[1])) * float64(srcW))),
				YMin: int(math.Round(clamp01(float64(b[0])) * float64(srcH))),
				XMax: int(math.Round(clamp01(float64(b[3])) * float64(srcW))),
				YMax: int(math.Round(clamp01(float64(b[2])) * float64(srcH))),
			},
		})
	}
	return boxes
}

// DecodeObjects maps backend-resolved objects, keeping scores at or above
// threshold.
func DecodeObjects(objs []Object, threshold float64) []Box {
	var boxes []Box
	for _, o := range objs {
		if o.Score < threshold {
			continue
		}
		boxes = append(boxes, Box{
			ClassID: o.ClassID,
			Score:   o.Score,
			Rect: BBox{
				XMin: int(math.Round(o.XMin)),
				YMin: int(math.Round(o.YMin)),
				XMax: int(math.Round(o.XMax)),
				YMax: int(math.Round(o.YMax)),
			},
		})
	}
	return boxes
}

// RawCandidate is one column of a raw tensor, in model-input pixels.
type RawCandidate struct {
	CX, CY, W, H float32
	Scores       []float32
}

// NewRawOutput lays candidates out as an [attributes x candidates] tensor
// with the given number of classes. Missing scores are zero.
func NewRawOutput(classes int, cands []RawCandidate) RawOutput {
	attrs := 4 + classes
	n := len(cands)
	data := make([]float32, attrs*n)
	for c, rc := range cands {
		data[0*n+c] = rc.CX
		data[1*n+c] = rc.CY
		data[2*n+c] = rc.W
		data[3*n+c] = rc.H
		for k := 0; k < classes && k < len(rc.Scores); k++ {
			data[(4+k)*n+c] = rc.Scores[k]
		}
	}
	return RawOutput{Data: data, Attributes: attrs, Candidates: n}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
