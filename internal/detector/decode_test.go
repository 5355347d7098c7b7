package detector

import (
	"math/rand/v2"
	"testing"
)

var testGeometry = Geometry{InputWidth: 320, InputHeight: 320, SourceWidth: 1280, SourceHeight: 720}

func randomRaw(rng *rand.Rand, classes, n int) RawOutput {
	cands := make([]RawCandidate, n)
	for i := range cands {
		scores := make([]float32, classes)
		for k := range scores {
			scores[k] = rng.Float32()
		}
		cands[i] = RawCandidate{
			CX:     rng.Float32() * 320,
			CY:     rng.Float32() * 320,
			W:      10 + rng.Float32()*100,
			H:      10 + rng.Float32()*100,
			Scores: scores,
		}
	}
	return NewRawOutput(classes, cands)
}

func TestDecodeRawConfidenceFloor(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, threshold := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 0.99} {
		for trial := 0; trial < 20; trial++ {
			boxes, err := DecodeRaw(randomRaw(rng, 7, 50), threshold, 0.45, testGeometry)
			if err != nil {
				t.Fatalf("DecodeRaw() error = %v", err)
			}
			for _, b := range boxes {
				if b.Score < threshold {
					t.Fatalf("threshold %v: box score %v below threshold", threshold, b.Score)
				}
			}
		}
	}
}

func TestNMSProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for trial := 0; trial < 50; trial++ {
		var cands []candidate
		for i := 0; i < 40; i++ {
			cands = append(cands, candidate{
				classID: rng.IntN(7),
				score:   rng.Float64(),
				left:    rng.Float64() * 200,
				top:     rng.Float64() * 200,
				w:       20 + rng.Float64()*80,
				h:       20 + rng.Float64()*80,
			})
		}

		const threshold = 0.45
		kept := nms(cands, threshold)

		for i := range kept {
			for j := i + 1; j < len(kept); j++ {
				if iou := iouOf(kept[i], kept[j]); iou >= threshold {
					t.Fatalf("survivors %d and %d overlap with IoU %v", i, j, iou)
				}
			}
		}

		again := nms(kept, threshold)
		if len(again) != len(kept) {
			t.Fatalf("nms not idempotent: %d then %d", len(kept), len(again))
		}
		for i := range kept {
			if again[i] != kept[i] {
				t.Fatalf("nms not idempotent at %d", i)
			}
		}
	}
}

func TestNMSSuppressesOverlap(t *testing.T) {
	cands := []candidate{
		{classID: 0, score: 0.6, left: 0, top: 0, w: 100, h: 100},
		{classID: 1, score: 0.9, left: 5, top: 5, w: 100, h: 100},
		{classID: 2, score: 0.7, left: 300, top: 300, w: 50, h: 50},
	}
	kept := nms(cands, 0.45)
	if len(kept) != 2 {
		t.Fatalf("len(kept) = %d, want 2", len(kept))
	}
	if kept[0].classID != 1 || kept[1].classID != 2 {
		t.Errorf("kept classes = %d,%d, want 1,2", kept[0].classID, kept[1].classID)
	}
}

func TestNMSIoUAtThresholdSuppressed(t *testing.T) {
	a := candidate{score: 0.9, left: 0, top: 0, w: 10, h: 10}
	b := candidate{score: 0.8, left: 0, top: 0, w: 10, h: 10}
	if kept := nms([]candidate{a, b}, 1.0); len(kept) != 1 {
		t.Errorf("identical boxes at IoU threshold 1.0: kept %d, want 1", len(kept))
	}
}

func TestNMSStableTies(t *testing.T) {
	cands := []candidate{
		{classID: 4, score: 0.8, left: 0, top: 0, w: 10, h: 10},
		{classID: 5, score: 0.8, left: 0, top: 0, w: 10, h: 10},
	}
	kept := nms(cands, 0.45)
	if len(kept) != 1 || kept[0].classID != 4 {
		t.Errorf("tie kept %+v, want first candidate", kept)
	}
}

func TestDecodeRawFirstMaxClassWins(t *testing.T) {
	raw := NewRawOutput(4, []RawCandidate{
		{CX: 100, CY: 100, W: 20, H: 20, Scores: []float32{0.1, 0.8, 0.8, 0.2}},
	})
	boxes, err := DecodeRaw(raw, 0.5, 0.45, testGeometry)
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 1 || boxes[0].ClassID != 1 {
		t.Errorf("boxes = %+v, want class 1", boxes)
	}
}

func TestDecodeRawThresholdInclusive(t *testing.T) {
	raw := NewRawOutput(1, []RawCandidate{
		{CX: 100, CY: 100, W: 20, H: 20, Scores: []float32{0.5}},
	})
	boxes, err := DecodeRaw(raw, 0.5, 0.45, testGeometry)
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 1 {
		t.Errorf("score equal to threshold dropped")
	}
}

func TestDecodeRawClampsToSource(t *testing.T) {
	raw := NewRawOutput(1, []RawCandidate{
		{CX: 0, CY: 320, W: 100, H: 100, Scores: []float32{0.9}},
	})
	boxes, err := DecodeRaw(raw, 0.5, 0.45, testGeometry)
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 1 {
		t.Fatalf("len(boxes) = %d", len(boxes))
	}
	want := BBox{XMin: 0, YMin: 608, XMax: 200, YMax: 720}
	if boxes[0].Rect != want {
		t.Errorf("Rect = %+v, want %+v", boxes[0].Rect, want)
	}
}

func TestDecodeRawMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  RawOutput
	}{
		{"too few attributes", RawOutput{Data: make([]float32, 4), Attributes: 4, Candidates: 1}},
		{"length mismatch", RawOutput{Data: make([]float32, 10), Attributes: 5, Candidates: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRaw(tt.raw, 0.5, 0.45, testGeometry); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodeBoxesCountBound(t *testing.T) {
	out := BoxesOutput{
		Boxes:   [][4]float32{{0, 0, 0.5, 0.5}, {0.5, 0.5, 1, 1}, {0, 0, 1, 1}},
		Classes: []float32{0, 1, 2},
		Scores:  []float32{0.9, 0.9, 0.9},
		Count:   2,
	}
	boxes := DecodeBoxes(out, 0.5, 200, 100)
	if len(boxes) != 2 {
		t.Fatalf("len(boxes) = %d, want 2 (count bound)", len(boxes))
	}
	if want := (BBox{XMin: 100, YMin: 50, XMax: 200, YMax: 100}); boxes[1].Rect != want {
		t.Errorf("Rect = %+v, want %+v", boxes[1].Rect, want)
	}
}

func TestDecodeObjectsThreshold(t *testing.T) {
	boxes := DecodeObjects([]Object{
		{ClassID: 1, Score: 0.49},
		{ClassID: 2, Score: 0.5, XMin: 1.4, YMin: 2.6, XMax: 10, YMax: 20},
	}, 0.5)
	if len(boxes) != 1 || boxes[0].ClassID != 2 {
		t.Fatalf("boxes = %+v", boxes)
	}
	if want := (BBox{XMin: 1, YMin: 3, XMax: 10, YMax: 20}); boxes[0].Rect != want {
		t.Errorf("Rect = %+v, want %+v", boxes[0].Rect, want)
	}
}
