package detector

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"strings"
)

// Severity is a coarse damage grade derived from bounding-box area.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Area-fraction breakpoints; a value equal to a breakpoint takes the higher grade.
const (
	mediumAreaFraction = 0.05
	highAreaFraction   = 0.15
)

// SeverityFor grades a bounding box by the share of the image it covers.
func SeverityFor(areaFraction float64) Severity {
	switch {
	case areaFraction < mediumAreaFraction:
		return SeverityLow
	case areaFraction < highAreaFraction:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// DamageClasses are the class names of the default road-damage model.
var DamageClasses = Labels{
	"longitudinal_crack",
	"transverse_crack",
	"alligator_crack",
	"pothole",
	"rutting",
	"bleeding",
	"weathering",
}

// Labels maps class ids to names.
type Labels []string

// Name returns the class name for id, or "unknown".
func (l Labels) Name(id int) string {
	if id < 0 || id >= len(l) {
		return "unknown"
	}
	return l[id]
}

// LoadLabels reads one class name per line. Blank lines are skipped.
func LoadLabels(path string) (Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels Labels
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			labels = append(labels, name)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

// BBox is an axis-aligned box in source-image pixels.
type BBox struct {
	XMin int `json:"xmin"`
	YMin int `json:"ymin"`
	XMax int `json:"xmax"`
	YMax int `json:"ymax"`
}

// Area returns the box area in pixels; inverted boxes have zero area.
func (b BBox) Area() int {
	w, h := b.XMax-b.XMin, b.YMax-b.YMin
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Rect converts the box to an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

// Clamp limits the box to a width x height image.
func (b BBox) Clamp(width, height int) BBox {
	return BBox{
		XMin: clampInt(b.XMin, 0, width),
		YMin: clampInt(b.YMin, 0, height),
		XMax: clampInt(b.XMax, 0, width),
		YMax: clampInt(b.YMax, 0, height),
	}
}

// Detection is one damaged region found in a frame.
type Detection struct {
	ClassID      int      `json:"class_id"`
	ClassName    string   `json:"class_name"`
	Confidence   float64  `json:"confidence"`
	BBox         BBox     `json:"bbox"`
	AreaFraction float64  `json:"area_percentage"`
	Severity     Severity `json:"severity"`
}

// newDetection clamps the box to the source image and grades it.
func newDetection(box Box, labels Labels, width, height int) Detection {
	bbox := box.Rect.Clamp(width, height)

	area := 0.0
	if width > 0 && height > 0 {
		area = float64(bbox.Area()) / float64(width*height)
	}

	return Detection{
		ClassID:      box.ClassID,
		ClassName:    labels.Name(box.ClassID),
		Confidence:   box.Score,
		BBox:         bbox,
		AreaFraction: area,
		Severity:     SeverityFor(area),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
