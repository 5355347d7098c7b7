// Package artifact renders detection evidence images: an annotated copy of
// the frame and a crop of the damaged region.
package artifact

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/roadscan/internal/detector"
)

// Drawing parameters
const (
	boxThickness  = 2
	fontScale     = 0.5
	fontThickness = 2
)

var classColors = map[string]color.RGBA{
	"longitudinal_crack": {R: 255, A: 255},
	"transverse_crack":   {G: 255, A: 255},
	"alligator_crack":    {B: 255, A: 255},
	"pothole":            {R: 255, G: 255, A: 255},
	"rutting":            {R: 255, B: 255, A: 255},
	"bleeding":           {G: 255, B: 255, A: 255},
	"weathering":         {R: 128, G: 128, B: 128, A: 255},
}

var (
	defaultColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	labelColor   = color.RGBA{A: 255}
)

// ColorFor returns the drawing colour of a damage class.
func ColorFor(class string) color.RGBA {
	if c, ok := classColors[class]; ok {
		return c
	}
	return defaultColor
}

// Label formats the caption drawn above a box, e.g. "pothole (high): 0.87".
func Label(d detector.Detection) string {
	return fmt.Sprintf("%s (%s): %.2f", d.ClassName, d.Severity, d.Confidence)
}

// FileName names the annotated image of a detection from its capture time,
// the running detection counter and the class name.
func FileName(at time.Time, counter int, class string) string {
	return fmt.Sprintf("%s_%04d_%s.jpg", at.Format("20060102_150405"), counter, class)
}

// Annotate draws boxes and captions onto a BGR image in place.
func Annotate(img *gocv.Mat, dets []detector.Detection) {
	for _, d := range dets {
		c := ColorFor(d.ClassName)
		gocv.Rectangle(img, d.BBox.Rect(), c, boxThickness)

		label := Label(d)
		size := gocv.GetTextSize(label, gocv.FontHersheySimplex, fontScale, fontThickness)
		bg := image.Rect(d.BBox.XMin, d.BBox.YMin-size.Y-10, d.BBox.XMin+size.X, d.BBox.YMin)
		gocv.Rectangle(img, bg, c, -1)
		gocv.PutText(img, label, image.Pt(d.BBox.XMin, d.BBox.YMin-5),
			gocv.FontHersheySimplex, fontScale, labelColor, fontThickness)
	}
}

// Writer saves evidence images into a directory.
type Writer struct {
	dir   string
	crops bool
}

// NewWriter creates dir if needed. With crops set, Save also writes the
// boxed region as crop_<name>.
func NewWriter(dir string, crops bool) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &Writer{dir: dir, crops: crops}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Save writes the annotated frame for one detection and returns its path.
// rgb is not modified. A failed crop is logged and does not fail the save.
func (w *Writer) Save(rgb gocv.Mat, det detector.Detection, at time.Time, counter int) (string, error) {
	if rgb.Empty() {
		return "", errors.New("empty frame")
	}

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR)

	name := FileName(at, counter, det.ClassName)
	path := filepath.Join(w.dir, name)

	if w.crops {
		if err := w.saveCrop(bgr, det.BBox, filepath.Join(w.dir, "crop_"+name)); err != nil {
			slog.Warn("crop not saved", "file", name, "error", err)
		}
	}

	Annotate(&bgr, []detector.Detection{det})
	if ok := gocv.IMWrite(path, bgr); !ok {
		return "", fmt.Errorf("write %s failed", path)
	}

	return path, nil
}

func (w *Writer) saveCrop(bgr gocv.Mat, box detector.BBox, path string) error {
	box = box.Clamp(bgr.Cols(), bgr.Rows())
	if box.Area() == 0 {
		return errors.New("empty crop region")
	}

	region := bgr.Region(box.Rect())
	defer region.Close()

	if ok := gocv.IMWrite(path, region); !ok {
		return fmt.Errorf("write %s failed", path)
	}
	return nil
}
