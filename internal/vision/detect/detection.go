package detect

import (
	"context"
	"image"
	"math"
	"time"

	"github.com/golang/geo/r2"
)

// Vehicle class labels.
const (
	ClassCar        = "car"
	ClassTruck      = "truck"
	ClassMotorcycle = "motorcycle"
	ClassBus        = "bus"
	ClassUnknown    = "unknown"
)

// BBox is an axis-aligned rectangle in pixel coordinates.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// Centroid returns the geometric centre of the box.
func (b BBox) Centroid() r2.Point {
	return r2.Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Rect converts the box to the smallest image rectangle covering it.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X)), int(math.Floor(b.Y)),
		int(math.Ceil(b.X+b.Width)), int(math.Ceil(b.Y+b.Height)),
	)
}

// Percent expresses the box as percentages of the frame size. A zero frame
// size returns the zero box.
func (b BBox) Percent(frameWidth, frameHeight int) BBox {
	if frameWidth <= 0 || frameHeight <= 0 {
		return BBox{}
	}
	fw, fh := float64(frameWidth), float64(frameHeight)
	return BBox{
		X:      b.X / fw * 100,
		Y:      b.Y / fh * 100,
		Width:  b.Width / fw * 100,
		Height: b.Height / fh * 100,
	}
}

// Detection is one observed object in one frame.
type Detection struct {
	BBox       BBox    `json:"bbox"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Centroid returns the centre of the detection's bounding box.
func (d Detection) Centroid() r2.Point {
	return d.BBox.Centroid()
}

// Frame is one decoded input frame. Image may be nil when the frame came
// from an edge device that only ships detections; Detections is set in
// that case and consumed by Precomputed.
type Frame struct {
	Seq        uint64
	Timestamp  time.Time
	Width      int
	Height     int
	Image      image.Image
	Detections []Detection
}

// Detector turns one frame into zero or more detections.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]Detection, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, frame Frame) ([]Detection, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, frame Frame) ([]Detection, error) {
	return f(ctx, frame)
}

// Precomputed returns the detections that arrived with the frame.
type Precomputed struct{}

// Detect returns a copy of frame.Detections.
func (Precomputed) Detect(_ context.Context, frame Frame) ([]Detection, error) {
	if len(frame.Detections) == 0 {
		return nil, nil
	}
	out := make([]Detection, len(frame.Detections))
	copy(out, frame.Detections)
	return out, nil
}
