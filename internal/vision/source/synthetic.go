package source

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/speedwatch/internal/timeutil"
	"github.com/banshee-data/speedwatch/internal/units"
	"github.com/banshee-data/speedwatch/internal/vision/detect"
)

// SyntheticConfig drives the development traffic generator.
type SyntheticConfig struct {
	Width, Height  int
	FPS            float64
	PixelsPerMeter float64
	MinSpeedKmh    float64
	MaxSpeedKmh    float64
	SpawnEvery     int    // frames between new vehicles
	Frames         uint64 // 0 runs until cancelled
	Seed           uint64
	Start          time.Time
	Render         bool           // draw an RGBA image per frame
	Clock          timeutil.Clock // paces frames at FPS when set
}

// DefaultSyntheticConfig is a 640x480 scene at 30 fps with a vehicle
// entering every second.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Width:          640,
		Height:         480,
		FPS:            30,
		PixelsPerMeter: 10,
		MinSpeedKmh:    40,
		MaxSpeedKmh:    120,
		SpawnEvery:     30,
		Seed:           1,
		Render:         true,
	}
}

var syntheticClasses = []string{detect.ClassCar, detect.ClassTruck, detect.ClassMotorcycle, detect.ClassBus}

var classSizes = map[string][2]float64{
	detect.ClassCar:        {80, 40},
	detect.ClassTruck:      {140, 60},
	detect.ClassMotorcycle: {40, 30},
	detect.ClassBus:        {160, 64},
}

var classColours = map[string]color.RGBA{
	detect.ClassCar:        {R: 0x3b, G: 0x82, B: 0xf6, A: 0xff},
	detect.ClassTruck:      {R: 0xf5, G: 0x9e, B: 0x0b, A: 0xff},
	detect.ClassMotorcycle: {R: 0x10, G: 0xb9, B: 0x81, A: 0xff},
	detect.ClassBus:        {R: 0xef, G: 0x44, B: 0x44, A: 0xff},
}

type simVehicle struct {
	class      string
	x, y       float64
	w, h       float64
	pxPerFrame float64
	confidence float64
}

// SyntheticSource generates vehicles crossing the frame left to right at
// constant speed. The same seed yields the same frames.
type SyntheticSource struct {
	cfg      SyntheticConfig
	rng      *rand.Rand
	seq      uint64
	vehicles []*simVehicle
}

// NewSyntheticSource fills unset fields of cfg from the defaults.
func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	def := DefaultSyntheticConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.PixelsPerMeter <= 0 {
		cfg.PixelsPerMeter = def.PixelsPerMeter
	}
	if cfg.MaxSpeedKmh <= 0 {
		cfg.MinSpeedKmh, cfg.MaxSpeedKmh = def.MinSpeedKmh, def.MaxSpeedKmh
	}
	if cfg.MinSpeedKmh > cfg.MaxSpeedKmh {
		cfg.MinSpeedKmh = cfg.MaxSpeedKmh
	}
	if cfg.SpawnEvery <= 0 {
		cfg.SpawnEvery = def.SpawnEvery
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	}
	return &SyntheticSource{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// Next advances the scene by one frame.
func (s *SyntheticSource) Next(ctx context.Context) (detect.Frame, error) {
	if err := ctx.Err(); err != nil {
		return detect.Frame{}, err
	}
	if s.cfg.Frames > 0 && s.seq >= s.cfg.Frames {
		return detect.Frame{}, io.EOF
	}
	interval := time.Duration(float64(time.Second) / s.cfg.FPS)
	if s.cfg.Clock != nil && s.seq > 0 {
		select {
		case <-ctx.Done():
			return detect.Frame{}, ctx.Err()
		case <-s.cfg.Clock.After(interval):
		}
	}

	s.step()
	frame := detect.Frame{
		Seq:        s.seq + 1,
		Timestamp:  s.cfg.Start.Add(time.Duration(s.seq) * interval),
		Width:      s.cfg.Width,
		Height:     s.cfg.Height,
		Detections: make([]detect.Detection, 0, len(s.vehicles)),
	}
	for _, v := range s.vehicles {
		frame.Detections = append(frame.Detections, detect.Detection{
			BBox:       detect.BBox{X: v.x, Y: v.y, Width: v.w, Height: v.h},
			Class:      v.class,
			Confidence: v.confidence,
		})
	}
	if s.cfg.Render {
		frame.Image = s.render()
	}
	s.seq++
	return frame, nil
}

// step moves every vehicle, retires those that left the frame and spawns
// a new one on schedule.
func (s *SyntheticSource) step() {
	kept := s.vehicles[:0]
	for _, v := range s.vehicles {
		v.x += v.pxPerFrame
		if v.x < float64(s.cfg.Width) {
			kept = append(kept, v)
		}
	}
	s.vehicles = kept

	if s.seq%uint64(s.cfg.SpawnEvery) != 0 {
		return
	}
	class := syntheticClasses[s.rng.IntN(len(syntheticClasses))]
	size := classSizes[class]
	kmh := s.cfg.MinSpeedKmh + s.rng.Float64()*(s.cfg.MaxSpeedKmh-s.cfg.MinSpeedKmh)
	// Alternate between two lanes around the middle of the frame.
	lane := float64(s.cfg.Height) * 0.4
	if (s.seq/uint64(s.cfg.SpawnEvery))%2 == 1 {
		lane = float64(s.cfg.Height) * 0.6
	}
	s.vehicles = append(s.vehicles, &simVehicle{
		class:      class,
		x:          0,
		y:          lane - size[1]/2,
		w:          size[0],
		h:          size[1],
		pxPerFrame: units.ConvertSpeed(kmh, units.MPS) * s.cfg.PixelsPerMeter / s.cfg.FPS,
		confidence: 0.85 + s.rng.Float64()*0.14,
	})
}

func (s *SyntheticSource) render() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff}}, image.Point{}, draw.Src)
	road := image.Rect(0, s.cfg.Height/4, s.cfg.Width, s.cfg.Height*3/4)
	draw.Draw(img, road, &image.Uniform{C: color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}}, image.Point{}, draw.Src)
	for _, v := range s.vehicles {
		r := detect.BBox{X: v.x, Y: v.y, Width: v.w, Height: v.h}.Rect().Intersect(img.Bounds())
		draw.Draw(img, r, &image.Uniform{C: classColours[v.class]}, image.Point{}, draw.Src)
	}
	return img
}
