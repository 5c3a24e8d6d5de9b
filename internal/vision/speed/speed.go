// Package speed converts a track's centroid history into a smoothed
// speed in km/h.
package speed

import (
	"math"
	"time"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/speedwatch/internal/config"
	"github.com/banshee-data/speedwatch/internal/units"
	"github.com/banshee-data/speedwatch/internal/vision/tracks"
)

// Params controls one estimate.
type Params struct {
	PixelsPerMeter float64
	Alpha          float64       // EMA weight of the new sample, in (0, 1]
	WindowFrames   int           // newest N observations
	WindowDuration time.Duration // observations within this span of the newest
	JitterFloorPx  float64       // displacements below this count as zero
}

// ParamsFromCalibration extracts estimator parameters from a snapshot.
func ParamsFromCalibration(c *config.CalibrationConfig) Params {
	return Params{
		PixelsPerMeter: c.PixelsPerMeter,
		Alpha:          c.SmoothingAlpha,
		WindowFrames:   c.SpeedWindowFrames,
		WindowDuration: c.SpeedWindow,
		JitterFloorPx:  c.JitterFloorPx,
	}
}

// Estimate is the result of one speed computation.
type Estimate struct {
	RawKmh         float64       // un-smoothed speed over the window
	SmoothedKmh    float64       // EMA against the previous value
	DisplacementPx float64       // first-to-last centroid distance, after the jitter floor
	Elapsed        time.Duration // time between the window's first and last points
	Points         int           // observations used
}

// RoundedKmh is the integer speed used for reporting.
func (e Estimate) RoundedKmh() float64 {
	return math.Round(e.SmoothedKmh)
}

// MPH returns the smoothed speed in miles per hour.
func (e Estimate) MPH() float64 {
	return units.ConvertSpeed(e.SmoothedKmh, units.MPH)
}

// Window returns the observations used for an estimate: the newest
// WindowFrames entries, further restricted to those within WindowDuration
// of the newest one. The two newest observations are always kept, so low
// frame rates and tracks recovering from a gap still get an estimate.
func Window(history []tracks.Observation, p Params) []tracks.Observation {
	if len(history) == 0 {
		return nil
	}
	n := p.WindowFrames
	if n < 2 {
		n = 2
	}
	if n > len(history) {
		n = len(history)
	}
	win := history[len(history)-n:]
	if p.WindowDuration > 0 {
		newest := win[len(win)-1].Timestamp
		i := 0
		for i < len(win)-2 && newest.Sub(win[i].Timestamp) > p.WindowDuration {
			i++
		}
		win = win[i:]
	}
	return win
}

// Compute estimates the speed over history. previous is the track's
// current smoothed speed, nil if none. ok is false when fewer than two
// observations fall in the window or no time elapsed across it; the
// caller keeps its previous value in that case.
func Compute(history []tracks.Observation, previous *float64, p Params) (Estimate, bool) {
	if p.PixelsPerMeter <= 0 {
		return Estimate{}, false
	}
	win := Window(history, p)
	if len(win) < 2 {
		return Estimate{}, false
	}
	first, last := win[0], win[len(win)-1]
	elapsed := last.Timestamp.Sub(first.Timestamp)
	if elapsed <= 0 {
		return Estimate{}, false
	}

	px := r2.Point{X: last.X, Y: last.Y}.Sub(r2.Point{X: first.X, Y: first.Y}).Norm()
	if px < p.JitterFloorPx {
		px = 0
	}
	mps := (px / p.PixelsPerMeter) / elapsed.Seconds()
	raw := units.MPSToKmh(mps)

	est := Estimate{
		RawKmh:         raw,
		SmoothedKmh:    Smooth(raw, previous, p.Alpha),
		DisplacementPx: px,
		Elapsed:        elapsed,
		Points:         len(win),
	}
	return est, true
}

// Smooth applies an exponential moving average. With no previous value
// the new sample is returned unchanged.
func Smooth(sample float64, previous *float64, alpha float64) float64 {
	if previous == nil {
		return sample
	}
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}
	return alpha*sample + (1-alpha)*(*previous)
}
