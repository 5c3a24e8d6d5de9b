// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedwatch/internal/config"
	"github.com/banshee-data/speedwatch/internal/vision/detect"
)

// Calibration used by the fixtures: 10 px per metre, 60 km/h limit.
const (
	PixelsPerMeter = 10
	SpeedLimitKmh  = 60
)

// NewStore returns a config store holding the default calibration with
// the fixture scale and limit, then mutate applied.
func NewStore(t testing.TB, mutate func(*config.CalibrationConfig)) *config.Store {
	t.Helper()
	cal := config.DefaultCalibration()
	cal.PixelsPerMeter = PixelsPerMeter
	cal.SpeedLimitKmh = SpeedLimitKmh
	if mutate != nil {
		mutate(cal)
	}
	store, err := config.NewStore(cal)
	require.NoError(t, err)
	return store
}

// MovingCarFrames renders n 640x480 frames at fps of one car moving right
// at pxPerSec, centred in the detection zone.
func MovingCarFrames(start time.Time, n int, fps, pxPerSec float64) []detect.Frame {
	interval := time.Duration(float64(time.Second) / fps)
	frames := make([]detect.Frame, n)
	for i := range frames {
		ts := start.Add(time.Duration(i) * interval)
		x := 100 + pxPerSec*ts.Sub(start).Seconds()
		frames[i] = detect.Frame{
			Seq:       uint64(i),
			Timestamp: ts,
			Width:     640,
			Height:    480,
			Detections: []detect.Detection{{
				BBox:       detect.BBox{X: x - 20, Y: 225, Width: 40, Height: 30},
				Class:      detect.ClassCar,
				Confidence: 0.9,
			}},
		}
	}
	return frames
}

// KmhToPixelsPerSecond converts a road speed to image motion at the
// fixture scale.
func KmhToPixelsPerSecond(kmh float64) float64 {
	return kmh / 3.6 * PixelsPerMeter
}

// DecodeJSON checks the recorder holds wantStatus with a JSON body and
// decodes it into v.
func DecodeJSON(t testing.TB, rec *httptest.ResponseRecorder, wantStatus int, v any) {
	t.Helper()
	require.Equal(t, wantStatus, rec.Code, "body: %s", rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}
