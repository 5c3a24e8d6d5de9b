package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedwatch/internal/config"
	"github.com/banshee-data/speedwatch/internal/httputil"
)

func TestNewStore(t *testing.T) {
	t.Parallel()
	s := NewStore(t, func(c *config.CalibrationConfig) { c.CameraName = "north" })
	cal := s.Load()
	assert.Equal(t, 10.0, cal.PixelsPerMeter)
	assert.Equal(t, 60.0, cal.SpeedLimitKmh)
	assert.Equal(t, "north", cal.CameraName)
}

func TestMovingCarFrames(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	frames := MovingCarFrames(start, 31, 30, 200)
	require.Len(t, frames, 31)
	assert.Equal(t, start, frames[0].Timestamp)
	first, last := frames[0].Detections[0].Centroid(), frames[30].Detections[0].Centroid()
	assert.InDelta(t, 200, last.X-first.X, 1e-6, "one second of motion")
	assert.Equal(t, first.Y, last.Y)
}

func TestKmhToPixelsPerSecond(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 200, KmhToPixelsPerSecond(72), 1e-9)
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	httputil.WriteJSONOK(rec, map[string]int{"frames": 3})
	var got map[string]int
	DecodeJSON(t, rec, http.StatusOK, &got)
	assert.Equal(t, 3, got["frames"])
}
