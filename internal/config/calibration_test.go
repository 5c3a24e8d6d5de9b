package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCalibrationIsValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultCalibration().Validate())
}

func TestCalibrationValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *CalibrationConfig)
		wantErr string
	}{
		{"zero pixels per meter", func(c *CalibrationConfig) { c.PixelsPerMeter = 0 }, "PixelsPerMeter"},
		{"negative pixels per meter", func(c *CalibrationConfig) { c.PixelsPerMeter = -3 }, "PixelsPerMeter"},
		{"zero frame rate", func(c *CalibrationConfig) { c.FrameRateHz = 0 }, "FrameRateHz"},
		{"zero speed limit", func(c *CalibrationConfig) { c.SpeedLimitKmh = 0 }, "SpeedLimitKmh"},
		{"confidence above one", func(c *CalibrationConfig) { c.ConfidenceThreshold = 1.2 }, "ConfidenceThreshold"},
		{"no classes", func(c *CalibrationConfig) { c.VehicleClasses = nil }, "VehicleClasses"},
		{"unknown class", func(c *CalibrationConfig) { c.VehicleClasses = []string{"car", "tank"} }, "VehicleClasses"},
		{"alpha zero", func(c *CalibrationConfig) { c.SmoothingAlpha = 0 }, "SmoothingAlpha"},
		{"window of one frame", func(c *CalibrationConfig) { c.SpeedWindowFrames = 1 }, "SpeedWindowFrames"},
		{"zero window", func(c *CalibrationConfig) { c.SpeedWindow = 0 }, "SpeedWindow"},
		{"bad association", func(c *CalibrationConfig) { c.Association = "nearest" }, "Association"},
		{"inverted zone", func(c *CalibrationConfig) { c.DetectionZoneStart, c.DetectionZoneEnd = 0.8, 0.2 }, "DetectionZoneEnd"},
		{"bad timezone", func(c *CalibrationConfig) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad units", func(c *CalibrationConfig) { c.SpeedUnits = "knots" }, "speed_units"},
		{"latitude without longitude", func(c *CalibrationConfig) { c.Latitude = ptrFloat64(10) }, "together"},
		{"latitude out of range", func(c *CalibrationConfig) {
			c.Latitude = ptrFloat64(95)
			c.Longitude = ptrFloat64(10)
		}, "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := DefaultCalibration()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCalibrationMerge(t *testing.T) {
	t.Parallel()

	base := DefaultCalibration()
	patch := &TuningConfig{
		SpeedLimitKmh:  ptrFloat64(50),
		SpeedWindow:    ptrString("500ms"),
		VehicleClasses: []string{"car"},
		Latitude:       ptrFloat64(48.85),
		Longitude:      ptrFloat64(2.35),
	}

	merged := base.Merge(patch)
	assert.Equal(t, 50.0, merged.SpeedLimitKmh)
	assert.Equal(t, 500*time.Millisecond, merged.SpeedWindow)
	assert.Equal(t, []string{"car"}, merged.VehicleClasses)
	assert.Equal(t, base.PixelsPerMeter, merged.PixelsPerMeter)

	// base untouched
	assert.Equal(t, 80.0, base.SpeedLimitKmh)
	assert.Len(t, base.VehicleClasses, 4)
	assert.Nil(t, base.Latitude)
}

func TestCalibrationRoundTripThroughTuning(t *testing.T) {
	t.Parallel()

	c := DefaultCalibration()
	c.SpeedLimitKmh = 42
	c.Association = AssociationHungarian
	back := FromTuning(c.ToTuning())
	if diff := cmp.Diff(c, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAcceptsClass(t *testing.T) {
	t.Parallel()
	c := DefaultCalibration()
	assert.True(t, c.AcceptsClass("car"))
	assert.False(t, c.AcceptsClass("unknown"))
	assert.False(t, c.AcceptsClass("person"))
}
