package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang/geo/s2"

	"github.com/banshee-data/speedwatch/internal/units"
)

// Association strategies understood by the tracker.
const (
	AssociationGreedy    = "greedy"
	AssociationHungarian = "hungarian"
)

// KnownVehicleClasses are the labels a detector may report.
var KnownVehicleClasses = []string{"car", "truck", "motorcycle", "bus", "unknown"}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid calibration config")

// CalibrationConfig is one immutable calibration snapshot. Values are
// never mutated after construction; updates build a new snapshot.
type CalibrationConfig struct {
	PixelsPerMeter      float64  `json:"pixels_per_meter" validate:"gt=0"`
	SpeedLimitKmh       float64  `json:"speed_limit_kmh" validate:"gt=0"`
	ConfidenceThreshold float64  `json:"confidence_threshold" validate:"gte=0,lte=1"`
	FrameRateHz         float64  `json:"frame_rate_hz" validate:"gt=0"`
	VehicleClasses      []string `json:"vehicle_classes" validate:"min=1,dive,oneof=car truck motorcycle bus unknown"`

	SmoothingAlpha    float64       `json:"smoothing_alpha" validate:"gt=0,lte=1"`
	SpeedWindowFrames int           `json:"speed_window_frames" validate:"gte=2"`
	SpeedWindow       time.Duration `json:"speed_window" validate:"gt=0"`
	JitterFloorPx     float64       `json:"jitter_floor_px" validate:"gte=0"`

	MaxAssociationDistancePx float64       `json:"max_association_distance_px" validate:"gt=0"`
	MissGraceFrames          int           `json:"miss_grace_frames" validate:"gte=0"`
	HitsToConfirm            int           `json:"hits_to_confirm" validate:"gte=1"`
	LostRetention            time.Duration `json:"lost_retention" validate:"gte=0"`
	HistoryCapacity          int           `json:"history_capacity" validate:"gte=2"`
	MaxTracks                int           `json:"max_tracks" validate:"gte=1"`
	Association              string        `json:"association" validate:"oneof=greedy hungarian"`

	ReportDeltaKmh float64       `json:"report_delta_kmh" validate:"gte=0"`
	ReportInterval time.Duration `json:"report_interval" validate:"gte=0"`
	WarningRatio   float64       `json:"warning_ratio" validate:"gt=0,lte=1"`

	DetectionZoneStart float64 `json:"detection_zone_start" validate:"gte=0,lte=1"`
	DetectionZoneEnd   float64 `json:"detection_zone_end" validate:"gte=0,lte=1,gtfield=DetectionZoneStart"`

	CameraName string   `json:"camera_name"`
	Location   string   `json:"location"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Timezone   string   `json:"timezone" validate:"required"`
	SpeedUnits string   `json:"speed_units" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultCalibration returns the built-in calibration snapshot.
func DefaultCalibration() *CalibrationConfig {
	return FromTuning(EmptyTuningConfig())
}

// FromTuning resolves every field of a TuningConfig into a snapshot.
// The result is not validated.
func FromTuning(t *TuningConfig) *CalibrationConfig {
	return &CalibrationConfig{
		PixelsPerMeter:           t.GetPixelsPerMeter(),
		SpeedLimitKmh:            t.GetSpeedLimitKmh(),
		ConfidenceThreshold:      t.GetConfidenceThreshold(),
		FrameRateHz:              t.GetFrameRateHz(),
		VehicleClasses:           t.GetVehicleClasses(),
		SmoothingAlpha:           t.GetSmoothingAlpha(),
		SpeedWindowFrames:        t.GetSpeedWindowFrames(),
		SpeedWindow:              t.GetSpeedWindow(),
		JitterFloorPx:            t.GetJitterFloorPx(),
		MaxAssociationDistancePx: t.GetMaxAssociationDistancePx(),
		MissGraceFrames:          t.GetMissGraceFrames(),
		HitsToConfirm:            t.GetHitsToConfirm(),
		LostRetention:            t.GetLostRetention(),
		HistoryCapacity:          t.GetHistoryCapacity(),
		MaxTracks:                t.GetMaxTracks(),
		Association:              t.GetAssociation(),
		ReportDeltaKmh:           t.GetReportDeltaKmh(),
		ReportInterval:           t.GetReportInterval(),
		WarningRatio:             t.GetWarningRatio(),
		DetectionZoneStart:       t.GetDetectionZoneStart(),
		DetectionZoneEnd:         t.GetDetectionZoneEnd(),
		CameraName:               t.GetCameraName(),
		Location:                 t.GetLocation(),
		Latitude:                 t.Latitude,
		Longitude:                t.Longitude,
		Timezone:                 t.GetTimezone(),
		SpeedUnits:               t.GetSpeedUnits(),
	}
}

// Validate checks every field. The returned error wraps ErrInvalidConfig.
func (c *CalibrationConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	for _, v := range []float64{c.PixelsPerMeter, c.SpeedLimitKmh, c.FrameRateHz, c.MaxAssociationDistancePx} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidConfig)
		}
	}
	if !units.IsTimezoneValid(c.Timezone) {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidConfig, c.Timezone)
	}
	if !units.IsValid(c.SpeedUnits) {
		return fmt.Errorf("%w: speed_units must be one of %s", ErrInvalidConfig, units.GetValidUnitsString())
	}
	if (c.Latitude == nil) != (c.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude must be set together", ErrInvalidConfig)
	}
	if c.Latitude != nil {
		if !s2.LatLngFromDegrees(*c.Latitude, *c.Longitude).IsValid() {
			return fmt.Errorf("%w: coordinates out of range (%f, %f)", ErrInvalidConfig, *c.Latitude, *c.Longitude)
		}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", name, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s, got %v", name, fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("%s must be at most %s, got %v", name, fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", name, fe.Param(), fe.Value())
	case "gtfield":
		return fmt.Sprintf("%s must be greater than %s", name, fe.Param())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", name, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", name, fe.Tag())
	}
}

// AcceptsClass reports whether label is one of the configured vehicle classes.
func (c *CalibrationConfig) AcceptsClass(label string) bool {
	return slices.Contains(c.VehicleClasses, label)
}

// Clone returns a deep copy.
func (c *CalibrationConfig) Clone() *CalibrationConfig {
	cp := *c
	cp.VehicleClasses = slices.Clone(c.VehicleClasses)
	if c.Latitude != nil {
		cp.Latitude = ptrFloat64(*c.Latitude)
	}
	if c.Longitude != nil {
		cp.Longitude = ptrFloat64(*c.Longitude)
	}
	return &cp
}

// Merge applies the non-nil fields of patch on top of a copy of c.
func (c *CalibrationConfig) Merge(patch *TuningConfig) *CalibrationConfig {
	next := c.Clone()
	if patch == nil {
		return next
	}
	setF := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setI := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setS := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setD := func(dst *time.Duration, src *string) {
		if src != nil {
			*dst = durationOr(src, *dst)
		}
	}

	setF(&next.PixelsPerMeter, patch.PixelsPerMeter)
	setF(&next.SpeedLimitKmh, patch.SpeedLimitKmh)
	setF(&next.ConfidenceThreshold, patch.ConfidenceThreshold)
	setF(&next.FrameRateHz, patch.FrameRateHz)
	if len(patch.VehicleClasses) > 0 {
		next.VehicleClasses = slices.Clone(patch.VehicleClasses)
	}
	setF(&next.SmoothingAlpha, patch.SmoothingAlpha)
	setI(&next.SpeedWindowFrames, patch.SpeedWindowFrames)
	setD(&next.SpeedWindow, patch.SpeedWindow)
	setF(&next.JitterFloorPx, patch.JitterFloorPx)
	setF(&next.MaxAssociationDistancePx, patch.MaxAssociationDistancePx)
	setI(&next.MissGraceFrames, patch.MissGraceFrames)
	setI(&next.HitsToConfirm, patch.HitsToConfirm)
	setD(&next.LostRetention, patch.LostRetention)
	setI(&next.HistoryCapacity, patch.HistoryCapacity)
	setI(&next.MaxTracks, patch.MaxTracks)
	setS(&next.Association, patch.Association)
	setF(&next.ReportDeltaKmh, patch.ReportDeltaKmh)
	setD(&next.ReportInterval, patch.ReportInterval)
	setF(&next.WarningRatio, patch.WarningRatio)
	setF(&next.DetectionZoneStart, patch.DetectionZoneStart)
	setF(&next.DetectionZoneEnd, patch.DetectionZoneEnd)
	setS(&next.CameraName, patch.CameraName)
	setS(&next.Location, patch.Location)
	if patch.Latitude != nil {
		next.Latitude = ptrFloat64(*patch.Latitude)
	}
	if patch.Longitude != nil {
		next.Longitude = ptrFloat64(*patch.Longitude)
	}
	setS(&next.Timezone, patch.Timezone)
	setS(&next.SpeedUnits, patch.SpeedUnits)
	return next
}

// ToTuning renders the snapshot back into the wire schema, every field set.
func (c *CalibrationConfig) ToTuning() *TuningConfig {
	return &TuningConfig{
		PixelsPerMeter:           ptrFloat64(c.PixelsPerMeter),
		SpeedLimitKmh:            ptrFloat64(c.SpeedLimitKmh),
		ConfidenceThreshold:      ptrFloat64(c.ConfidenceThreshold),
		FrameRateHz:              ptrFloat64(c.FrameRateHz),
		VehicleClasses:           slices.Clone(c.VehicleClasses),
		SmoothingAlpha:           ptrFloat64(c.SmoothingAlpha),
		SpeedWindowFrames:        ptrInt(c.SpeedWindowFrames),
		SpeedWindow:              ptrString(c.SpeedWindow.String()),
		JitterFloorPx:            ptrFloat64(c.JitterFloorPx),
		MaxAssociationDistancePx: ptrFloat64(c.MaxAssociationDistancePx),
		MissGraceFrames:          ptrInt(c.MissGraceFrames),
		HitsToConfirm:            ptrInt(c.HitsToConfirm),
		LostRetention:            ptrString(c.LostRetention.String()),
		HistoryCapacity:          ptrInt(c.HistoryCapacity),
		MaxTracks:                ptrInt(c.MaxTracks),
		Association:              ptrString(c.Association),
		ReportDeltaKmh:           ptrFloat64(c.ReportDeltaKmh),
		ReportInterval:           ptrString(c.ReportInterval.String()),
		WarningRatio:             ptrFloat64(c.WarningRatio),
		DetectionZoneStart:       ptrFloat64(c.DetectionZoneStart),
		DetectionZoneEnd:         ptrFloat64(c.DetectionZoneEnd),
		CameraName:               ptrString(c.CameraName),
		Location:                 ptrString(c.Location),
		Latitude:                 c.Latitude,
		Longitude:                c.Longitude,
		Timezone:                 ptrString(c.Timezone),
		SpeedUnits:               ptrString(c.SpeedUnits),
	}
}
