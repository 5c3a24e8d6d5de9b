package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/speedwatch/internal/security"
)

// DefaultConfigPath is the path to the calibration defaults shipped with the repo.
const DefaultConfigPath = "config/calibration.defaults.json"

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// TuningConfig is the on-disk and over-the-wire schema for calibration.
// Every field is optional; the Get* methods supply defaults, so a partial
// file or a partial POST body is a valid patch. The same struct is used for
// startup files and for /api/config updates.
type TuningConfig struct {
	// Calibration
	PixelsPerMeter      *float64 `json:"pixels_per_meter,omitempty" yaml:"pixels_per_meter,omitempty"`
	SpeedLimitKmh       *float64 `json:"speed_limit_kmh,omitempty" yaml:"speed_limit_kmh,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" yaml:"confidence_threshold,omitempty"`
	FrameRateHz         *float64 `json:"frame_rate_hz,omitempty" yaml:"frame_rate_hz,omitempty"`
	VehicleClasses      []string `json:"vehicle_classes,omitempty" yaml:"vehicle_classes,omitempty"`

	// Speed estimation
	SmoothingAlpha    *float64 `json:"smoothing_alpha,omitempty" yaml:"smoothing_alpha,omitempty"`
	SpeedWindowFrames *int     `json:"speed_window_frames,omitempty" yaml:"speed_window_frames,omitempty"`
	SpeedWindow       *string  `json:"speed_window,omitempty" yaml:"speed_window,omitempty"` // duration string like "1s"
	JitterFloorPx     *float64 `json:"jitter_floor_px,omitempty" yaml:"jitter_floor_px,omitempty"`

	// Tracker
	MaxAssociationDistancePx *float64 `json:"max_association_distance_px,omitempty" yaml:"max_association_distance_px,omitempty"`
	MissGraceFrames          *int     `json:"miss_grace_frames,omitempty" yaml:"miss_grace_frames,omitempty"`
	HitsToConfirm            *int     `json:"hits_to_confirm,omitempty" yaml:"hits_to_confirm,omitempty"`
	LostRetention            *string  `json:"lost_retention,omitempty" yaml:"lost_retention,omitempty"`
	HistoryCapacity          *int     `json:"history_capacity,omitempty" yaml:"history_capacity,omitempty"`
	MaxTracks                *int     `json:"max_tracks,omitempty" yaml:"max_tracks,omitempty"`
	Association              *string  `json:"association,omitempty" yaml:"association,omitempty"`

	// Reporting
	ReportDeltaKmh *float64 `json:"report_delta_kmh,omitempty" yaml:"report_delta_kmh,omitempty"`
	ReportInterval *string  `json:"report_interval,omitempty" yaml:"report_interval,omitempty"`
	WarningRatio   *float64 `json:"warning_ratio,omitempty" yaml:"warning_ratio,omitempty"`

	// Detection zone, fractions of frame height
	DetectionZoneStart *float64 `json:"detection_zone_start,omitempty" yaml:"detection_zone_start,omitempty"`
	DetectionZoneEnd   *float64 `json:"detection_zone_end,omitempty" yaml:"detection_zone_end,omitempty"`

	// Site
	CameraName *string  `json:"camera_name,omitempty" yaml:"camera_name,omitempty"`
	Location   *string  `json:"location,omitempty" yaml:"location,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Timezone   *string  `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	SpeedUnits *string  `json:"speed_units,omitempty" yaml:"speed_units,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON or YAML file.
// The extension selects the decoder. Fields omitted from the file keep
// their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadTuningConfigWithin is LoadTuningConfig restricted to files under baseDir.
func LoadTuningConfigWithin(path, baseDir string) (*TuningConfig, error) {
	if err := security.ValidatePathWithinDirectory(path, baseDir); err != nil {
		return nil, fmt.Errorf("config path rejected: %w", err)
	}
	return LoadTuningConfig(path)
}

// Validate checks the fields that can be checked without the full snapshot:
// duration strings must parse. Range checks live on CalibrationConfig.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*string{
		"speed_window":    c.SpeedWindow,
		"lost_retention":  c.LostRetention,
		"report_interval": c.ReportInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		if _, err := time.ParseDuration(*v); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetPixelsPerMeter returns the pixels_per_meter value or the default.
func (c *TuningConfig) GetPixelsPerMeter() float64 {
	if c.PixelsPerMeter == nil {
		return 8.8
	}
	return *c.PixelsPerMeter
}

// GetSpeedLimitKmh returns the speed_limit_kmh value or the default.
func (c *TuningConfig) GetSpeedLimitKmh() float64 {
	if c.SpeedLimitKmh == nil {
		return 80
	}
	return *c.SpeedLimitKmh
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.5
	}
	return *c.ConfidenceThreshold
}

// GetFrameRateHz returns the frame_rate_hz value or the default.
func (c *TuningConfig) GetFrameRateHz() float64 {
	if c.FrameRateHz == nil {
		return 30
	}
	return *c.FrameRateHz
}

// GetVehicleClasses returns the vehicle_classes value or the default.
func (c *TuningConfig) GetVehicleClasses() []string {
	if len(c.VehicleClasses) == 0 {
		return []string{"car", "truck", "motorcycle", "bus"}
	}
	out := make([]string, len(c.VehicleClasses))
	copy(out, c.VehicleClasses)
	return out
}

// GetSmoothingAlpha returns the smoothing_alpha value or the default.
func (c *TuningConfig) GetSmoothingAlpha() float64 {
	if c.SmoothingAlpha == nil {
		return 0.5
	}
	return *c.SmoothingAlpha
}

// GetSpeedWindowFrames returns the speed_window_frames value or the default.
func (c *TuningConfig) GetSpeedWindowFrames() int {
	if c.SpeedWindowFrames == nil {
		return 5
	}
	return *c.SpeedWindowFrames
}

// GetSpeedWindow parses and returns SpeedWindow as a time.Duration.
func (c *TuningConfig) GetSpeedWindow() time.Duration {
	return durationOr(c.SpeedWindow, time.Second)
}

// GetJitterFloorPx returns the jitter_floor_px value or the default (disabled).
func (c *TuningConfig) GetJitterFloorPx() float64 {
	if c.JitterFloorPx == nil {
		return 0
	}
	return *c.JitterFloorPx
}

// GetMaxAssociationDistancePx returns the max_association_distance_px value or the default.
func (c *TuningConfig) GetMaxAssociationDistancePx() float64 {
	if c.MaxAssociationDistancePx == nil {
		return 100
	}
	return *c.MaxAssociationDistancePx
}

// GetMissGraceFrames returns the miss_grace_frames value or the default.
func (c *TuningConfig) GetMissGraceFrames() int {
	if c.MissGraceFrames == nil {
		return 3
	}
	return *c.MissGraceFrames
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 2
	}
	return *c.HitsToConfirm
}

// GetLostRetention parses and returns LostRetention as a time.Duration.
func (c *TuningConfig) GetLostRetention() time.Duration {
	return durationOr(c.LostRetention, 2*time.Second)
}

// GetHistoryCapacity returns the history_capacity value or the default.
func (c *TuningConfig) GetHistoryCapacity() int {
	if c.HistoryCapacity == nil {
		return 30
	}
	return *c.HistoryCapacity
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 256
	}
	return *c.MaxTracks
}

// GetAssociation returns the association strategy or the default.
func (c *TuningConfig) GetAssociation() string {
	if c.Association == nil || *c.Association == "" {
		return AssociationGreedy
	}
	return *c.Association
}

// GetReportDeltaKmh returns the report_delta_kmh value or the default.
func (c *TuningConfig) GetReportDeltaKmh() float64 {
	if c.ReportDeltaKmh == nil {
		return 2
	}
	return *c.ReportDeltaKmh
}

// GetReportInterval parses and returns ReportInterval as a time.Duration.
func (c *TuningConfig) GetReportInterval() time.Duration {
	return durationOr(c.ReportInterval, time.Second)
}

// GetWarningRatio returns the warning_ratio value or the default.
func (c *TuningConfig) GetWarningRatio() float64 {
	if c.WarningRatio == nil {
		return 0.9
	}
	return *c.WarningRatio
}

// GetDetectionZoneStart returns the detection_zone_start value or the default.
func (c *TuningConfig) GetDetectionZoneStart() float64 {
	if c.DetectionZoneStart == nil {
		return 0.2
	}
	return *c.DetectionZoneStart
}

// GetDetectionZoneEnd returns the detection_zone_end value or the default.
func (c *TuningConfig) GetDetectionZoneEnd() float64 {
	if c.DetectionZoneEnd == nil {
		return 0.8
	}
	return *c.DetectionZoneEnd
}

// GetCameraName returns the camera_name value or the default.
func (c *TuningConfig) GetCameraName() string {
	if c.CameraName == nil {
		return "Camera 1"
	}
	return *c.CameraName
}

// GetLocation returns the location value or the default.
func (c *TuningConfig) GetLocation() string {
	if c.Location == nil {
		return ""
	}
	return *c.Location
}

// GetTimezone returns the timezone value or the default.
func (c *TuningConfig) GetTimezone() string {
	if c.Timezone == nil || *c.Timezone == "" {
		return "UTC"
	}
	return *c.Timezone
}

// GetSpeedUnits returns the speed_units value or the default.
func (c *TuningConfig) GetSpeedUnits() string {
	if c.SpeedUnits == nil || *c.SpeedUnits == "" {
		return "kmph"
	}
	return *c.SpeedUnits
}
