package tracks

import (
	"time"

	"github.com/banshee-data/speedwatch/internal/config"
)

// Association strategies.
const (
	AssociationGreedy    = config.AssociationGreedy
	AssociationHungarian = config.AssociationHungarian
)

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	MaxAssociationDistancePx float64       // Centroid distance gate (strictly less than)
	MissGraceFrames          int           // Consecutive misses tolerated before a track is Lost
	HitsToConfirm            int           // Consecutive hits needed for confirmation
	LostRetention            time.Duration // How long Lost tracks are kept before purge
	HistoryCapacity          int           // Per-track ring buffer size
	MaxTracks                int           // Upper bound on tracks held, Lost included
	Association              string        // greedy or hungarian
}

// DefaultTrackerConfig returns the built-in tracker defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromCalibration(config.DefaultCalibration())
}

// TrackerConfigFromCalibration builds a TrackerConfig from a calibration snapshot.
func TrackerConfigFromCalibration(c *config.CalibrationConfig) TrackerConfig {
	return TrackerConfig{
		MaxAssociationDistancePx: c.MaxAssociationDistancePx,
		MissGraceFrames:          c.MissGraceFrames,
		HitsToConfirm:            c.HitsToConfirm,
		LostRetention:            c.LostRetention,
		HistoryCapacity:          c.HistoryCapacity,
		MaxTracks:                c.MaxTracks,
		Association:              c.Association,
	}
}
