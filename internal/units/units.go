// Package units provides speed unit constants, validation and conversion.
// The tracking core works in km/h; other units exist for display.
package units

import (
	"math"
	"slices"
	"strings"
)

// Display units accepted in calibration.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// KmhToMph is the km/h to mph factor used for reports.
const KmhToMph = 0.621371

var ValidUnits = []string{MPS, MPH, KMPH, KPH}

func IsValid(unit string) bool { return slices.Contains(ValidUnits, unit) }

// GetValidUnitsString lists the units for error messages.
func GetValidUnitsString() string { return strings.Join(ValidUnits, ", ") }

// MPSToKmh converts metres per second to kilometres per hour.
func MPSToKmh(mps float64) float64 {
	return mps * 3.6
}

// ConvertSpeed converts a speed in km/h to the target units.
// Unknown units return the km/h value unchanged.
func ConvertSpeed(speedKmh float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedKmh * KmhToMph
	case MPS:
		return speedKmh / 3.6
	default:
		return speedKmh
	}
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
