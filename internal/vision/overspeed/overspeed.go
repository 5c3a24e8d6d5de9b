// Package overspeed classifies a speed against the configured limit.
package overspeed

// Level is the display band of a speed relative to the limit.
type Level string

const (
	LevelNormal    Level = "normal"
	LevelWarning   Level = "warning"
	LevelOverspeed Level = "overspeed"
)

// DefaultWarningRatio is the severity at which a speed is shown as a warning.
const DefaultWarningRatio = 0.9

// Decision is the result of classifying one speed.
type Decision struct {
	Overspeed bool
	Severity  float64 // speed / limit
	Level     Level
}

// Classifier holds the warning band. The zero value uses DefaultWarningRatio.
type Classifier struct {
	WarningRatio float64
}

// Classify compares speedKmh against limitKmh. Overspeed requires the speed
// to be strictly greater than the limit. A non-positive limit never
// classifies as overspeed.
func (c Classifier) Classify(speedKmh, limitKmh float64) Decision {
	if limitKmh <= 0 {
		return Decision{Level: LevelNormal}
	}
	ratio := c.WarningRatio
	if ratio <= 0 {
		ratio = DefaultWarningRatio
	}
	d := Decision{
		Overspeed: speedKmh > limitKmh,
		Severity:  speedKmh / limitKmh,
		Level:     LevelNormal,
	}
	switch {
	case d.Overspeed:
		d.Level = LevelOverspeed
	case d.Severity >= ratio:
		d.Level = LevelWarning
	}
	return d
}

// Classify uses the default warning ratio.
func Classify(speedKmh, limitKmh float64) Decision {
	return Classifier{}.Classify(speedKmh, limitKmh)
}
