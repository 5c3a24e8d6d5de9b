package units

import (
	"math"
	"testing"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		speedKmh float64
		units    string
		expected float64
	}{
		{"36 km/h to mps", 36.0, MPS, 10.0},
		{"100 km/h to mph", 100.0, MPH, 62.1371},
		{"50 km/h to kmph", 50.0, KMPH, 50.0},
		{"50 km/h to kph", 50.0, KPH, 50.0},
		{"unknown units stay km/h", 72.0, "furlongs", 72.0},
		{"zero", 0, MPH, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertSpeed(tt.speedKmh, tt.units)
			if math.Abs(result-tt.expected) > 0.001 {
				t.Errorf("ConvertSpeed(%f, %s) = %f, want %f", tt.speedKmh, tt.units, result, tt.expected)
			}
		})
	}
}

func TestMPSToKmh(t *testing.T) {
	if got := MPSToKmh(1); got != 3.6 {
		t.Errorf("MPSToKmh(1) = %f, want 3.6", got)
	}
	if got := MPSToKmh(20); math.Abs(got-72) > 1e-9 {
		t.Errorf("MPSToKmh(20) = %f, want 72", got)
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		unit     string
		expected bool
	}{
		{MPS, true},
		{MPH, true},
		{KMPH, true},
		{KPH, true},
		{"knots", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValid(tt.unit); got != tt.expected {
			t.Errorf("IsValid(%q) = %v, want %v", tt.unit, got, tt.expected)
		}
	}
}

func TestRoundTo(t *testing.T) {
	if got := RoundTo(44.7391, 1); got != 44.7 {
		t.Errorf("RoundTo(44.7391, 1) = %f, want 44.7", got)
	}
	if got := RoundTo(71.5, 0); got != 72 {
		t.Errorf("RoundTo(71.5, 0) = %f, want 72", got)
	}
}
