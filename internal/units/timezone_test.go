package units

import (
	"testing"
	"time"
)

func TestIsTimezoneValid(t *testing.T) {
	tests := []struct {
		name     string
		timezone string
		expected bool
	}{
		{"valid UTC", "UTC", true},
		{"valid Europe", "Europe/Berlin", true},
		{"invalid", "Invalid/Timezone", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := IsTimezoneValid(tt.timezone)
			if res != tt.expected {
				t.Errorf("IsTimezoneValid(%s) = %v, want %v", tt.timezone, res, tt.expected)
			}
		})
	}
}

func TestConvertTime(t *testing.T) {
	utc := time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC)

	got, err := ConvertTime(utc, "Asia/Tokyo")
	if err != nil {
		t.Fatalf("ConvertTime failed: %v", err)
	}
	if got.Day() != 16 || got.Hour() != 8 {
		t.Errorf("ConvertTime to Tokyo = %v, want 2025-01-16 08:30", got)
	}

	if _, err := ConvertTime(utc, "Not/AZone"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestLocationOrUTC(t *testing.T) {
	if loc := LocationOrUTC("bogus"); loc != time.UTC {
		t.Errorf("LocationOrUTC(bogus) = %v, want UTC", loc)
	}
	if loc := LocationOrUTC("Europe/Paris"); loc.String() != "Europe/Paris" {
		t.Errorf("LocationOrUTC(Europe/Paris) = %v", loc)
	}
}
