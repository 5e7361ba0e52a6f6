package temporal

import (
	"errors"
	"testing"
	"time"

	"github.com/supertl/canonical-engine/pkg/apperrors"
)

func TestExtractIANALabel(t *testing.T) {
	tests := []struct {
		name  string
		label string
		want  string
	}{
		{"gmt prefixed", "(GMT-06:00) America/Chicago", "America/Chicago"},
		{"gmt positive offset", "(GMT+11:00) Australia/Melbourne", "Australia/Melbourne"},
		{"extra whitespace", "  (GMT-06:00)   America/Chicago  ", "America/Chicago"},
		{"bare iana", "America/Denver", "America/Denver"},
		{"offset only", "(GMT-06:00)", ""},
		{"gmt string without zone", "GMT-06:00", ""},
		{"empty", "", ""},
		{"free text", "Central Time", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractIANALabel(tt.label); got != tt.want {
				t.Errorf("ExtractIANALabel(%q) = %q, want %q", tt.label, got, tt.want)
			}
		})
	}
}

func TestOffsetMinutes(t *testing.T) {
	winter := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	summer := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		zone string
		want int
	}{
		{"chicago standard time", winter, "America/Chicago", -360},
		{"chicago daylight time", summer, "America/Chicago", -300},
		{"phoenix ignores dst", summer, "America/Phoenix", -420},
		{"melbourne winter", summer, "Australia/Melbourne", 600},
		{"utc", winter, "UTC", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OffsetMinutes(tt.at, tt.zone)
			if err != nil {
				t.Fatalf("OffsetMinutes(%q): %v", tt.zone, err)
			}
			if got != tt.want {
				t.Errorf("OffsetMinutes(%q) = %d, want %d", tt.zone, got, tt.want)
			}
		})
	}

	t.Run("unknown zone", func(t *testing.T) {
		_, err := OffsetMinutes(winter, "Mars/Olympus_Mons")
		if !errors.Is(err, apperrors.ErrLookup) {
			t.Errorf("err = %v, want ErrLookup", err)
		}
		var lookupErr *apperrors.LookupError
		if !errors.As(err, &lookupErr) || lookupErr.Value != "Mars/Olympus_Mons" {
			t.Errorf("LookupError detail missing: %v", err)
		}
	})
}
