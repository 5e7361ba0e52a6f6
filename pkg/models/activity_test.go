package models

import (
	"testing"
	"time"
)

func TestCanonicalActivity_EndUTC(t *testing.T) {
	start := time.Date(2025, 3, 9, 1, 30, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)
	elapsed := 3600

	tests := []struct {
		name     string
		activity CanonicalActivity
		want     time.Time
		wantOK   bool
	}{
		{
			name:     "explicit end wins over elapsed",
			activity: CanonicalActivity{StartTimeUTC: start, EndTimeUTC: &end, ElapsedTimeS: &elapsed},
			want:     end,
			wantOK:   true,
		},
		{
			name:     "derived from elapsed",
			activity: CanonicalActivity{StartTimeUTC: start, ElapsedTimeS: &elapsed},
			want:     start.Add(time.Hour),
			wantOK:   true,
		},
		{
			name:     "no end available",
			activity: CanonicalActivity{StartTimeUTC: start},
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.activity.EndUTC()
			if ok != tt.wantOK {
				t.Fatalf("EndUTC() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("EndUTC() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanonicalActivity_DurationS(t *testing.T) {
	elapsed, moving := 3600, 3500

	a := CanonicalActivity{ElapsedTimeS: &elapsed, MovingTimeS: &moving}
	if got := a.DurationS(); got == nil || *got != elapsed {
		t.Errorf("DurationS() = %v, want elapsed", got)
	}

	b := CanonicalActivity{MovingTimeS: &moving}
	if got := b.DurationS(); got == nil || *got != moving {
		t.Errorf("DurationS() = %v, want moving fallback", got)
	}

	var c CanonicalActivity
	if got := c.DurationS(); got != nil {
		t.Errorf("DurationS() = %v, want nil", got)
	}
}
