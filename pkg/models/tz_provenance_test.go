package models

import "testing"

func TestTzSource_Rank(t *testing.T) {
	tests := []struct {
		source   TzSource
		expected int
	}{
		{TzSourceReported, 3},
		{TzSourceSuspect, 2},
		{TzManualHomeNoGPS, 2},
		{TzSourceFallback, 1},
		{TzAssumedHome, 1},
		{TzBadName, 0},
		{TzSource(""), 0},
		{TzSource("something-else"), 0},
	}

	for _, tt := range tests {
		name := string(tt.source)
		if name == "" {
			name = "empty"
		}
		t.Run(name, func(t *testing.T) {
			if got := tt.source.Rank(); got != tt.expected {
				t.Errorf("TzSource.Rank() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestTzSource_CanReplace(t *testing.T) {
	tests := []struct {
		name     string
		incoming TzSource
		existing TzSource
		expected bool
	}{
		{"reported over assumed", TzSourceReported, TzAssumedHome, true},
		{"reported over reported", TzSourceReported, TzSourceReported, true},
		{"assumed never over reported", TzAssumedHome, TzSourceReported, false},
		{"fallback never over manual", TzSourceFallback, TzManualHomeNoGPS, false},
		{"manual over fallback", TzManualHomeNoGPS, TzSourceFallback, true},
		{"anything over unset", TzAssumedHome, TzSource(""), true},
		{"anything over bad name", TzAssumedHome, TzBadName, true},
		{"suspect ties manual", TzSourceSuspect, TzManualHomeNoGPS, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.incoming.CanReplace(tt.existing); got != tt.expected {
				t.Errorf("%s.CanReplace(%s) = %v, want %v", tt.incoming, tt.existing, got, tt.expected)
			}
		})
	}
}
