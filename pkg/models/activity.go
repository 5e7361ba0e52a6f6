// Package models contains domain types for the canonical activity engine.
package models

import (
	"time"
)

// CanonicalActivity is the single reconciled record for one real-world
// workout. Source rows from any system attach to it via SourceLink.
type CanonicalActivity struct {
	ID           int64      `json:"id"`
	StartTimeUTC time.Time  `json:"start_time_utc"`
	EndTimeUTC   *time.Time `json:"end_time_utc,omitempty"`
	ElapsedTimeS *int       `json:"elapsed_time_s,omitempty"`
	MovingTimeS  *int       `json:"moving_time_s,omitempty"`
	DistanceM    *float64   `json:"distance_m,omitempty"`
	Name         string     `json:"name"`
	Sport        string     `json:"sport"`

	// Timezone facts. TzName is an IANA zone, UTCOffsetMinutes the
	// DST-aware offset at the activity's start, TzSource the provenance
	// label explaining how the zone was determined.
	TzName           *string   `json:"tz_name,omitempty"`
	UTCOffsetMinutes *int      `json:"utc_offset_minutes,omitempty"`
	TzSource         *TzSource `json:"tz_source,omitempty"`

	SourceQuality int       `json:"source_quality"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EndUTC returns the exclusive end of the activity interval: the stored
// end time when present, otherwise start + elapsed. ok is false when
// neither is available.
func (a *CanonicalActivity) EndUTC() (time.Time, bool) {
	if a.EndTimeUTC != nil {
		return *a.EndTimeUTC, true
	}
	if a.ElapsedTimeS != nil {
		return a.StartTimeUTC.Add(time.Duration(*a.ElapsedTimeS) * time.Second), true
	}
	return time.Time{}, false
}

// DurationS returns elapsed seconds, falling back to moving seconds.
func (a *CanonicalActivity) DurationS() *int {
	if a.ElapsedTimeS != nil {
		return a.ElapsedTimeS
	}
	return a.MovingTimeS
}
