package models

import "time"

// SourceSystem identifies which external system a source row came from.
type SourceSystem string

const (
	// SourceStrava is the GPS/social platform feed.
	SourceStrava SourceSystem = "strava"
	// SourceSportTracks is the desktop training log export.
	SourceSportTracks SourceSystem = "sporttracks"
)

// String returns the string representation of a SourceSystem.
func (s SourceSystem) String() string {
	return string(s)
}

// IsValid returns true if the source is one of the known systems.
func (s SourceSystem) IsValid() bool {
	switch s {
	case SourceStrava, SourceSportTracks:
		return true
	default:
		return false
	}
}

// Match confidence labels recorded on a SourceLink when it is created.
// Tier letters come from the fuzzy matcher; direct means the link was
// created together with its canonical activity and never matched.
const (
	MatchTierA        = "A"
	MatchTierB        = "B"
	MatchDirectStrava = "direct-strava"
)

// SourceLink attaches one external source row to a canonical activity.
// (Source, SourceActivityID) is unique across the store: a native row
// can be linked at most once, which is what makes re-runs idempotent.
type SourceLink struct {
	ID               int64        `json:"id"`
	ActivityID       int64        `json:"activity_id"`
	Source           SourceSystem `json:"source"`
	SourceActivityID string       `json:"source_activity_id"`

	// Denormalized copies of the source row at ingest time, kept for
	// replayable diagnostics even if the native mirror churns.
	StartTimeLocal *string    `json:"start_time_local,omitempty"`
	StartTimeUTC   *time.Time `json:"start_time_utc,omitempty"`
	ElapsedTimeS   *int       `json:"elapsed_time_s,omitempty"`
	DistanceM      *float64   `json:"distance_m,omitempty"`
	Sport          *string    `json:"sport,omitempty"`

	PayloadHash     *string   `json:"payload_hash,omitempty"`
	MatchConfidence *string   `json:"match_confidence,omitempty"`
	IngestedAtUTC   time.Time `json:"ingested_at_utc"`
}
