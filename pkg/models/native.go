package models

// StravaActivityRow mirrors one activity as synced from the GPS
// platform. Populated by external tooling; the engine only reads it.
// StartDateTime is a naive local timestamp unless it ends in "Z".
type StravaActivityRow struct {
	ActivityID    int64    `json:"activity_id"`
	Name          *string  `json:"name,omitempty"`
	StartDateTime string   `json:"start_date_time"`
	SportType     *string  `json:"sport_type,omitempty"`
	DistanceM     *float64 `json:"distance_m,omitempty"`
	MovingTimeS   *int     `json:"moving_time_s,omitempty"`
	Data          []byte   `json:"-"`
}

// SportTracksActivityRow mirrors one desktop-log export row. StartDate
// and StartTime arrive in several textual layouts and go through the
// temporal normalizer before any arithmetic.
type SportTracksActivityRow struct {
	ActivityID string   `json:"activity_id"`
	StartDate  *string  `json:"start_date,omitempty"`
	StartTime  *string  `json:"start_time,omitempty"`
	DistanceM  *float64 `json:"distance_m,omitempty"`
	DurationS  *float64 `json:"duration_s,omitempty"`
	Category   *string  `json:"category,omitempty"`
	Notes      *string  `json:"notes,omitempty"`
}
