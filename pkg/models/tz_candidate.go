package models

import "time"

// TzCandidate is a canonical activity joined with the raw payload of its
// GPS source link, when one exists. The timezone backfill resolves a zone
// and provenance for each of these rows.
type TzCandidate struct {
	ID               int64
	StartTimeUTC     time.Time
	Sport            string
	TzName           *string
	TzSource         *TzSource
	UTCOffsetMinutes *int

	// GpsNativeID and GpsData are nil when the activity has no GPS
	// source link or the native mirror row is missing.
	GpsNativeID *string
	GpsData     []byte
}
