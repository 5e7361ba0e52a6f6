package models

import "time"

// TzMismatchPair is a strava-only / sporttracks-only activity pair whose
// start instants sit close to a whole number of hours apart. Pairs like
// this usually mean one side recorded a local wall time as UTC, so the
// matcher never saw them inside its window.
type TzMismatchPair struct {
	StravaActivityID      int64
	SportTracksActivityID int64
	StravaStartUTC        time.Time
	SportTracksStartUTC   time.Time
	HourDiff              int
	StravaDistanceM       float64
	SportTracksDistanceM  float64
}

// MergePair names one confirmed duplicate: drop is folded into keep.
type MergePair struct {
	KeepID int64
	DropID int64
}
