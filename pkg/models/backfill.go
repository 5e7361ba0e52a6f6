package models

// AnnotationBackfillCandidate is a canonical activity carrying a desktop
// source link but no annotation row yet. The backfill synthesizes one
// keyed on the native id.
type AnnotationBackfillCandidate struct {
	CanonicalActivityID int64
	SportTracksID       string
	Category            *string
	StartDate           *string
}
