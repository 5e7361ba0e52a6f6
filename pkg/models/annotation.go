package models

// IsTraining states for a SecondaryAnnotation. The desktop log used 2
// ("unset") as its column default; backfilled rows are marked training.
const (
	IsTrainingNo    = 0
	IsTrainingYes   = 1
	IsTrainingUnset = 2
)

// SecondaryAnnotation carries user-entered enrichment (workout type,
// category, notes, tags) keyed by the historical per-source activity
// key. Its link to a canonical activity is relation-only and nullable:
// untangling clears the link, never the annotation itself.
type SecondaryAnnotation struct {
	ActivityKey         string  `json:"activity_key"`
	WorkoutTypeID       *int    `json:"workout_type_id,omitempty"`
	CategoryID          *int    `json:"category_id,omitempty"`
	Notes               *string `json:"notes,omitempty"`
	Tags                *string `json:"tags,omitempty"`
	IsTraining          int     `json:"is_training"`
	CanonicalActivityID *int64  `json:"canonical_activity_id,omitempty"`
}

// Ref parses the annotation's activity key into its source reference.
func (a *SecondaryAnnotation) Ref() SourceRef {
	return ParseActivityKey(a.ActivityKey)
}
