package models

// IntegrityReport aggregates the referential checks run by the check
// command. Sample slices carry at most a handful of offending ids so the
// report stays readable on large stores.
type IntegrityReport struct {
	TableCounts map[string]int64

	OrphanSourceLinks   int64
	OrphanLinkSamples   []*SourceLink
	ActivitiesNoSources int64
	NoSourceSamples     []int64

	AnnotationsMissingCanonical int64
	AnnotationsUnlinked         int64

	UnlinkedStrava      int64
	UnlinkedSportTracks int64

	DuplicateNativeKeys int64
}

// CoverageReport summarizes which sources back the canonical store.
type CoverageReport struct {
	TotalActivities int64
	WithStrava      int64
	WithSportTracks int64
	WithBoth        int64
	WithAnnotation  int64
}
