package models

// TzSource records how an activity's timezone was determined.
type TzSource string

const (
	// TzSourceReported means the source payload carried a usable zone label.
	TzSourceReported TzSource = "source-reported"
	// TzSourceSuspect means the payload carried a zone outside the
	// operator allowlist; recorded, but flagged for review.
	TzSourceSuspect TzSource = "source-suspect"
	// TzManualHomeNoGPS means a stationary trainer/virtual session with no
	// GPS fix was forced to the home zone.
	TzManualHomeNoGPS TzSource = "manual-home-no-gps"
	// TzSourceFallback means a GPS-platform payload existed but carried no
	// usable zone label; home zone applied.
	TzSourceFallback TzSource = "source-fallback"
	// TzAssumedHome means no payload informed the decision at all.
	TzAssumedHome TzSource = "assumed-home"
	// TzBadName means the resolved zone id did not exist in the tz
	// database; the name is kept for diagnosis, the offset stays unset.
	TzBadName TzSource = "bad-timezone-name"
)

// String returns the string representation of a TzSource.
func (s TzSource) String() string {
	return string(s)
}

// Rank orders provenance labels by trustworthiness. Higher wins.
func (s TzSource) Rank() int {
	switch s {
	case TzSourceReported:
		return 3
	case TzSourceSuspect, TzManualHomeNoGPS:
		return 2
	case TzSourceFallback, TzAssumedHome:
		return 1
	default:
		return 0
	}
}

// CanReplace reports whether a value with this provenance may overwrite
// one with the existing provenance. Equal rank re-resolves; lower rank
// never silently downgrades, not even under force.
func (s TzSource) CanReplace(existing TzSource) bool {
	return s.Rank() >= existing.Rank()
}
