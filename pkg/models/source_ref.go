package models

import "strings"

// Historic key prefixes used by annotation rows and some source links.
const (
	gpsKeyPrefix     = "activity-"
	desktopKeyPrefix = "st-"
)

// SourceKind tags which system an activity key refers to. The numeric
// order doubles as the deterministic keep preference when nothing else
// disambiguates (GPS first, then desktop, then unknown).
type SourceKind int

const (
	GpsSource SourceKind = iota
	DesktopSource
	UnknownSource
)

// String returns a human-readable kind label.
func (k SourceKind) String() string {
	switch k {
	case GpsSource:
		return "gps"
	case DesktopSource:
		return "desktop"
	default:
		return "unknown"
	}
}

// System maps the kind onto its SourceSystem. ok is false for UnknownSource.
func (k SourceKind) System() (SourceSystem, bool) {
	switch k {
	case GpsSource:
		return SourceStrava, true
	case DesktopSource:
		return SourceSportTracks, true
	default:
		return "", false
	}
}

// SourceRef is the parsed form of an activity key. NativeID is the bare
// per-source id with any prefix removed; it is empty for UnknownSource.
type SourceRef struct {
	Kind     SourceKind
	NativeID string
	Raw      string
}

// ParseActivityKey is the single place activity keys are interpreted.
// "activity-<id>" refers to the GPS platform, "st-<id>" to the desktop
// log; anything else is unknown and carries no native id.
func ParseActivityKey(key string) SourceRef {
	switch {
	case strings.HasPrefix(key, gpsKeyPrefix):
		return SourceRef{Kind: GpsSource, NativeID: key[len(gpsKeyPrefix):], Raw: key}
	case strings.HasPrefix(key, desktopKeyPrefix):
		return SourceRef{Kind: DesktopSource, NativeID: key[len(desktopKeyPrefix):], Raw: key}
	default:
		return SourceRef{Kind: UnknownSource, Raw: key}
	}
}

// GpsActivityKey builds the annotation key for a GPS-platform activity.
func GpsActivityKey(nativeID string) string {
	return gpsKeyPrefix + nativeID
}

// DesktopActivityKey builds the annotation key for a desktop-log activity.
func DesktopActivityKey(nativeID string) string {
	return desktopKeyPrefix + nativeID
}

// NormalizeSourceID maps a stored source link id into its bare form.
// Older GPS links were written with the "activity-" key prefix instead
// of the bare native id; desktop links were always bare.
func NormalizeSourceID(source SourceSystem, sourceActivityID string) string {
	if source == SourceStrava && strings.HasPrefix(sourceActivityID, gpsKeyPrefix) {
		return sourceActivityID[len(gpsKeyPrefix):]
	}
	return sourceActivityID
}
