// Package temporal normalizes the timestamp text found in source
// exports. Everything here is pure and safe for concurrent use.
package temporal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/supertl/canonical-engine/pkg/apperrors"
)

// WallLayout is the canonical local wall-clock form stored alongside
// every source link, always second-precise and zone-free.
const WallLayout = "2006-01-02T15:04:05"

// utcLayout is WallLayout with the Z marker for text output.
const utcLayout = "2006-01-02T15:04:05Z"

// Layout candidates per priority tier. First successful tier wins;
// later tiers are never consulted.
var (
	isoTLayouts     = []string{"2006-01-02T15:04:05", "2006-01-02T15:04"}
	isoSpaceLayouts = []string{"2006-01-02 15:04:05", "2006-01-02 15:04"}
	mdyTimeLayouts  = []string{"01/02/2006 03:04:05 PM", "01/02/2006 03:04 PM"}
	dateOnlyLayouts = []string{"2006-01-02"}
	mdyDateLayouts  = []string{"01/02/2006"}
)

var mdyPattern = regexp.MustCompile(`(?i)^\s*(\d{1,2})/(\d{1,2})/(\d{2,4})(?:\s+(\d{1,2}):(\d{2})(?::(\d{2}))?\s*(AM|PM))?\s*$`)

// NormalizeLocal interprets the date/time text of one source row as a
// wall-clock time in loc and returns both the wall string (WallLayout)
// and the UTC instant. A trailing "Z" forces UTC interpretation
// instead. Returns a ParseError when no layout matches; the caller
// skips the row, it must never substitute a default epoch.
func NormalizeLocal(dateText, timeText string, loc *time.Location) (string, time.Time, error) {
	ds := strings.TrimSpace(dateText)
	ts := strings.TrimSpace(timeText)

	combo := ds
	if ds != "" && ts != "" {
		combo = ds + " " + ts
	}
	combo = strings.TrimSpace(combo)

	if strings.HasSuffix(combo, "Z") {
		if utc, err := ParseUTCInstant(combo); err == nil {
			return utc.In(loc).Format(WallLayout), utc, nil
		}
	}

	if local, ok := tryLayouts(combo, isoTLayouts, loc); ok {
		return wallAndUTC(local)
	}
	if local, ok := tryLayouts(combo, isoSpaceLayouts, loc); ok {
		return wallAndUTC(local)
	}
	if local, ok := tryLayouts(expandMDY(combo), mdyTimeLayouts, loc); ok {
		return wallAndUTC(local)
	}
	if local, ok := tryLayouts(combo, dateOnlyLayouts, loc); ok {
		return wallAndUTC(local)
	}
	if local, ok := tryLayouts(expandMDY(combo), mdyDateLayouts, loc); ok {
		return wallAndUTC(local)
	}

	return "", time.Time{}, &apperrors.ParseError{Field: "timestamp", Raw: combo}
}

func tryLayouts(s string, layouts []string, loc *time.Location) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func wallAndUTC(local time.Time) (string, time.Time, error) {
	return local.Format(WallLayout), local.UTC(), nil
}

// expandMDY rewrites loose month/day/year text like "7/4/21 1:05 PM"
// into the zero-padded four-digit-year form the parse layouts expect.
// Two-digit years live in the 2000s. Non-matching input passes through.
func expandMDY(s string) string {
	m := mdyPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	mm, dd, yy := pad2(m[1]), pad2(m[2]), m[3]
	if len(yy) == 2 {
		yy = "20" + yy
	}
	if m[4] == "" {
		return fmt.Sprintf("%s/%s/%s", mm, dd, yy)
	}
	core := fmt.Sprintf("%s/%s/%s %s:%s", mm, dd, yy, pad2(m[4]), m[5])
	if m[6] != "" {
		core += ":" + m[6]
	}
	return core + " " + strings.ToUpper(m[7])
}

func pad2(s string) string {
	n, _ := strconv.Atoi(s)
	return fmt.Sprintf("%02d", n)
}

// ParseUTCInstant parses stored UTC text: trailing "Z", an explicit
// offset, fractional seconds, or a naive timestamp taken as UTC.
func ParseUTCInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &apperrors.ParseError{Field: "utc instant", Raw: s}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &apperrors.ParseError{Field: "utc instant", Raw: s}
}

// FormatUTC renders an instant in the engine's stored UTC text form.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(utcLayout)
}
