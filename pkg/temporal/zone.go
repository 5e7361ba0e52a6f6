package temporal

import (
	"strings"
	"time"

	"github.com/supertl/canonical-engine/pkg/apperrors"
)

// ExtractIANALabel pulls an IANA zone id out of the GPS platform's
// timezone string, which usually looks like "(GMT-06:00) America/Chicago"
// but is sometimes already a bare zone id. Returns "" when no usable
// id is present.
func ExtractIANALabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}

	if i := strings.Index(label, ")"); i >= 0 {
		tail := strings.TrimSpace(label[i+1:])
		if strings.Contains(tail, "/") {
			return tail
		}
	}

	if strings.Contains(label, "/") && !strings.Contains(label, "GMT") {
		return label
	}

	return ""
}

// OffsetMinutes computes the DST-aware UTC offset, in minutes, that
// zoneName was observing at the given instant. Real tz database rules,
// never a static table. Unknown zones return a LookupError.
func OffsetMinutes(at time.Time, zoneName string) (int, error) {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return 0, &apperrors.LookupError{Kind: "timezone", Value: zoneName}
	}
	_, offsetSeconds := at.In(loc).Zone()
	return offsetSeconds / 60, nil
}
