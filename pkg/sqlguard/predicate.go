// Package sqlguard validates operator-supplied SQL filter predicates
// (the --only flag) before they are interpolated into engine queries.
// Predicates are trusted-operator input, but a typo that smuggles a
// second statement into a batch UPDATE is still a disaster worth a
// cheap scan.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/supertl/canonical-engine/pkg/apperrors"
)

// mutatingVerb matches statement verbs that have no business inside a
// boolean filter expression.
var mutatingVerb = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate|grant|revoke|create|copy)\b`)

// ValidatePredicate normalizes and checks a filter predicate:
//  1. Trim whitespace and strip one trailing semicolon.
//  2. Reject empty predicates, stacked statements (a semicolon outside
//     string literals), and comment markers.
//  3. Reject mutating statement verbs outside string literals.
//  4. Run every string literal through libinjection.
//
// Returns the normalized predicate, or an error wrapping
// apperrors.ErrUnsafePredicate. Callers interpolate the result in
// parentheses: AND (<predicate>).
func ValidatePredicate(predicate string) (string, error) {
	normalized := stripTrailingSemicolon(strings.TrimSpace(predicate))
	if normalized == "" {
		return "", fmt.Errorf("%w: empty predicate", apperrors.ErrUnsafePredicate)
	}

	scan := scanPredicate(normalized)
	if scan.unterminated {
		return "", fmt.Errorf("%w: unterminated string literal", apperrors.ErrUnsafePredicate)
	}
	if scan.stacked {
		return "", fmt.Errorf("%w: multiple statements", apperrors.ErrUnsafePredicate)
	}
	if scan.comment {
		return "", fmt.Errorf("%w: comment marker", apperrors.ErrUnsafePredicate)
	}
	if verb := mutatingVerb.FindString(scan.blanked); verb != "" {
		return "", fmt.Errorf("%w: statement verb %q", apperrors.ErrUnsafePredicate, strings.ToLower(verb))
	}

	for _, literal := range scan.literals {
		if isSQLi, fingerprint := libinjection.IsSQLi(literal); isSQLi {
			return "", fmt.Errorf("%w: injection fingerprint %s in literal %q",
				apperrors.ErrUnsafePredicate, string(fingerprint), literal)
		}
	}

	return normalized, nil
}

// scanResult is one pass over the predicate text.
type scanResult struct {
	// blanked is the predicate with string literal contents replaced by
	// spaces, so structural checks cannot be fooled by quoted text.
	blanked      string
	literals     []string
	stacked      bool
	comment      bool
	unterminated bool
}

// scanPredicate walks the predicate once, tracking single- and
// double-quoted string state. Both backslash escapes (\') and the SQL
// standard doubled quote ('') are handled: the doubled quote exits and
// immediately re-enters the literal, which keeps the scan correct.
func scanPredicate(predicate string) scanResult {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	var (
		result  scanResult
		blanked strings.Builder
		literal strings.Builder
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range predicate {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				result.stacked = true
			case '\'':
				state = stateSingleQuote
				literal.Reset()
			case '"':
				state = stateDoubleQuote
				literal.Reset()
			case '-':
				if prevChar == '-' {
					result.comment = true
				}
			case '*':
				if prevChar == '/' {
					result.comment = true
				}
			}
			blanked.WriteRune(char)
		case stateSingleQuote:
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
				result.literals = append(result.literals, literal.String())
				blanked.WriteRune(char)
			} else {
				literal.WriteRune(char)
				blanked.WriteRune(' ')
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
				blanked.WriteRune(char)
			} else {
				blanked.WriteRune(' ')
			}
		}
		prevChar = char
	}

	if state != stateNormal {
		result.unterminated = true
	}

	result.blanked = blanked.String()
	return result
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace after it.
func stripTrailingSemicolon(predicate string) string {
	predicate = strings.TrimRight(predicate, " \t\n\r")
	if strings.HasSuffix(predicate, ";") {
		predicate = strings.TrimSuffix(predicate, ";")
		predicate = strings.TrimRight(predicate, " \t\n\r")
	}
	return predicate
}
