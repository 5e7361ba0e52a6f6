package sqlguard

import (
	"errors"
	"testing"

	"github.com/supertl/canonical-engine/pkg/apperrors"
)

func TestValidatePredicate_ValidPredicates(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "null check",
			input:    "tz_name IS NULL",
			expected: "tz_name IS NULL",
		},
		{
			name:     "numeric comparison",
			input:    "id > 100",
			expected: "id > 100",
		},
		{
			name:     "string equality",
			input:    "sport = 'Run'",
			expected: "sport = 'Run'",
		},
		{
			name:     "trailing semicolon stripped",
			input:    "id < 50;",
			expected: "id < 50",
		},
		{
			name:     "leading and trailing whitespace",
			input:    "  distance_m > 0  ",
			expected: "distance_m > 0",
		},
		{
			name:     "compound condition",
			input:    "start_time_utc >= '2025-01-01' AND distance_m > 0",
			expected: "start_time_utc >= '2025-01-01' AND distance_m > 0",
		},
		{
			name:     "semicolon inside string literal",
			input:    "notes = 'a;b'",
			expected: "notes = 'a;b'",
		},
		{
			name:     "doubled quote escape",
			input:    "name = 'it''s fine'",
			expected: "name = 'it''s fine'",
		},
		{
			name:     "statement verb inside literal is data",
			input:    "notes = 'remember to update the plan'",
			expected: "notes = 'remember to update the plan'",
		},
		{
			name:     "subquery filter",
			input:    "id IN (SELECT activity_id FROM engine_activity_sources WHERE source = 'strava')",
			expected: "id IN (SELECT activity_id FROM engine_activity_sources WHERE source = 'strava')",
		},
		{
			name:     "quoted identifier",
			input:    `"tz_source" = 'assumed-home'`,
			expected: `"tz_source" = 'assumed-home'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePredicate(tt.input)
			if err != nil {
				t.Fatalf("ValidatePredicate(%q) error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ValidatePredicate(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidatePredicate_RejectedPredicates(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "empty",
			input: "",
		},
		{
			name:  "whitespace only",
			input: "   ",
		},
		{
			name:  "lone semicolon",
			input: ";",
		},
		{
			name:  "stacked statement",
			input: "id > 1; DROP TABLE engine_activities",
		},
		{
			name:  "line comment",
			input: "id > 1 -- everything after is hidden",
		},
		{
			name:  "block comment",
			input: "id > 1 /* hidden */",
		},
		{
			name:  "delete verb",
			input: "id IN (DELETE FROM engine_activities RETURNING id)",
		},
		{
			name:  "update verb uppercase",
			input: "UPDATE engine_activities SET name = 'x'",
		},
		{
			name:  "unterminated literal",
			input: "name = 'oops",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidatePredicate(tt.input)
			if err == nil {
				t.Fatalf("ValidatePredicate(%q) succeeded, want rejection", tt.input)
			}
			if !errors.Is(err, apperrors.ErrUnsafePredicate) {
				t.Errorf("error = %v, want ErrUnsafePredicate", err)
			}
		})
	}
}

func TestScanPredicate_BlanksLiterals(t *testing.T) {
	scan := scanPredicate("notes = 'drop;-- x' AND id > 1")
	if scan.stacked || scan.comment {
		t.Errorf("literal content leaked into structural flags: %+v", scan)
	}
	if len(scan.literals) != 1 || scan.literals[0] != "drop;-- x" {
		t.Errorf("literals = %v", scan.literals)
	}
	if mutatingVerb.MatchString(scan.blanked) {
		t.Errorf("blanked text still matches verbs: %q", scan.blanked)
	}
}
