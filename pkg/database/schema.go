package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/supertl/canonical-engine/pkg/apperrors"
)

// requiredTables is everything a batch operation may touch. Verified
// up front so a missing migration fails fast, before any mutation.
var requiredTables = []string{
	"engine_activities",
	"engine_activity_sources",
	"engine_annotations",
	"engine_categories",
	"engine_runs",
	"strava_activities",
	"sporttracks_activities",
}

// VerifySchema confirms every required table exists. Returns a
// SetupError naming the missing tables; callers treat that as fatal.
func VerifySchema(ctx context.Context, db *DB) error {
	missing := make([]string, 0)
	for _, table := range requiredTables {
		var regclass *string
		err := db.QueryRow(ctx, "SELECT to_regclass($1)::text", table).Scan(&regclass)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if regclass == nil {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return &apperrors.SetupError{
			Missing: fmt.Sprintf("tables %s (run migrations first)", strings.Join(missing, ", ")),
		}
	}
	return nil
}
