package repositories

import (
	"context"
	"fmt"

	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/models"
)

// countedTables is the fixed set the check report counts. Identifiers
// are interpolated into SQL, so this list must never carry user input.
var countedTables = []string{
	"engine_activities",
	"engine_activity_sources",
	"engine_annotations",
	"engine_categories",
	"engine_runs",
	"strava_activities",
	"sporttracks_activities",
}

// IntegrityRepository runs the cross-table consistency and coverage
// queries behind the check command.
type IntegrityRepository interface {
	TableCounts(ctx context.Context) (map[string]int64, error)

	// OrphanSourceLinks returns the count of links pointing at missing
	// activities plus a small sample.
	OrphanSourceLinks(ctx context.Context, sampleLimit int) (int64, []*models.SourceLink, error)

	// ActivitiesWithoutSources returns the count of canonical rows no
	// link references plus sample ids.
	ActivitiesWithoutSources(ctx context.Context, sampleLimit int) (int64, []int64, error)

	AnnotationsMissingCanonical(ctx context.Context) (int64, error)
	AnnotationsUnlinked(ctx context.Context) (int64, error)

	UnlinkedStravaCount(ctx context.Context) (int64, error)
	UnlinkedSportTracksCount(ctx context.Context) (int64, error)

	// DuplicateNativeKeys counts (source, source_activity_id) groups
	// claimed more than once. The unique constraint should keep this at
	// zero; a nonzero count means the constraint was dropped or bypassed.
	DuplicateNativeKeys(ctx context.Context) (int64, error)

	Coverage(ctx context.Context) (*models.CoverageReport, error)
}

// integrityRepository implements IntegrityRepository using PostgreSQL.
type integrityRepository struct {
	db *database.DB
}

// NewIntegrityRepository creates a new IntegrityRepository.
func NewIntegrityRepository(db *database.DB) IntegrityRepository {
	return &integrityRepository{db: db}
}

var _ IntegrityRepository = (*integrityRepository)(nil)

func (r *integrityRepository) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(countedTables))
	for _, table := range countedTables {
		var count int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
		if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = count
	}
	return counts, nil
}

func (r *integrityRepository) OrphanSourceLinks(ctx context.Context, sampleLimit int) (int64, []*models.SourceLink, error) {
	countQuery := `
		SELECT COUNT(*)
		FROM engine_activity_sources s
		LEFT JOIN engine_activities a ON a.id = s.activity_id
		WHERE a.id IS NULL`

	var count int64
	if err := r.db.QueryRow(ctx, countQuery).Scan(&count); err != nil {
		return 0, nil, fmt.Errorf("failed to count orphan source links: %w", err)
	}
	if count == 0 || sampleLimit <= 0 {
		return count, nil, nil
	}

	sampleQuery := `
		SELECT s.id, s.activity_id, s.source, s.source_activity_id, s.start_time_local,
		       s.start_time_utc, s.elapsed_time_s, s.distance_m, s.sport,
		       s.payload_hash, s.match_confidence, s.ingested_at_utc
		FROM engine_activity_sources s
		LEFT JOIN engine_activities a ON a.id = s.activity_id
		WHERE a.id IS NULL
		ORDER BY s.id ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, sampleQuery, sampleLimit)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to sample orphan source links: %w", err)
	}
	defer rows.Close()

	var samples []*models.SourceLink
	for rows.Next() {
		link, err := scanSourceLink(rows)
		if err != nil {
			return 0, nil, err
		}
		samples = append(samples, link)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("error iterating orphan source links: %w", err)
	}

	return count, samples, nil
}

func (r *integrityRepository) ActivitiesWithoutSources(ctx context.Context, sampleLimit int) (int64, []int64, error) {
	countQuery := `
		SELECT COUNT(*)
		FROM engine_activities a
		LEFT JOIN engine_activity_sources s ON s.activity_id = a.id
		WHERE s.id IS NULL`

	var count int64
	if err := r.db.QueryRow(ctx, countQuery).Scan(&count); err != nil {
		return 0, nil, fmt.Errorf("failed to count activities without sources: %w", err)
	}
	if count == 0 || sampleLimit <= 0 {
		return count, nil, nil
	}

	sampleQuery := `
		SELECT a.id
		FROM engine_activities a
		LEFT JOIN engine_activity_sources s ON s.activity_id = a.id
		WHERE s.id IS NULL
		ORDER BY a.start_time_utc ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, sampleQuery, sampleLimit)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to sample activities without sources: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, nil, fmt.Errorf("failed to scan activity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("error iterating activity ids: %w", err)
	}

	return count, ids, nil
}

func (r *integrityRepository) AnnotationsMissingCanonical(ctx context.Context) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM engine_annotations ann
		LEFT JOIN engine_activities a ON a.id = ann.canonical_activity_id
		WHERE ann.canonical_activity_id IS NOT NULL AND a.id IS NULL`

	var count int64
	if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count dangling annotations: %w", err)
	}
	return count, nil
}

func (r *integrityRepository) AnnotationsUnlinked(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM engine_annotations WHERE canonical_activity_id IS NULL`

	var count int64
	if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unlinked annotations: %w", err)
	}
	return count, nil
}

func (r *integrityRepository) UnlinkedStravaCount(ctx context.Context) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM strava_activities sa
		LEFT JOIN engine_activity_sources s
		  ON s.source = 'strava' AND s.source_activity_id = sa.activity_id::text
		WHERE s.id IS NULL`

	var count int64
	if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unlinked strava rows: %w", err)
	}
	return count, nil
}

func (r *integrityRepository) UnlinkedSportTracksCount(ctx context.Context) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM sporttracks_activities sa
		LEFT JOIN engine_activity_sources s
		  ON s.source = 'sporttracks' AND s.source_activity_id = sa.activity_id
		WHERE s.id IS NULL`

	var count int64
	if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unlinked sporttracks rows: %w", err)
	}
	return count, nil
}

func (r *integrityRepository) DuplicateNativeKeys(ctx context.Context) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM (
			SELECT source, source_activity_id
			FROM engine_activity_sources
			GROUP BY source, source_activity_id
			HAVING COUNT(*) > 1
		) dup`

	var count int64
	if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count duplicate native keys: %w", err)
	}
	return count, nil
}

func (r *integrityRepository) Coverage(ctx context.Context) (*models.CoverageReport, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM engine_activities),
			(SELECT COUNT(DISTINCT activity_id) FROM engine_activity_sources WHERE source = 'strava'),
			(SELECT COUNT(DISTINCT activity_id) FROM engine_activity_sources WHERE source = 'sporttracks'),
			(SELECT COUNT(*) FROM (
				SELECT activity_id
				FROM engine_activity_sources
				GROUP BY activity_id
				HAVING BOOL_OR(source = 'strava') AND BOOL_OR(source = 'sporttracks')
			) both_sources),
			(SELECT COUNT(DISTINCT canonical_activity_id) FROM engine_annotations WHERE canonical_activity_id IS NOT NULL)`

	var report models.CoverageReport
	err := r.db.QueryRow(ctx, query).Scan(
		&report.TotalActivities,
		&report.WithStrava,
		&report.WithSportTracks,
		&report.WithBoth,
		&report.WithAnnotation,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query coverage: %w", err)
	}

	return &report, nil
}
