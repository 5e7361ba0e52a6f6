package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/models"
)

// ActivityRepository provides data access for canonical activities.
type ActivityRepository interface {
	// CreateTx inserts a canonical activity and fills its ID and
	// timestamps from the database.
	CreateTx(ctx context.Context, tx pgx.Tx, activity *models.CanonicalActivity) error

	GetByID(ctx context.Context, id int64) (*models.CanonicalActivity, error)
	Exists(ctx context.Context, id int64) (bool, error)

	// FindNear returns activities whose start instant falls within
	// window of at, nearest first. Ties on time distance break on the
	// smaller id.
	FindNear(ctx context.Context, at time.Time, window time.Duration) ([]*models.CanonicalActivity, error)

	// ListByStartRange pages through [from, to) in (start, id) keyset
	// order. Pass the last row's start and id as the cursor; zero
	// values start from the beginning. limit 0 means no limit.
	ListByStartRange(ctx context.Context, from, to time.Time, afterStart time.Time, afterID int64, limit int) ([]*models.CanonicalActivity, error)

	// ListTzCandidates returns activities joined with their GPS source
	// payload for timezone resolution. onlyMissing restricts to rows
	// with no timezone yet. predicate must already be validated; it is
	// applied against engine_activities columns.
	ListTzCandidates(ctx context.Context, onlyMissing bool, predicate string, limit int) ([]*models.TzCandidate, error)

	// ListOffsetCandidates returns activities with a zone name whose
	// offset needs computing. force includes rows that already have one.
	ListOffsetCandidates(ctx context.Context, force bool, predicate string, limit int) ([]*models.CanonicalActivity, error)

	UpdateTimezoneTx(ctx context.Context, tx pgx.Tx, id int64, tzName *string, offsetMinutes *int, source models.TzSource) error
	UpdateOffsetTx(ctx context.Context, tx pgx.Tx, id int64, offsetMinutes int) error

	// ListTrainingLinked returns activities referenced by at least one
	// annotation marked as training, ordered by start then id.
	ListTrainingLinked(ctx context.Context) ([]*models.CanonicalActivity, error)

	// ListTzMismatchPairs pairs strava-only and sporttracks-only
	// activities whose starts sit within toleranceMin of a whole hour
	// apart (1..maxHourDiff hours) and whose distances differ by at
	// most distanceDiffM.
	ListTzMismatchPairs(ctx context.Context, maxHourDiff int, toleranceMin, distanceDiffM float64) ([]*models.TzMismatchPair, error)

	DeleteTx(ctx context.Context, tx pgx.Tx, id int64) error
}

// activityRepository implements ActivityRepository using PostgreSQL.
type activityRepository struct {
	db *database.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *database.DB) ActivityRepository {
	return &activityRepository{db: db}
}

var _ ActivityRepository = (*activityRepository)(nil)

// ============================================================================
// Writes
// ============================================================================

func (r *activityRepository) CreateTx(ctx context.Context, tx pgx.Tx, activity *models.CanonicalActivity) error {
	query := `
		INSERT INTO engine_activities (
			start_time_utc, end_time_utc, elapsed_time_s, moving_time_s,
			distance_m, name, sport, tz_name, utc_offset_minutes,
			tz_source, source_quality
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err := tx.QueryRow(ctx, query,
		activity.StartTimeUTC,
		activity.EndTimeUTC,
		activity.ElapsedTimeS,
		activity.MovingTimeS,
		activity.DistanceM,
		activity.Name,
		activity.Sport,
		activity.TzName,
		activity.UTCOffsetMinutes,
		tzSourceValue(activity.TzSource),
		activity.SourceQuality,
	).Scan(&activity.ID, &activity.CreatedAt, &activity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}

	return nil
}

func (r *activityRepository) UpdateTimezoneTx(ctx context.Context, tx pgx.Tx, id int64, tzName *string, offsetMinutes *int, source models.TzSource) error {
	query := `
		UPDATE engine_activities
		SET tz_name = $2, utc_offset_minutes = $3, tz_source = $4, updated_at = now()
		WHERE id = $1`

	result, err := tx.Exec(ctx, query, id, tzName, offsetMinutes, string(source))
	if err != nil {
		return fmt.Errorf("failed to update activity timezone: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("activity %d not found", id)
	}

	return nil
}

func (r *activityRepository) UpdateOffsetTx(ctx context.Context, tx pgx.Tx, id int64, offsetMinutes int) error {
	query := `
		UPDATE engine_activities
		SET utc_offset_minutes = $2, updated_at = now()
		WHERE id = $1`

	result, err := tx.Exec(ctx, query, id, offsetMinutes)
	if err != nil {
		return fmt.Errorf("failed to update activity offset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("activity %d not found", id)
	}

	return nil
}

func (r *activityRepository) DeleteTx(ctx context.Context, tx pgx.Tx, id int64) error {
	query := `DELETE FROM engine_activities WHERE id = $1`

	result, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("activity %d not found", id)
	}

	return nil
}

// ============================================================================
// Reads
// ============================================================================

func (r *activityRepository) GetByID(ctx context.Context, id int64) (*models.CanonicalActivity, error) {
	query := `
		SELECT id, start_time_utc, end_time_utc, elapsed_time_s, moving_time_s,
		       distance_m, name, sport, tz_name, utc_offset_minutes,
		       tz_source, source_quality, created_at, updated_at
		FROM engine_activities
		WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	activity, err := scanActivity(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Activity not found
		}
		return nil, err
	}

	return activity, nil
}

func (r *activityRepository) Exists(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM engine_activities WHERE id = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check activity existence: %w", err)
	}

	return exists, nil
}

func (r *activityRepository) FindNear(ctx context.Context, at time.Time, window time.Duration) ([]*models.CanonicalActivity, error) {
	query := `
		SELECT id, start_time_utc, end_time_utc, elapsed_time_s, moving_time_s,
		       distance_m, name, sport, tz_name, utc_offset_minutes,
		       tz_source, source_quality, created_at, updated_at
		FROM engine_activities
		WHERE start_time_utc BETWEEN $1 AND $2
		ORDER BY ABS(EXTRACT(EPOCH FROM (start_time_utc - $3))) ASC, id ASC`

	rows, err := r.db.Query(ctx, query, at.Add(-window), at.Add(window), at)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby activities: %w", err)
	}
	defer rows.Close()

	return collectActivities(rows)
}

func (r *activityRepository) ListByStartRange(ctx context.Context, from, to time.Time, afterStart time.Time, afterID int64, limit int) ([]*models.CanonicalActivity, error) {
	query := `
		SELECT id, start_time_utc, end_time_utc, elapsed_time_s, moving_time_s,
		       distance_m, name, sport, tz_name, utc_offset_minutes,
		       tz_source, source_quality, created_at, updated_at
		FROM engine_activities
		WHERE start_time_utc >= $1 AND start_time_utc < $2
		  AND (start_time_utc, id) > ($3, $4)
		ORDER BY start_time_utc ASC, id ASC
		LIMIT NULLIF($5, 0)`

	rows, err := r.db.Query(ctx, query, from, to, afterStart, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity range: %w", err)
	}
	defer rows.Close()

	return collectActivities(rows)
}

func (r *activityRepository) ListTzCandidates(ctx context.Context, onlyMissing bool, predicate string, limit int) ([]*models.TzCandidate, error) {
	query := `
		SELECT DISTINCT ON (a.id)
		       a.id, a.start_time_utc, a.sport, a.tz_name, a.tz_source,
		       a.utc_offset_minutes, s.source_activity_id, sa.data
		FROM engine_activities a
		LEFT JOIN engine_activity_sources s
		  ON s.activity_id = a.id AND s.source = 'strava'
		LEFT JOIN strava_activities sa
		  ON sa.activity_id::text = s.source_activity_id
		WHERE TRUE`

	if onlyMissing {
		query += `
		  AND (a.tz_name IS NULL OR btrim(a.tz_name) = '')`
	}
	if predicate != "" {
		query += `
		  AND a.id IN (SELECT id FROM engine_activities WHERE ` + predicate + `)`
	}
	query += `
		ORDER BY a.id ASC, s.source_activity_id ASC
		LIMIT NULLIF($1, 0)`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query timezone candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*models.TzCandidate
	for rows.Next() {
		var c models.TzCandidate
		var tzSource *string

		err := rows.Scan(
			&c.ID,
			&c.StartTimeUTC,
			&c.Sport,
			&c.TzName,
			&tzSource,
			&c.UTCOffsetMinutes,
			&c.GpsNativeID,
			&c.GpsData,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timezone candidate: %w", err)
		}

		if tzSource != nil {
			src := models.TzSource(*tzSource)
			c.TzSource = &src
		}
		candidates = append(candidates, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timezone candidates: %w", err)
	}

	return candidates, nil
}

func (r *activityRepository) ListOffsetCandidates(ctx context.Context, force bool, predicate string, limit int) ([]*models.CanonicalActivity, error) {
	query := `
		SELECT id, start_time_utc, end_time_utc, elapsed_time_s, moving_time_s,
		       distance_m, name, sport, tz_name, utc_offset_minutes,
		       tz_source, source_quality, created_at, updated_at
		FROM engine_activities
		WHERE tz_name IS NOT NULL AND btrim(tz_name) <> ''`

	if !force {
		query += `
		  AND utc_offset_minutes IS NULL`
	}
	if predicate != "" {
		query += `
		  AND id IN (SELECT id FROM engine_activities WHERE ` + predicate + `)`
	}
	query += `
		ORDER BY id ASC
		LIMIT NULLIF($1, 0)`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query offset candidates: %w", err)
	}
	defer rows.Close()

	return collectActivities(rows)
}

func (r *activityRepository) ListTrainingLinked(ctx context.Context) ([]*models.CanonicalActivity, error) {
	query := `
		SELECT id, start_time_utc, end_time_utc, elapsed_time_s, moving_time_s,
		       distance_m, name, sport, tz_name, utc_offset_minutes,
		       tz_source, source_quality, created_at, updated_at
		FROM engine_activities a
		WHERE EXISTS (
			SELECT 1 FROM engine_annotations ann
			WHERE ann.canonical_activity_id = a.id AND ann.is_training = 1
		)
		ORDER BY start_time_utc ASC, id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query training activities: %w", err)
	}
	defer rows.Close()

	return collectActivities(rows)
}

func (r *activityRepository) ListTzMismatchPairs(ctx context.Context, maxHourDiff int, toleranceMin, distanceDiffM float64) ([]*models.TzMismatchPair, error) {
	query := `
		WITH source_flags AS (
			SELECT a.id, a.start_time_utc, a.distance_m,
			       BOOL_OR(s.source = 'strava') AS has_strava,
			       BOOL_OR(s.source = 'sporttracks') AS has_sporttracks
			FROM engine_activities a
			JOIN engine_activity_sources s ON s.activity_id = a.id
			GROUP BY a.id
		),
		strava_only AS (
			SELECT id, start_time_utc, distance_m
			FROM source_flags
			WHERE has_strava AND NOT has_sporttracks
		),
		sporttracks_only AS (
			SELECT id, start_time_utc, distance_m
			FROM source_flags
			WHERE has_sporttracks AND NOT has_strava
		),
		paired AS (
			SELECT
				s.id AS strava_id,
				t.id AS sporttracks_id,
				s.start_time_utc AS strava_start,
				t.start_time_utc AS sporttracks_start,
				s.distance_m AS strava_distance_m,
				t.distance_m AS sporttracks_distance_m,
				EXTRACT(EPOCH FROM (t.start_time_utc - s.start_time_utc)) / 3600.0 AS diff_hours
			FROM strava_only s
			JOIN sporttracks_only t
			  ON ABS(EXTRACT(EPOCH FROM (t.start_time_utc - s.start_time_utc))) <= $1 * 3600.0
		)
		SELECT strava_id, sporttracks_id, strava_start, sporttracks_start,
		       ROUND(diff_hours)::int AS hour_diff,
		       strava_distance_m, sporttracks_distance_m
		FROM paired
		WHERE ABS(ROUND(diff_hours)) BETWEEN 1 AND $1
		  AND ABS(diff_hours - ROUND(diff_hours)) <= $2 / 60.0
		  AND strava_distance_m IS NOT NULL
		  AND sporttracks_distance_m IS NOT NULL
		  AND ABS(strava_distance_m - sporttracks_distance_m) <= $3
		ORDER BY ABS(ROUND(diff_hours)) ASC, strava_start ASC, sporttracks_start ASC`

	rows, err := r.db.Query(ctx, query, maxHourDiff, toleranceMin, distanceDiffM)
	if err != nil {
		return nil, fmt.Errorf("failed to query timezone mismatch pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*models.TzMismatchPair
	for rows.Next() {
		var p models.TzMismatchPair
		err := rows.Scan(
			&p.StravaActivityID,
			&p.SportTracksActivityID,
			&p.StravaStartUTC,
			&p.SportTracksStartUTC,
			&p.HourDiff,
			&p.StravaDistanceM,
			&p.SportTracksDistanceM,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timezone mismatch pair: %w", err)
		}
		pairs = append(pairs, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timezone mismatch pairs: %w", err)
	}

	return pairs, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func scanActivity(row pgx.Row) (*models.CanonicalActivity, error) {
	var a models.CanonicalActivity
	var tzSource *string

	err := row.Scan(
		&a.ID,
		&a.StartTimeUTC,
		&a.EndTimeUTC,
		&a.ElapsedTimeS,
		&a.MovingTimeS,
		&a.DistanceM,
		&a.Name,
		&a.Sport,
		&a.TzName,
		&a.UTCOffsetMinutes,
		&tzSource,
		&a.SourceQuality,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan activity: %w", err)
	}

	if tzSource != nil {
		src := models.TzSource(*tzSource)
		a.TzSource = &src
	}

	return &a, nil
}

func collectActivities(rows pgx.Rows) ([]*models.CanonicalActivity, error) {
	var activities []*models.CanonicalActivity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}

	return activities, nil
}

// tzSourceValue unwraps the provenance pointer for insertion.
func tzSourceValue(src *models.TzSource) *string {
	if src == nil {
		return nil
	}
	s := string(*src)
	return &s
}
