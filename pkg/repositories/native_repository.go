package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/models"
)

// NativeActivityRepository reads the source mirror tables. The engine
// never writes these; external sync tooling owns them.
type NativeActivityRepository interface {
	// ListUnlinkedStrava returns mirror rows no source link claims yet,
	// earliest start first.
	ListUnlinkedStrava(ctx context.Context, limit int) ([]*models.StravaActivityRow, error)

	// ListUnlinkedSportTracks returns mirror rows no source link claims
	// yet, earliest start first. Ingest order matters: earlier rows may
	// create the canonical activity a later row links to.
	ListUnlinkedSportTracks(ctx context.Context, limit int) ([]*models.SportTracksActivityRow, error)

	GetStravaByID(ctx context.Context, activityID int64) (*models.StravaActivityRow, error)
	GetSportTracksByID(ctx context.Context, activityID string) (*models.SportTracksActivityRow, error)
}

// nativeActivityRepository implements NativeActivityRepository using PostgreSQL.
type nativeActivityRepository struct {
	db *database.DB
}

// NewNativeActivityRepository creates a new NativeActivityRepository.
func NewNativeActivityRepository(db *database.DB) NativeActivityRepository {
	return &nativeActivityRepository{db: db}
}

var _ NativeActivityRepository = (*nativeActivityRepository)(nil)

func (r *nativeActivityRepository) ListUnlinkedStrava(ctx context.Context, limit int) ([]*models.StravaActivityRow, error) {
	query := `
		SELECT sa.activity_id, sa.name, sa.start_date_time, sa.sport_type,
		       sa.distance, sa.moving_time_s, sa.data
		FROM strava_activities sa
		LEFT JOIN engine_activity_sources s
		  ON s.source = 'strava' AND s.source_activity_id = sa.activity_id::text
		WHERE s.id IS NULL
		ORDER BY sa.start_date_time ASC, sa.activity_id ASC
		LIMIT NULLIF($1, 0)`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlinked strava rows: %w", err)
	}
	defer rows.Close()

	var out []*models.StravaActivityRow
	for rows.Next() {
		var row models.StravaActivityRow
		err := rows.Scan(
			&row.ActivityID,
			&row.Name,
			&row.StartDateTime,
			&row.SportType,
			&row.DistanceM,
			&row.MovingTimeS,
			&row.Data,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strava row: %w", err)
		}
		out = append(out, &row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strava rows: %w", err)
	}

	return out, nil
}

func (r *nativeActivityRepository) ListUnlinkedSportTracks(ctx context.Context, limit int) ([]*models.SportTracksActivityRow, error) {
	query := `
		SELECT sa.activity_id, sa.start_date, sa.start_time,
		       sa.distance_m, sa.duration_s, sa.category, sa.notes
		FROM sporttracks_activities sa
		LEFT JOIN engine_activity_sources s
		  ON s.source = 'sporttracks' AND s.source_activity_id = sa.activity_id
		WHERE s.id IS NULL
		ORDER BY sa.start_date ASC, sa.start_time ASC, sa.activity_id ASC
		LIMIT NULLIF($1, 0)`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlinked sporttracks rows: %w", err)
	}
	defer rows.Close()

	var out []*models.SportTracksActivityRow
	for rows.Next() {
		row, err := scanSportTracksRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sporttracks rows: %w", err)
	}

	return out, nil
}

func (r *nativeActivityRepository) GetStravaByID(ctx context.Context, activityID int64) (*models.StravaActivityRow, error) {
	query := `
		SELECT activity_id, name, start_date_time, sport_type,
		       distance, moving_time_s, data
		FROM strava_activities
		WHERE activity_id = $1`

	var row models.StravaActivityRow
	err := r.db.QueryRow(ctx, query, activityID).Scan(
		&row.ActivityID,
		&row.Name,
		&row.StartDateTime,
		&row.SportType,
		&row.DistanceM,
		&row.MovingTimeS,
		&row.Data,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Mirror row not found
		}
		return nil, fmt.Errorf("failed to get strava row: %w", err)
	}

	return &row, nil
}

func (r *nativeActivityRepository) GetSportTracksByID(ctx context.Context, activityID string) (*models.SportTracksActivityRow, error) {
	query := `
		SELECT activity_id, start_date, start_time,
		       distance_m, duration_s, category, notes
		FROM sporttracks_activities
		WHERE activity_id = $1`

	row, err := scanSportTracksRow(r.db.QueryRow(ctx, query, activityID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Mirror row not found
		}
		return nil, err
	}

	return row, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func scanSportTracksRow(row pgx.Row) (*models.SportTracksActivityRow, error) {
	var st models.SportTracksActivityRow

	err := row.Scan(
		&st.ActivityID,
		&st.StartDate,
		&st.StartTime,
		&st.DistanceM,
		&st.DurationS,
		&st.Category,
		&st.Notes,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sporttracks row: %w", err)
	}

	return &st, nil
}
