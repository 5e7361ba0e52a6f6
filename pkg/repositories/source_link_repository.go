package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/supertl/canonical-engine/pkg/apperrors"
	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/models"
)

// SourceLinkRepository provides data access for activity source links.
type SourceLinkRepository interface {
	// InsertTx attaches a native row to a canonical activity. A second
	// claim on the same (source, source_activity_id) surfaces as a
	// ConsistencyError.
	InsertTx(ctx context.Context, tx pgx.Tx, link *models.SourceLink) error

	GetByNative(ctx context.Context, source models.SourceSystem, sourceActivityID string) (*models.SourceLink, error)
	ListByActivity(ctx context.Context, activityID int64) ([]*models.SourceLink, error)
	CountByActivity(ctx context.Context, activityID int64) (int64, error)

	// RepointTx moves every link from one canonical activity to another
	// and reports how many moved.
	RepointTx(ctx context.Context, tx pgx.Tx, fromActivityID, toActivityID int64) (int64, error)
}

// sourceLinkRepository implements SourceLinkRepository using PostgreSQL.
type sourceLinkRepository struct {
	db *database.DB
}

// NewSourceLinkRepository creates a new SourceLinkRepository.
func NewSourceLinkRepository(db *database.DB) SourceLinkRepository {
	return &sourceLinkRepository{db: db}
}

var _ SourceLinkRepository = (*sourceLinkRepository)(nil)

func (r *sourceLinkRepository) InsertTx(ctx context.Context, tx pgx.Tx, link *models.SourceLink) error {
	query := `
		INSERT INTO engine_activity_sources (
			activity_id, source, source_activity_id, start_time_local,
			start_time_utc, elapsed_time_s, distance_m, sport,
			payload_hash, match_confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, ingested_at_utc`

	err := tx.QueryRow(ctx, query,
		link.ActivityID,
		string(link.Source),
		link.SourceActivityID,
		link.StartTimeLocal,
		link.StartTimeUTC,
		link.ElapsedTimeS,
		link.DistanceM,
		link.Sport,
		link.PayloadHash,
		link.MatchConfidence,
	).Scan(&link.ID, &link.IngestedAtUTC)
	if err != nil {
		// Unique constraint violation (PostgreSQL error code 23505)
		// means the native row is already claimed.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &apperrors.ConsistencyError{
				Op:     "link source",
				Detail: fmt.Sprintf("%s %s is already linked", link.Source, link.SourceActivityID),
			}
		}
		return fmt.Errorf("failed to insert source link: %w", err)
	}

	return nil
}

func (r *sourceLinkRepository) GetByNative(ctx context.Context, source models.SourceSystem, sourceActivityID string) (*models.SourceLink, error) {
	query := `
		SELECT id, activity_id, source, source_activity_id, start_time_local,
		       start_time_utc, elapsed_time_s, distance_m, sport,
		       payload_hash, match_confidence, ingested_at_utc
		FROM engine_activity_sources
		WHERE source = $1 AND source_activity_id = $2`

	row := r.db.QueryRow(ctx, query, string(source), sourceActivityID)
	link, err := scanSourceLink(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Link not found
		}
		return nil, err
	}

	return link, nil
}

func (r *sourceLinkRepository) ListByActivity(ctx context.Context, activityID int64) ([]*models.SourceLink, error) {
	query := `
		SELECT id, activity_id, source, source_activity_id, start_time_local,
		       start_time_utc, elapsed_time_s, distance_m, sport,
		       payload_hash, match_confidence, ingested_at_utc
		FROM engine_activity_sources
		WHERE activity_id = $1
		ORDER BY source ASC, source_activity_id ASC`

	rows, err := r.db.Query(ctx, query, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query source links: %w", err)
	}
	defer rows.Close()

	var links []*models.SourceLink
	for rows.Next() {
		link, err := scanSourceLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source links: %w", err)
	}

	return links, nil
}

func (r *sourceLinkRepository) CountByActivity(ctx context.Context, activityID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM engine_activity_sources WHERE activity_id = $1`

	var count int64
	if err := r.db.QueryRow(ctx, query, activityID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count source links: %w", err)
	}

	return count, nil
}

func (r *sourceLinkRepository) RepointTx(ctx context.Context, tx pgx.Tx, fromActivityID, toActivityID int64) (int64, error) {
	query := `
		UPDATE engine_activity_sources
		SET activity_id = $2
		WHERE activity_id = $1`

	result, err := tx.Exec(ctx, query, fromActivityID, toActivityID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint source links: %w", err)
	}

	return result.RowsAffected(), nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func scanSourceLink(row pgx.Row) (*models.SourceLink, error) {
	var l models.SourceLink
	var source string

	err := row.Scan(
		&l.ID,
		&l.ActivityID,
		&source,
		&l.SourceActivityID,
		&l.StartTimeLocal,
		&l.StartTimeUTC,
		&l.ElapsedTimeS,
		&l.DistanceM,
		&l.Sport,
		&l.PayloadHash,
		&l.MatchConfidence,
		&l.IngestedAtUTC,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan source link: %w", err)
	}

	l.Source = models.SourceSystem(source)
	return &l, nil
}
