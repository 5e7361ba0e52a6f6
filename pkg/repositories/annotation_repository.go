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

// AnnotationRepository provides data access for secondary annotations.
// Annotations are owner-authored and therefore never deleted here; the
// strongest operation against one is clearing its canonical reference.
type AnnotationRepository interface {
	GetByKey(ctx context.Context, activityKey string) (*models.SecondaryAnnotation, error)
	ListByCanonical(ctx context.Context, canonicalActivityID int64) ([]*models.SecondaryAnnotation, error)
	CountByCanonical(ctx context.Context, canonicalActivityID int64) (int64, error)

	// ListMultiLinked returns canonical activity ids referenced by more
	// than one annotation, most entangled first.
	ListMultiLinked(ctx context.Context, limit int) ([]int64, error)

	// LinkTx points an existing annotation at a canonical activity and
	// reports whether a row was updated.
	LinkTx(ctx context.Context, tx pgx.Tx, activityKey string, canonicalActivityID int64) (bool, error)

	// UnlinkTx clears the canonical reference on the named annotations,
	// guarded by the canonical id they are expected to point at. The
	// rows themselves stay. Returns how many changed.
	UnlinkTx(ctx context.Context, tx pgx.Tx, canonicalActivityID int64, activityKeys []string) (int64, error)

	// RepointTx moves every annotation from one canonical activity to
	// another and reports how many moved.
	RepointTx(ctx context.Context, tx pgx.Tx, fromActivityID, toActivityID int64) (int64, error)

	// InsertTx creates a synthetic annotation row. A duplicate key
	// surfaces as a ConsistencyError.
	InsertTx(ctx context.Context, tx pgx.Tx, annotation *models.SecondaryAnnotation) error

	// ListBackfillCandidates returns canonical activities carrying a
	// sporttracks source link but no annotation row yet.
	ListBackfillCandidates(ctx context.Context, limit int) ([]*models.AnnotationBackfillCandidate, error)
}

// annotationRepository implements AnnotationRepository using PostgreSQL.
type annotationRepository struct {
	db *database.DB
}

// NewAnnotationRepository creates a new AnnotationRepository.
func NewAnnotationRepository(db *database.DB) AnnotationRepository {
	return &annotationRepository{db: db}
}

var _ AnnotationRepository = (*annotationRepository)(nil)

// ============================================================================
// Reads
// ============================================================================

func (r *annotationRepository) GetByKey(ctx context.Context, activityKey string) (*models.SecondaryAnnotation, error) {
	query := `
		SELECT activity_key, workout_type_id, category_id, notes, tags,
		       is_training, canonical_activity_id
		FROM engine_annotations
		WHERE activity_key = $1`

	row := r.db.QueryRow(ctx, query, activityKey)
	annotation, err := scanAnnotation(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // Annotation not found
		}
		return nil, err
	}

	return annotation, nil
}

func (r *annotationRepository) ListByCanonical(ctx context.Context, canonicalActivityID int64) ([]*models.SecondaryAnnotation, error) {
	query := `
		SELECT activity_key, workout_type_id, category_id, notes, tags,
		       is_training, canonical_activity_id
		FROM engine_annotations
		WHERE canonical_activity_id = $1
		ORDER BY activity_key ASC`

	rows, err := r.db.Query(ctx, query, canonicalActivityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query annotations: %w", err)
	}
	defer rows.Close()

	var annotations []*models.SecondaryAnnotation
	for rows.Next() {
		annotation, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, annotation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating annotations: %w", err)
	}

	return annotations, nil
}

func (r *annotationRepository) CountByCanonical(ctx context.Context, canonicalActivityID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM engine_annotations WHERE canonical_activity_id = $1`

	var count int64
	if err := r.db.QueryRow(ctx, query, canonicalActivityID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count annotations: %w", err)
	}

	return count, nil
}

func (r *annotationRepository) ListMultiLinked(ctx context.Context, limit int) ([]int64, error) {
	query := `
		SELECT canonical_activity_id
		FROM engine_annotations
		WHERE canonical_activity_id IS NOT NULL
		GROUP BY canonical_activity_id
		HAVING COUNT(*) > 1
		ORDER BY COUNT(*) DESC, canonical_activity_id ASC
		LIMIT NULLIF($1, 0)`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query multi-linked annotations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan multi-linked id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating multi-linked ids: %w", err)
	}

	return ids, nil
}

func (r *annotationRepository) ListBackfillCandidates(ctx context.Context, limit int) ([]*models.AnnotationBackfillCandidate, error) {
	query := `
		SELECT DISTINCT ON (a.id)
		       a.id, sa.activity_id, sa.category, sa.start_date
		FROM engine_activities a
		JOIN engine_activity_sources s
		  ON s.activity_id = a.id AND s.source = 'sporttracks'
		JOIN sporttracks_activities sa
		  ON sa.activity_id = s.source_activity_id
		WHERE NOT EXISTS (
			SELECT 1 FROM engine_annotations ann
			WHERE ann.canonical_activity_id = a.id
		)
		ORDER BY a.id ASC, sa.activity_id ASC
		LIMIT NULLIF($1, 0)`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backfill candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*models.AnnotationBackfillCandidate
	for rows.Next() {
		var c models.AnnotationBackfillCandidate
		err := rows.Scan(
			&c.CanonicalActivityID,
			&c.SportTracksID,
			&c.Category,
			&c.StartDate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backfill candidate: %w", err)
		}
		candidates = append(candidates, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backfill candidates: %w", err)
	}

	return candidates, nil
}

// ============================================================================
// Writes
// ============================================================================

func (r *annotationRepository) LinkTx(ctx context.Context, tx pgx.Tx, activityKey string, canonicalActivityID int64) (bool, error) {
	query := `
		UPDATE engine_annotations
		SET canonical_activity_id = $2
		WHERE activity_key = $1`

	result, err := tx.Exec(ctx, query, activityKey, canonicalActivityID)
	if err != nil {
		return false, fmt.Errorf("failed to link annotation: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *annotationRepository) UnlinkTx(ctx context.Context, tx pgx.Tx, canonicalActivityID int64, activityKeys []string) (int64, error) {
	if len(activityKeys) == 0 {
		return 0, nil
	}

	query := `
		UPDATE engine_annotations
		SET canonical_activity_id = NULL
		WHERE canonical_activity_id = $1 AND activity_key = ANY($2)`

	result, err := tx.Exec(ctx, query, canonicalActivityID, activityKeys)
	if err != nil {
		return 0, fmt.Errorf("failed to unlink annotations: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *annotationRepository) RepointTx(ctx context.Context, tx pgx.Tx, fromActivityID, toActivityID int64) (int64, error) {
	query := `
		UPDATE engine_annotations
		SET canonical_activity_id = $2
		WHERE canonical_activity_id = $1`

	result, err := tx.Exec(ctx, query, fromActivityID, toActivityID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint annotations: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *annotationRepository) InsertTx(ctx context.Context, tx pgx.Tx, annotation *models.SecondaryAnnotation) error {
	query := `
		INSERT INTO engine_annotations (
			activity_key, workout_type_id, category_id, notes, tags,
			is_training, canonical_activity_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		annotation.ActivityKey,
		annotation.WorkoutTypeID,
		annotation.CategoryID,
		annotation.Notes,
		annotation.Tags,
		annotation.IsTraining,
		annotation.CanonicalActivityID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &apperrors.ConsistencyError{
				Op:     "insert annotation",
				Detail: fmt.Sprintf("annotation %q already exists", annotation.ActivityKey),
			}
		}
		return fmt.Errorf("failed to insert annotation: %w", err)
	}

	return nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func scanAnnotation(row pgx.Row) (*models.SecondaryAnnotation, error) {
	var a models.SecondaryAnnotation

	err := row.Scan(
		&a.ActivityKey,
		&a.WorkoutTypeID,
		&a.CategoryID,
		&a.Notes,
		&a.Tags,
		&a.IsTraining,
		&a.CanonicalActivityID,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan annotation: %w", err)
	}

	return &a, nil
}
