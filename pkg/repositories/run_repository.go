package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/models"
)

// RunRepository provides data access for the operational audit trail.
type RunRepository interface {
	// Record inserts one finished run. The id is generated when absent.
	Record(ctx context.Context, run *models.Run) error

	// ListRecent returns the newest runs for an operation, or for all
	// operations when operation is empty.
	ListRecent(ctx context.Context, operation string, limit int) ([]*models.Run, error)
}

// runRepository implements RunRepository using PostgreSQL.
type runRepository struct {
	db *database.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *database.DB) RunRepository {
	return &runRepository{db: db}
}

var _ RunRepository = (*runRepository)(nil)

func (r *runRepository) Record(ctx context.Context, run *models.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	var detail []byte
	if len(run.Detail) > 0 {
		var err error
		detail, err = json.Marshal(run.Detail)
		if err != nil {
			return fmt.Errorf("failed to marshal run detail: %w", err)
		}
	}

	query := `
		INSERT INTO engine_runs (
			id, operation, dry_run, created_count, linked_count,
			updated_count, skipped_count, errored_count, detail,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		run.ID,
		run.Operation,
		run.DryRun,
		run.Counts.Created,
		run.Counts.Linked,
		run.Counts.Updated,
		run.Counts.Skipped,
		run.Counts.Errored,
		detail,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	return nil
}

func (r *runRepository) ListRecent(ctx context.Context, operation string, limit int) ([]*models.Run, error) {
	query := `
		SELECT id, operation, dry_run, created_count, linked_count,
		       updated_count, skipped_count, errored_count, detail,
		       started_at, finished_at
		FROM engine_runs
		WHERE ($1 = '' OR operation = $1)
		ORDER BY started_at DESC
		LIMIT NULLIF($2, 0)`

	rows, err := r.db.Query(ctx, query, operation, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		var run models.Run
		var detail []byte

		err := rows.Scan(
			&run.ID,
			&run.Operation,
			&run.DryRun,
			&run.Counts.Created,
			&run.Counts.Linked,
			&run.Counts.Updated,
			&run.Counts.Skipped,
			&run.Counts.Errored,
			&detail,
			&run.StartedAt,
			&run.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		if len(detail) > 0 && string(detail) != "null" {
			if err := json.Unmarshal(detail, &run.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal run detail: %w", err)
			}
		}
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}
