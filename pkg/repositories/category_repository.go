package repositories

import (
	"context"
	"fmt"

	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/models"
)

// CategoryRepository provides data access for the category tree.
type CategoryRepository interface {
	// ListAll returns every category. The whole tree is small enough to
	// load at once; path resolution walks it in memory.
	ListAll(ctx context.Context) ([]*models.Category, error)
}

// categoryRepository implements CategoryRepository using PostgreSQL.
type categoryRepository struct {
	db *database.DB
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(db *database.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

var _ CategoryRepository = (*categoryRepository)(nil)

func (r *categoryRepository) ListAll(ctx context.Context) ([]*models.Category, error) {
	query := `
		SELECT id, parent_id, name
		FROM engine_categories
		ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []*models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.ParentID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	return categories, nil
}
