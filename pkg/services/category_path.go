package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/repositories"
)

const (
	categoryPathSeparator = " : "
	uncategorizedLabel    = "Uncategorized"
)

// CategoryPathCache resolves category ids to full root-first paths like
// "Running : Trail : Ultra". The tree is loaded from the database on
// first use and held until Invalidate; callers that edit categories
// must invalidate before resolving again.
type CategoryPathCache interface {
	PathFor(ctx context.Context, categoryID *int) (string, error)
	Invalidate()
}

type categoryNode struct {
	name     string
	parentID *int
}

type categoryPathCache struct {
	categoryRepo repositories.CategoryRepository
	logger       *zap.Logger

	mu    sync.RWMutex
	nodes map[int]categoryNode
}

// NewCategoryPathCache creates a new CategoryPathCache.
func NewCategoryPathCache(categoryRepo repositories.CategoryRepository, logger *zap.Logger) CategoryPathCache {
	return &categoryPathCache{
		categoryRepo: categoryRepo,
		logger:       logger.Named("category-paths"),
	}
}

var _ CategoryPathCache = (*categoryPathCache)(nil)

func (c *categoryPathCache) PathFor(ctx context.Context, categoryID *int) (string, error) {
	if categoryID == nil || *categoryID == 0 {
		return uncategorizedLabel, nil
	}

	nodes, err := c.snapshot(ctx)
	if err != nil {
		return "", err
	}
	return pathFromNodes(nodes, *categoryID), nil
}

func (c *categoryPathCache) Invalidate() {
	c.mu.Lock()
	c.nodes = nil
	c.mu.Unlock()
}

// snapshot returns the cached tree, loading it when absent. The loaded
// map is never mutated afterwards, so readers can share it lock-free.
func (c *categoryPathCache) snapshot(ctx context.Context) (map[int]categoryNode, error) {
	c.mu.RLock()
	nodes := c.nodes
	c.mu.RUnlock()
	if nodes != nil {
		return nodes, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes != nil {
		return c.nodes, nil
	}

	categories, err := c.categoryRepo.ListAll(ctx)
	if err != nil {
		c.logger.Error("failed to load category tree", zap.Error(err))
		return nil, fmt.Errorf("load category tree: %w", err)
	}

	nodes = make(map[int]categoryNode, len(categories))
	for _, cat := range categories {
		nodes[cat.ID] = categoryNode{name: cat.Name, parentID: cat.ParentID}
	}
	c.nodes = nodes
	c.logger.Debug("loaded category tree", zap.Int("categories", len(categories)))
	return nodes, nil
}

// pathFromNodes walks parent links to the root. Unknown ids and parent
// cycles terminate the walk with a marker segment so bad data shows up
// in the output instead of hanging it.
func pathFromNodes(nodes map[int]categoryNode, categoryID int) string {
	var parts []string
	seen := make(map[int]bool)

	for currentID := &categoryID; currentID != nil; {
		id := *currentID
		if seen[id] {
			parts = append(parts, fmt.Sprintf("[cycle:%d]", id))
			break
		}
		seen[id] = true

		node, ok := nodes[id]
		if !ok {
			parts = append(parts, fmt.Sprintf("[%d]", id))
			break
		}

		parts = append(parts, node.name)
		currentID = node.parentID
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, categoryPathSeparator)
}
