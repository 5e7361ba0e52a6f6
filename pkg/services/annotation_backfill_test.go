package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/apperrors"
	"github.com/supertl/canonical-engine/pkg/models"
)

func backfillCandidate(id int64, nativeID, category string) *models.AnnotationBackfillCandidate {
	c := &models.AnnotationBackfillCandidate{CanonicalActivityID: id, SportTracksID: nativeID}
	if category != "" {
		c.Category = &category
	}
	return c
}

func TestLoadCategoryMap(t *testing.T) {
	svc := NewAnnotationBackfillService(nil, &mockAnnotationRepository{}, zap.NewNop())

	categories, err := svc.LoadCategoryMap(strings.NewReader(`
categories:
  "XC Skate": 4
  "Roller": 3
`))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"XC Skate": 4, "Roller": 3}, categories)
}

func TestLoadCategoryMap_RejectsUnknownKeys(t *testing.T) {
	svc := NewAnnotationBackfillService(nil, &mockAnnotationRepository{}, zap.NewNop())

	_, err := svc.LoadCategoryMap(strings.NewReader(`
categorys:
  "XC Skate": 4
`))
	assert.Error(t, err)
}

func TestLoadCategoryMap_EmptyIsSetupError(t *testing.T) {
	svc := NewAnnotationBackfillService(nil, &mockAnnotationRepository{}, zap.NewNop())

	_, err := svc.LoadCategoryMap(strings.NewReader(`categories: {}`))
	var setupErr *apperrors.SetupError
	require.ErrorAs(t, err, &setupErr)
}

func TestBackfillAnnotation_RowShape(t *testing.T) {
	ann := backfillAnnotation(backfillCandidate(1, "w-1", "XC Skate"), 4)

	assert.Equal(t, "st-w-1", ann.ActivityKey)
	require.NotNil(t, ann.CategoryID)
	assert.Equal(t, 4, *ann.CategoryID)
	require.NotNil(t, ann.WorkoutTypeID)
	assert.Equal(t, generalWorkoutTypeID, *ann.WorkoutTypeID)
	assert.Equal(t, models.IsTrainingYes, ann.IsTraining)
	require.NotNil(t, ann.CanonicalActivityID)
	assert.Equal(t, int64(1), *ann.CanonicalActivityID)
}

func TestBackfill_CountsUnmappedPerLabel(t *testing.T) {
	repo := &mockAnnotationRepository{backfill: []*models.AnnotationBackfillCandidate{
		backfillCandidate(1, "w-1", "Snowshoe"),
		backfillCandidate(2, "w-2", "Snowshoe"),
		backfillCandidate(3, "w-3", "XC Skate"),
	}}
	svc := NewAnnotationBackfillService(nil, repo, zap.NewNop())

	report, err := svc.Backfill(context.Background(), map[string]int{"XC Skate": 4}, AnnotationBackfillOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, map[string]int{"Snowshoe": 2}, report.Unmapped)
}

func TestBackfill_DryRunWritesNothing(t *testing.T) {
	repo := &mockAnnotationRepository{backfill: []*models.AnnotationBackfillCandidate{
		backfillCandidate(1, "w-1", "Roller"),
	}}
	svc := NewAnnotationBackfillService(nil, repo, zap.NewNop())

	report, err := svc.Backfill(context.Background(), map[string]int{"Roller": 3}, AnnotationBackfillOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	assert.Empty(t, repo.inserted)
}

func TestBackfill_EmptyMappingIsSetupError(t *testing.T) {
	svc := NewAnnotationBackfillService(nil, &mockAnnotationRepository{}, zap.NewNop())

	_, err := svc.Backfill(context.Background(), nil, AnnotationBackfillOptions{})
	var setupErr *apperrors.SetupError
	require.ErrorAs(t, err, &setupErr)
}
