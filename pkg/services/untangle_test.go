package services

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/models"
)

type mockAnnotationRepository struct {
	byKey       map[string]*models.SecondaryAnnotation
	byCanonical map[int64][]*models.SecondaryAnnotation
	multiLinked []int64
	unlinked    []string
	backfill    []*models.AnnotationBackfillCandidate
	inserted    []*models.SecondaryAnnotation
}

func (m *mockAnnotationRepository) GetByKey(ctx context.Context, activityKey string) (*models.SecondaryAnnotation, error) {
	return m.byKey[activityKey], nil
}

func (m *mockAnnotationRepository) ListByCanonical(ctx context.Context, canonicalActivityID int64) ([]*models.SecondaryAnnotation, error) {
	return m.byCanonical[canonicalActivityID], nil
}

func (m *mockAnnotationRepository) CountByCanonical(ctx context.Context, canonicalActivityID int64) (int64, error) {
	return int64(len(m.byCanonical[canonicalActivityID])), nil
}

func (m *mockAnnotationRepository) ListMultiLinked(ctx context.Context, limit int) ([]int64, error) {
	return m.multiLinked, nil
}

func (m *mockAnnotationRepository) LinkTx(ctx context.Context, tx pgx.Tx, activityKey string, canonicalActivityID int64) (bool, error) {
	_, ok := m.byKey[activityKey]
	return ok, nil
}

func (m *mockAnnotationRepository) UnlinkTx(ctx context.Context, tx pgx.Tx, canonicalActivityID int64, activityKeys []string) (int64, error) {
	m.unlinked = append(m.unlinked, activityKeys...)
	return int64(len(activityKeys)), nil
}

func (m *mockAnnotationRepository) RepointTx(ctx context.Context, tx pgx.Tx, fromActivityID, toActivityID int64) (int64, error) {
	return 0, nil
}

func (m *mockAnnotationRepository) InsertTx(ctx context.Context, tx pgx.Tx, annotation *models.SecondaryAnnotation) error {
	m.inserted = append(m.inserted, annotation)
	return nil
}

func (m *mockAnnotationRepository) ListBackfillCandidates(ctx context.Context, limit int) ([]*models.AnnotationBackfillCandidate, error) {
	return m.backfill, nil
}

type mockSourceLinkRepository struct {
	byActivity map[int64][]*models.SourceLink
	byNative   map[string]*models.SourceLink
	inserted   []*models.SourceLink
	insertErr  error
}

func (m *mockSourceLinkRepository) InsertTx(ctx context.Context, tx pgx.Tx, link *models.SourceLink) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, link)
	return nil
}

func (m *mockSourceLinkRepository) GetByNative(ctx context.Context, source models.SourceSystem, sourceActivityID string) (*models.SourceLink, error) {
	return m.byNative[source.String()+"/"+sourceActivityID], nil
}

func (m *mockSourceLinkRepository) ListByActivity(ctx context.Context, activityID int64) ([]*models.SourceLink, error) {
	return m.byActivity[activityID], nil
}

func (m *mockSourceLinkRepository) CountByActivity(ctx context.Context, activityID int64) (int64, error) {
	return int64(len(m.byActivity[activityID])), nil
}

func (m *mockSourceLinkRepository) RepointTx(ctx context.Context, tx pgx.Tx, fromActivityID, toActivityID int64) (int64, error) {
	return 0, nil
}

func issueWith(keys []string, gps, desktop []string) *UntangleIssue {
	return &UntangleIssue{
		CanonicalActivityID: 42,
		AnnotationKeys:      keys,
		SourceIDs: map[models.SourceSystem][]string{
			models.SourceStrava:      gps,
			models.SourceSportTracks: desktop,
		},
	}
}

func TestRecommendUntangle_PrefersGpsWhenBothMatch(t *testing.T) {
	issue := issueWith(
		[]string{"activity-100", "st-200"},
		[]string{"100"},
		[]string{"200"},
	)

	rec := RecommendUntangle(issue)
	assert.Equal(t, "activity-100", rec.KeepKey)
	assert.Equal(t, []string{"st-200"}, rec.UnlinkKeys)
}

func TestRecommendUntangle_SingleGpsMatch(t *testing.T) {
	issue := issueWith(
		[]string{"activity-100", "st-999"},
		[]string{"100"},
		nil,
	)

	rec := RecommendUntangle(issue)
	assert.Equal(t, "activity-100", rec.KeepKey)
	assert.Equal(t, []string{"st-999"}, rec.UnlinkKeys)
}

func TestRecommendUntangle_SingleDesktopMatch(t *testing.T) {
	issue := issueWith(
		[]string{"activity-999", "st-200"},
		nil,
		[]string{"200"},
	)

	rec := RecommendUntangle(issue)
	assert.Equal(t, "st-200", rec.KeepKey)
	assert.Equal(t, []string{"activity-999"}, rec.UnlinkKeys)
}

func TestRecommendUntangle_MultipleGpsMatchesPicksSmallest(t *testing.T) {
	issue := issueWith(
		[]string{"activity-300", "activity-100"},
		[]string{"100", "300"},
		nil,
	)

	rec := RecommendUntangle(issue)
	assert.Equal(t, "activity-100", rec.KeepKey)
	assert.Equal(t, []string{"activity-300"}, rec.UnlinkKeys)
}

func TestRecommendUntangle_FallbackRanksByKind(t *testing.T) {
	issue := issueWith(
		[]string{"legacy-7", "st-5", "activity-9"},
		nil,
		nil,
	)

	rec := RecommendUntangle(issue)
	assert.Equal(t, "activity-9", rec.KeepKey)
	assert.ElementsMatch(t, []string{"legacy-7", "st-5"}, rec.UnlinkKeys)
}

func TestRecommendUntangle_Deterministic(t *testing.T) {
	issue := issueWith(
		[]string{"activity-100", "st-200", "st-300"},
		[]string{"100"},
		[]string{"200", "300"},
	)

	first := RecommendUntangle(issue)
	for i := 0; i < 5; i++ {
		again := RecommendUntangle(issue)
		assert.Equal(t, first.KeepKey, again.KeepKey)
		assert.Equal(t, first.UnlinkKeys, again.UnlinkKeys)
	}
}

func TestRecommendUntangle_LegacyPrefixedLinkID(t *testing.T) {
	// Older GPS source links stored "activity-<id>"; the normalized set
	// must still match the annotation key.
	issue := &UntangleIssue{
		CanonicalActivityID: 42,
		AnnotationKeys:      []string{"activity-100", "st-999"},
		SourceIDs: map[models.SourceSystem][]string{
			models.SourceStrava: {models.NormalizeSourceID(models.SourceStrava, "activity-100")},
		},
	}

	rec := RecommendUntangle(issue)
	assert.Equal(t, "activity-100", rec.KeepKey)
}

func TestUntangle_ReportOnly(t *testing.T) {
	canonical := int64(42)
	annotationRepo := &mockAnnotationRepository{
		multiLinked: []int64{canonical},
		byCanonical: map[int64][]*models.SecondaryAnnotation{
			canonical: {
				{ActivityKey: "activity-100", CanonicalActivityID: &canonical},
				{ActivityKey: "st-200", CanonicalActivityID: &canonical},
			},
		},
	}
	linkRepo := &mockSourceLinkRepository{
		byActivity: map[int64][]*models.SourceLink{
			canonical: {
				{ActivityID: canonical, Source: models.SourceStrava, SourceActivityID: "100"},
			},
		},
	}
	svc := NewUntangleService(nil, annotationRepo, linkRepo, zap.NewNop())

	report, err := svc.Untangle(context.Background(), UntangleOptions{})
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)

	rec := report.Findings[0].Recommendation
	assert.Equal(t, "activity-100", rec.KeepKey)
	assert.Equal(t, []string{"st-200"}, rec.UnlinkKeys)
	assert.Zero(t, report.Unlinked)
	assert.Empty(t, annotationRepo.unlinked)
}

func TestUntangle_SingleEntityNotEntangled(t *testing.T) {
	annotationRepo := &mockAnnotationRepository{
		byCanonical: map[int64][]*models.SecondaryAnnotation{
			7: {{ActivityKey: "activity-1"}},
		},
	}
	svc := NewUntangleService(nil, annotationRepo, &mockSourceLinkRepository{}, zap.NewNop())

	report, err := svc.Untangle(context.Background(), UntangleOptions{CanonicalActivityID: 7})
	require.NoError(t, err)
	assert.Empty(t, report.Findings)
}
