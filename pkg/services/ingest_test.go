package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/models"
)

type mockNativeRepository struct {
	strava      []*models.StravaActivityRow
	sportTracks []*models.SportTracksActivityRow
}

func (m *mockNativeRepository) ListUnlinkedStrava(ctx context.Context, limit int) ([]*models.StravaActivityRow, error) {
	if limit > 0 && len(m.strava) > limit {
		return m.strava[:limit], nil
	}
	return m.strava, nil
}

func (m *mockNativeRepository) ListUnlinkedSportTracks(ctx context.Context, limit int) ([]*models.SportTracksActivityRow, error) {
	if limit > 0 && len(m.sportTracks) > limit {
		return m.sportTracks[:limit], nil
	}
	return m.sportTracks, nil
}

func (m *mockNativeRepository) GetStravaByID(ctx context.Context, activityID int64) (*models.StravaActivityRow, error) {
	for _, row := range m.strava {
		if row.ActivityID == activityID {
			return row, nil
		}
	}
	return nil, nil
}

func (m *mockNativeRepository) GetSportTracksByID(ctx context.Context, activityID string) (*models.SportTracksActivityRow, error) {
	for _, row := range m.sportTracks {
		if row.ActivityID == activityID {
			return row, nil
		}
	}
	return nil, nil
}

type mockMatcher struct {
	decide func(candidate MatchCandidate) (*MatchDecision, error)
}

func (m *mockMatcher) Match(ctx context.Context, candidate MatchCandidate) (*MatchDecision, error) {
	if m.decide == nil {
		return nil, nil
	}
	return m.decide(candidate)
}

func stravaRow(id int64, start string) *models.StravaActivityRow {
	return &models.StravaActivityRow{ActivityID: id, StartDateTime: start}
}

func sportTracksRow(id, date, clock string) *models.SportTracksActivityRow {
	row := &models.SportTracksActivityRow{ActivityID: id}
	if date != "" {
		row.StartDate = &date
	}
	if clock != "" {
		row.StartTime = &clock
	}
	return row
}

// Dry runs never open a transaction, so the database handle stays nil.
func newDryIngestFixture(native *mockNativeRepository, matcher Matcher, annotations *mockAnnotationRepository) IngestService {
	return NewIngestService(nil, native, &mockActivityRepository{}, &mockSourceLinkRepository{}, annotations, matcher, time.UTC, zap.NewNop())
}

func TestIngestStrava_DryRunCounts(t *testing.T) {
	native := &mockNativeRepository{strava: []*models.StravaActivityRow{
		stravaRow(100, "2023-06-10T10:00:00Z"),
		stravaRow(200, "2023-06-11T09:30:00Z"),
	}}
	annotations := &mockAnnotationRepository{byKey: map[string]*models.SecondaryAnnotation{
		"activity-200": {ActivityKey: "activity-200"},
	}}
	svc := newDryIngestFixture(native, &mockMatcher{}, annotations)

	counts, err := svc.IngestStrava(context.Background(), IngestOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 2, counts.Created)
	assert.Equal(t, 1, counts.Updated, "only the row with a waiting annotation re-links")
	assert.Zero(t, counts.Skipped)
	assert.Zero(t, counts.Errored)
}

func TestIngestStrava_UnparseableStartIsSkippedNotFatal(t *testing.T) {
	native := &mockNativeRepository{strava: []*models.StravaActivityRow{
		stravaRow(100, "not a timestamp"),
		stravaRow(200, "2023-06-11T09:30:00Z"),
	}}
	svc := newDryIngestFixture(native, &mockMatcher{}, &mockAnnotationRepository{})

	counts, err := svc.IngestStrava(context.Background(), IngestOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, counts.Created)
	assert.Equal(t, 1, counts.Skipped)
	assert.Zero(t, counts.Errored)
}

func TestIngestStrava_LimitCapsCandidates(t *testing.T) {
	native := &mockNativeRepository{strava: []*models.StravaActivityRow{
		stravaRow(1, "2023-06-10T10:00:00Z"),
		stravaRow(2, "2023-06-11T10:00:00Z"),
		stravaRow(3, "2023-06-12T10:00:00Z"),
	}}
	svc := newDryIngestFixture(native, &mockMatcher{}, &mockAnnotationRepository{})

	counts, err := svc.IngestStrava(context.Background(), IngestOptions{DryRun: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Created)
}

func TestIngestSportTracks_DryRunSplitsLinkedAndCreated(t *testing.T) {
	native := &mockNativeRepository{sportTracks: []*models.SportTracksActivityRow{
		sportTracksRow("w-1", "2023-06-10", "10:00:00"),
		sportTracksRow("w-2", "2023-06-11", "08:00:00"),
	}}
	matchedStart := mustParse(t, "2023-06-10T10:00:00Z")
	matcher := &mockMatcher{decide: func(c MatchCandidate) (*MatchDecision, error) {
		if c.StartUTC.Equal(matchedStart) {
			return &MatchDecision{Activity: storedActivity(9, matchedStart, 0, 0), Tier: models.MatchTierA}, nil
		}
		return nil, nil
	}}
	svc := newDryIngestFixture(native, matcher, &mockAnnotationRepository{})

	counts, err := svc.IngestSportTracks(context.Background(), IngestOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, counts.Linked)
	assert.Equal(t, 1, counts.Created)
}

func TestIngestSportTracks_UnparseableStartIsSkipped(t *testing.T) {
	native := &mockNativeRepository{sportTracks: []*models.SportTracksActivityRow{
		sportTracksRow("w-1", "", ""),
		sportTracksRow("w-2", "junk", "words"),
	}}
	svc := newDryIngestFixture(native, &mockMatcher{}, &mockAnnotationRepository{})

	counts, err := svc.IngestSportTracks(context.Background(), IngestOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 2, counts.Skipped)
	assert.Zero(t, counts.Created)
	assert.Zero(t, counts.Errored)
}

func TestNormalizeSport(t *testing.T) {
	v := func(s string) *string { return &s }

	assert.Equal(t, "Trail Run", normalizeSport(v("Trail Runs")))
	assert.Equal(t, "Ride", normalizeSport(v("My Activities: Cycling: Rides")))
	assert.Equal(t, "Running", normalizeSport(v("Running")))
	assert.Equal(t, "", normalizeSport(v("  ")))
	assert.Equal(t, "", normalizeSport(nil))
}

func TestSportTracksPayloadHash(t *testing.T) {
	dist := 10000.0
	dur := 3600
	sport := "Running"

	a := sportTracksPayloadHash("w-1", "2023-06-10T10:00:00", "2023-06-10T15:00:00Z", &sport, "morning run", &dist, &dur)
	b := sportTracksPayloadHash("w-1", "2023-06-10T10:00:00", "2023-06-10T15:00:00Z", &sport, "morning run", &dist, &dur)
	c := sportTracksPayloadHash("w-2", "2023-06-10T10:00:00", "2023-06-10T15:00:00Z", &sport, "morning run", &dist, &dur)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
