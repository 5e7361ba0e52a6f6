//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/supertl/canonical-engine/pkg/apperrors"
	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/testhelpers"
)

func setupLinkRepoTest(t *testing.T) (*testhelpers.EngineDB, SourceLinkRepository) {
	engineDB := testhelpers.GetEngineDB(t)
	testhelpers.TruncateAll(t, engineDB.DB)
	return engineDB, NewSourceLinkRepository(engineDB.DB)
}

func TestSourceLinkRepository_InsertTx_RoundTrip(t *testing.T) {
	engineDB, repo := setupLinkRepoTest(t)
	ctx := context.Background()

	activityID := seedActivity(t, engineDB.DB, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), 3600, 10000)

	local := "2024-06-01T05:00:00-05:00"
	startUTC := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	elapsed := 3600
	distance := 10000.0
	sport := "Run"
	confidence := models.MatchDirectStrava
	link := &models.SourceLink{
		ActivityID:       activityID,
		Source:           models.SourceStrava,
		SourceActivityID: "12345",
		StartTimeLocal:   &local,
		StartTimeUTC:     &startUTC,
		ElapsedTimeS:     &elapsed,
		DistanceM:        &distance,
		Sport:            &sport,
		MatchConfidence:  &confidence,
	}

	err := database.WithTx(ctx, engineDB.DB, func(tx pgx.Tx) error {
		return repo.InsertTx(ctx, tx, link)
	})
	if err != nil {
		t.Fatalf("InsertTx failed: %v", err)
	}
	if link.ID == 0 {
		t.Error("expected ID to be set")
	}
	if link.IngestedAtUTC.IsZero() {
		t.Error("expected IngestedAtUTC to be set")
	}

	retrieved, err := repo.GetByNative(ctx, models.SourceStrava, "12345")
	if err != nil {
		t.Fatalf("GetByNative failed: %v", err)
	}
	if retrieved == nil {
		t.Fatal("expected link, got nil")
	}
	if retrieved.ActivityID != activityID {
		t.Errorf("expected activity %d, got %d", activityID, retrieved.ActivityID)
	}
	if retrieved.StartTimeLocal == nil || *retrieved.StartTimeLocal != local {
		t.Errorf("expected start_time_local %q, got %v", local, retrieved.StartTimeLocal)
	}
	if retrieved.MatchConfidence == nil || *retrieved.MatchConfidence != models.MatchDirectStrava {
		t.Errorf("expected confidence %q, got %v", models.MatchDirectStrava, retrieved.MatchConfidence)
	}
}

func TestSourceLinkRepository_InsertTx_DuplicateNative(t *testing.T) {
	engineDB, repo := setupLinkRepoTest(t)
	ctx := context.Background()

	first := seedActivity(t, engineDB.DB, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), 3600, 10000)
	second := seedActivity(t, engineDB.DB, time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC), 3600, 10000)

	insert := func(activityID int64) error {
		return database.WithTx(ctx, engineDB.DB, func(tx pgx.Tx) error {
			return repo.InsertTx(ctx, tx, &models.SourceLink{
				ActivityID:       activityID,
				Source:           models.SourceSportTracks,
				SourceActivityID: "st-dup",
			})
		})
	}

	if err := insert(first); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err := insert(second)
	if err == nil {
		t.Fatal("expected duplicate native claim to fail")
	}
	var consistencyErr *apperrors.ConsistencyError
	if !errors.As(err, &consistencyErr) {
		t.Errorf("expected ConsistencyError, got %T: %v", err, err)
	}
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("expected error to unwrap to ErrConflict, got %v", err)
	}
}

func TestSourceLinkRepository_GetByNative_NotFound(t *testing.T) {
	_, repo := setupLinkRepoTest(t)

	link, err := repo.GetByNative(context.Background(), models.SourceStrava, "nope")
	if err != nil {
		t.Fatalf("GetByNative should not error for not found: %v", err)
	}
	if link != nil {
		t.Errorf("expected nil for not found, got %+v", link)
	}
}

func TestSourceLinkRepository_ListByActivity_Ordered(t *testing.T) {
	engineDB, repo := setupLinkRepoTest(t)
	ctx := context.Background()

	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	activityID := seedActivity(t, engineDB.DB, start, 3600, 10000)
	seedLink(t, engineDB.DB, activityID, "sporttracks", "st-z", start, 10000)
	seedLink(t, engineDB.DB, activityID, "strava", "42", start, 10000)

	links, err := repo.ListByActivity(ctx, activityID)
	if err != nil {
		t.Fatalf("ListByActivity failed: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	if links[0].Source != models.SourceSportTracks || links[1].Source != models.SourceStrava {
		t.Errorf("expected sporttracks before strava, got [%s %s]", links[0].Source, links[1].Source)
	}

	count, err := repo.CountByActivity(ctx, activityID)
	if err != nil {
		t.Fatalf("CountByActivity failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}
}

func TestSourceLinkRepository_RepointTx_MovesAll(t *testing.T) {
	engineDB, repo := setupLinkRepoTest(t)
	ctx := context.Background()

	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	from := seedActivity(t, engineDB.DB, start, 3600, 10000)
	to := seedActivity(t, engineDB.DB, start.Add(time.Minute), 3600, 10000)
	seedLink(t, engineDB.DB, from, "strava", "77", start, 10000)
	seedLink(t, engineDB.DB, from, "sporttracks", "st-77", start, 10000)

	var moved int64
	err := database.WithTx(ctx, engineDB.DB, func(tx pgx.Tx) error {
		var err error
		moved, err = repo.RepointTx(ctx, tx, from, to)
		return err
	})
	if err != nil {
		t.Fatalf("RepointTx failed: %v", err)
	}
	if moved != 2 {
		t.Errorf("expected 2 links moved, got %d", moved)
	}

	fromCount, err := repo.CountByActivity(ctx, from)
	if err != nil {
		t.Fatalf("CountByActivity failed: %v", err)
	}
	if fromCount != 0 {
		t.Errorf("expected source activity to keep 0 links, got %d", fromCount)
	}

	toCount, err := repo.CountByActivity(ctx, to)
	if err != nil {
		t.Fatalf("CountByActivity failed: %v", err)
	}
	if toCount != 2 {
		t.Errorf("expected target activity to hold 2 links, got %d", toCount)
	}
}
