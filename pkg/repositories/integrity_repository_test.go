//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/testhelpers"
)

func TestIntegrityRepository_ConsistentStore(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	testhelpers.TruncateAll(t, engineDB.DB)
	repo := NewIntegrityRepository(engineDB.DB)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	// One activity with both sources and an annotation, one with only a
	// GPS link, one with no links at all.
	bothID := seedActivity(t, engineDB.DB, base, 3600, 10000)
	seedLink(t, engineDB.DB, bothID, "strava", "700", base, 10000)
	seedLink(t, engineDB.DB, bothID, "sporttracks", "w700", base, 10050)
	seedAnnotation(t, engineDB.DB, models.DesktopActivityKey("w700"), &bothID)

	gpsOnlyID := seedActivity(t, engineDB.DB, base.Add(24*time.Hour), 1800, 5000)
	seedLink(t, engineDB.DB, gpsOnlyID, "strava", "701", base.Add(24*time.Hour), 5000)

	bareID := seedActivity(t, engineDB.DB, base.Add(48*time.Hour), 1200, 3000)

	// One unclaimed mirror row per source and one unlinked annotation.
	seedStravaMirror(t, engineDB.DB, 900, "2024-06-10T08:00:00Z", "Run", 8000, 2400)
	seedSportTracksMirror(t, engineDB.DB, "w900", "2024-06-11", "09:00:00", "Running", 9000, 3000)
	seedAnnotation(t, engineDB.DB, models.DesktopActivityKey("w901"), nil)

	counts, err := repo.TableCounts(ctx)
	if err != nil {
		t.Fatalf("TableCounts failed: %v", err)
	}
	expected := map[string]int64{
		"engine_activities":       3,
		"engine_activity_sources": 3,
		"engine_annotations":      2,
		"engine_categories":       0,
		"engine_runs":             0,
		"strava_activities":       1,
		"sporttracks_activities":  1,
	}
	for table, want := range expected {
		if counts[table] != want {
			t.Errorf("expected %s count %d, got %d", table, want, counts[table])
		}
	}

	// Foreign keys hold the referential probes at zero.
	orphans, samples, err := repo.OrphanSourceLinks(ctx, 5)
	if err != nil {
		t.Fatalf("OrphanSourceLinks failed: %v", err)
	}
	if orphans != 0 || samples != nil {
		t.Errorf("expected no orphan links, got %d", orphans)
	}

	dangling, err := repo.AnnotationsMissingCanonical(ctx)
	if err != nil {
		t.Fatalf("AnnotationsMissingCanonical failed: %v", err)
	}
	if dangling != 0 {
		t.Errorf("expected no dangling annotations, got %d", dangling)
	}

	dups, err := repo.DuplicateNativeKeys(ctx)
	if err != nil {
		t.Fatalf("DuplicateNativeKeys failed: %v", err)
	}
	if dups != 0 {
		t.Errorf("expected no duplicate native keys, got %d", dups)
	}

	noSources, ids, err := repo.ActivitiesWithoutSources(ctx, 5)
	if err != nil {
		t.Fatalf("ActivitiesWithoutSources failed: %v", err)
	}
	if noSources != 1 {
		t.Errorf("expected 1 activity without sources, got %d", noSources)
	}
	if len(ids) != 1 || ids[0] != bareID {
		t.Errorf("expected sample [%d], got %v", bareID, ids)
	}

	unlinkedAnnotations, err := repo.AnnotationsUnlinked(ctx)
	if err != nil {
		t.Fatalf("AnnotationsUnlinked failed: %v", err)
	}
	if unlinkedAnnotations != 1 {
		t.Errorf("expected 1 unlinked annotation, got %d", unlinkedAnnotations)
	}

	unclaimedStrava, err := repo.UnlinkedStravaCount(ctx)
	if err != nil {
		t.Fatalf("UnlinkedStravaCount failed: %v", err)
	}
	if unclaimedStrava != 1 {
		t.Errorf("expected 1 unclaimed strava row, got %d", unclaimedStrava)
	}

	unclaimedSportTracks, err := repo.UnlinkedSportTracksCount(ctx)
	if err != nil {
		t.Fatalf("UnlinkedSportTracksCount failed: %v", err)
	}
	if unclaimedSportTracks != 1 {
		t.Errorf("expected 1 unclaimed sporttracks row, got %d", unclaimedSportTracks)
	}
}

func TestIntegrityRepository_Coverage(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	testhelpers.TruncateAll(t, engineDB.DB)
	repo := NewIntegrityRepository(engineDB.DB)
	ctx := context.Background()

	base := time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC)

	bothID := seedActivity(t, engineDB.DB, base, 3600, 10000)
	seedLink(t, engineDB.DB, bothID, "strava", "800", base, 10000)
	seedLink(t, engineDB.DB, bothID, "sporttracks", "w800", base, 10100)
	seedAnnotation(t, engineDB.DB, models.DesktopActivityKey("w800"), &bothID)

	gpsOnlyID := seedActivity(t, engineDB.DB, base.Add(24*time.Hour), 1800, 5000)
	seedLink(t, engineDB.DB, gpsOnlyID, "strava", "801", base.Add(24*time.Hour), 5000)

	seedActivity(t, engineDB.DB, base.Add(48*time.Hour), 1200, 3000)

	coverage, err := repo.Coverage(ctx)
	if err != nil {
		t.Fatalf("Coverage failed: %v", err)
	}
	if coverage.TotalActivities != 3 {
		t.Errorf("expected 3 total, got %d", coverage.TotalActivities)
	}
	if coverage.WithStrava != 2 {
		t.Errorf("expected 2 with strava, got %d", coverage.WithStrava)
	}
	if coverage.WithSportTracks != 1 {
		t.Errorf("expected 1 with sporttracks, got %d", coverage.WithSportTracks)
	}
	if coverage.WithBoth != 1 {
		t.Errorf("expected 1 with both, got %d", coverage.WithBoth)
	}
	if coverage.WithAnnotation != 1 {
		t.Errorf("expected 1 with annotation, got %d", coverage.WithAnnotation)
	}
}
