package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/apperrors"
	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/repositories"
	"github.com/supertl/canonical-engine/pkg/temporal"
)

// Fallback name for desktop-log rows carrying neither notes nor category.
const defaultSportTracksName = "SportTracks activity"

// IngestOptions control one ingest pass.
type IngestOptions struct {
	// DryRun reports what would happen without writing. Matching runs
	// against the current store only: rows a real run would have created
	// are invisible to later candidates, so the created/linked split can
	// differ from a wet run.
	DryRun bool
	// Limit caps the number of candidates taken; 0 means all.
	Limit int
}

// IngestService pulls unlinked native mirror rows into the canonical
// store. Each candidate is one transaction, so a crash never leaves an
// orphan link or a half-populated activity.
type IngestService interface {
	IngestStrava(ctx context.Context, opts IngestOptions) (models.RunCounts, error)
	IngestSportTracks(ctx context.Context, opts IngestOptions) (models.RunCounts, error)
}

type ingestService struct {
	db             *database.DB
	nativeRepo     repositories.NativeActivityRepository
	activityRepo   repositories.ActivityRepository
	linkRepo       repositories.SourceLinkRepository
	annotationRepo repositories.AnnotationRepository
	matcher        Matcher
	homeZone       *time.Location
	logger         *zap.Logger
}

// NewIngestService creates a new IngestService. homeZone is the zone
// naive source timestamps are interpreted in.
func NewIngestService(
	db *database.DB,
	nativeRepo repositories.NativeActivityRepository,
	activityRepo repositories.ActivityRepository,
	linkRepo repositories.SourceLinkRepository,
	annotationRepo repositories.AnnotationRepository,
	matcher Matcher,
	homeZone *time.Location,
	logger *zap.Logger,
) IngestService {
	return &ingestService{
		db:             db,
		nativeRepo:     nativeRepo,
		activityRepo:   activityRepo,
		linkRepo:       linkRepo,
		annotationRepo: annotationRepo,
		matcher:        matcher,
		homeZone:       homeZone,
		logger:         logger.Named("ingest-service"),
	}
}

var _ IngestService = (*ingestService)(nil)

// ============================================================================
// Strava
// ============================================================================

// IngestStrava creates one canonical activity per unlinked mirror row.
// GPS-platform rows are authoritative for their own workouts and never
// go through the matcher; duplicates are handled later by the overlap
// report and merge flow.
func (s *ingestService) IngestStrava(ctx context.Context, opts IngestOptions) (models.RunCounts, error) {
	var counts models.RunCounts

	rows, err := s.nativeRepo.ListUnlinkedStrava(ctx, opts.Limit)
	if err != nil {
		s.logger.Error("failed to list unlinked strava rows", zap.Error(err))
		return counts, fmt.Errorf("list unlinked strava rows: %w", err)
	}

	s.logger.Info("strava ingest pass",
		zap.Int("candidates", len(rows)),
		zap.Bool("dry_run", opts.DryRun))

	for _, row := range rows {
		if err := s.ingestStravaRow(ctx, row, opts.DryRun, &counts); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				counts.Skipped++
				s.logger.Warn("strava row already linked",
					zap.Int64("strava_activity_id", row.ActivityID))
				continue
			}
			counts.Errored++
			s.logger.Error("strava row failed",
				zap.Int64("strava_activity_id", row.ActivityID),
				zap.Error(err))
		}
	}

	s.logger.Info("strava ingest finished",
		zap.Int("created", counts.Created),
		zap.Int("annotations_updated", counts.Updated),
		zap.Int("skipped", counts.Skipped),
		zap.Int("errored", counts.Errored))

	return counts, nil
}

func (s *ingestService) ingestStravaRow(ctx context.Context, row *models.StravaActivityRow, dryRun bool, counts *models.RunCounts) error {
	_, utc, err := temporal.NormalizeLocal(row.StartDateTime, "", s.homeZone)
	if err != nil {
		counts.Skipped++
		s.logger.Warn("skipping strava row with unparseable start",
			zap.Int64("strava_activity_id", row.ActivityID),
			zap.String("start_date_time", row.StartDateTime))
		return nil
	}

	nativeID := strconv.FormatInt(row.ActivityID, 10)
	annotationKey := models.GpsActivityKey(nativeID)

	if dryRun {
		counts.Created++
		existing, err := s.annotationRepo.GetByKey(ctx, annotationKey)
		if err != nil {
			return err
		}
		if existing != nil {
			counts.Updated++
		}
		return nil
	}

	// Local wall clock rendered with its offset, matching how the GPS
	// platform itself displays start times.
	localISO := utc.In(s.homeZone).Format("2006-01-02T15:04:05-07:00")
	confidence := models.MatchDirectStrava

	var annotationLinked bool
	err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		activity := &models.CanonicalActivity{
			StartTimeUTC: utc,
			ElapsedTimeS: row.MovingTimeS,
			MovingTimeS:  row.MovingTimeS,
			DistanceM:    row.DistanceM,
			Name:         stringValue(row.Name),
			Sport:        stringValue(row.SportType),
		}
		if err := s.activityRepo.CreateTx(ctx, tx, activity); err != nil {
			return err
		}

		link := &models.SourceLink{
			ActivityID:       activity.ID,
			Source:           models.SourceStrava,
			SourceActivityID: nativeID,
			StartTimeLocal:   &localISO,
			StartTimeUTC:     &utc,
			ElapsedTimeS:     row.MovingTimeS,
			DistanceM:        row.DistanceM,
			Sport:            row.SportType,
			MatchConfidence:  &confidence,
		}
		if err := s.linkRepo.InsertTx(ctx, tx, link); err != nil {
			return err
		}

		linked, err := s.annotationRepo.LinkTx(ctx, tx, annotationKey, activity.ID)
		if err != nil {
			return err
		}
		annotationLinked = linked
		return nil
	})
	if err != nil {
		return err
	}

	counts.Created++
	if annotationLinked {
		counts.Updated++
	}
	return nil
}

// ============================================================================
// SportTracks
// ============================================================================

// IngestSportTracks normalizes each unlinked desktop-log row and runs
// it through the matcher: link to an existing activity within
// tolerance, otherwise create a new one. Candidates are taken in start
// order so an earlier row can create the activity a later row links to.
func (s *ingestService) IngestSportTracks(ctx context.Context, opts IngestOptions) (models.RunCounts, error) {
	var counts models.RunCounts

	rows, err := s.nativeRepo.ListUnlinkedSportTracks(ctx, opts.Limit)
	if err != nil {
		s.logger.Error("failed to list unlinked sporttracks rows", zap.Error(err))
		return counts, fmt.Errorf("list unlinked sporttracks rows: %w", err)
	}

	s.logger.Info("sporttracks ingest pass",
		zap.Int("candidates", len(rows)),
		zap.Bool("dry_run", opts.DryRun))

	for _, row := range rows {
		if err := s.ingestSportTracksRow(ctx, row, opts.DryRun, &counts); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				counts.Skipped++
				s.logger.Warn("sporttracks row already linked",
					zap.String("sporttracks_activity_id", row.ActivityID))
				continue
			}
			counts.Errored++
			s.logger.Error("sporttracks row failed",
				zap.String("sporttracks_activity_id", row.ActivityID),
				zap.Error(err))
		}
	}

	s.logger.Info("sporttracks ingest finished",
		zap.Int("created", counts.Created),
		zap.Int("linked", counts.Linked),
		zap.Int("annotations_updated", counts.Updated),
		zap.Int("skipped", counts.Skipped),
		zap.Int("errored", counts.Errored))

	return counts, nil
}

func (s *ingestService) ingestSportTracksRow(ctx context.Context, row *models.SportTracksActivityRow, dryRun bool, counts *models.RunCounts) error {
	wall, utc, err := temporal.NormalizeLocal(stringValue(row.StartDate), stringValue(row.StartTime), s.homeZone)
	if err != nil {
		counts.Skipped++
		s.logger.Warn("skipping sporttracks row with unparseable start",
			zap.String("sporttracks_activity_id", row.ActivityID),
			zap.Stringp("start_date", row.StartDate),
			zap.Stringp("start_time", row.StartTime))
		return nil
	}

	durationS := intOfFloat(row.DurationS)
	name := strings.TrimSpace(stringValue(row.Notes))
	if name == "" {
		name = stringValue(row.Category)
	}
	if name == "" {
		name = defaultSportTracksName
	}

	decision, err := s.matcher.Match(ctx, MatchCandidate{
		StartUTC:  utc,
		DistanceM: row.DistanceM,
		DurationS: durationS,
		Sport:     row.Category,
	})
	if err != nil {
		return err
	}

	if dryRun {
		if decision != nil {
			counts.Linked++
		} else {
			counts.Created++
		}
		existing, err := s.annotationRepo.GetByKey(ctx, models.DesktopActivityKey(row.ActivityID))
		if err != nil {
			return err
		}
		if existing != nil {
			counts.Updated++
		}
		return nil
	}

	hash := sportTracksPayloadHash(row.ActivityID, wall, temporal.FormatUTC(utc), row.Category, name, row.DistanceM, durationS)
	tier := models.MatchTierA
	if decision != nil {
		tier = decision.Tier
	}

	var annotationLinked bool
	err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var activityID int64
		if decision != nil {
			activityID = decision.Activity.ID
		} else {
			activity := &models.CanonicalActivity{
				StartTimeUTC: utc,
				ElapsedTimeS: durationS,
				MovingTimeS:  durationS,
				DistanceM:    row.DistanceM,
				Name:         name,
				Sport:        normalizeSport(row.Category),
			}
			if err := s.activityRepo.CreateTx(ctx, tx, activity); err != nil {
				return err
			}
			activityID = activity.ID
		}

		link := &models.SourceLink{
			ActivityID:       activityID,
			Source:           models.SourceSportTracks,
			SourceActivityID: row.ActivityID,
			StartTimeLocal:   &wall,
			StartTimeUTC:     &utc,
			ElapsedTimeS:     durationS,
			DistanceM:        row.DistanceM,
			Sport:            row.Category,
			PayloadHash:      &hash,
			MatchConfidence:  &tier,
		}
		if err := s.linkRepo.InsertTx(ctx, tx, link); err != nil {
			return err
		}

		linked, err := s.annotationRepo.LinkTx(ctx, tx, models.DesktopActivityKey(row.ActivityID), activityID)
		if err != nil {
			return err
		}
		annotationLinked = linked
		return nil
	})
	if err != nil {
		return err
	}

	if decision != nil {
		counts.Linked++
	} else {
		counts.Created++
	}
	if annotationLinked {
		counts.Updated++
	}
	return nil
}

// ============================================================================
// Helper Functions
// ============================================================================

// sportTracksPayloadHash fingerprints the source row as ingested.
// Absent values render empty, floats in shortest-roundtrip form; the
// hash only needs to be stable within this store.
func sportTracksPayloadHash(nativeID, startLocal, startUTC string, sport *string, name string, distanceM *float64, durationS *int) string {
	parts := []string{
		nativeID,
		startLocal,
		startUTC,
		stringValue(sport),
		name,
		formatFloat(distanceM),
		formatInt(durationS),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// normalizeSport maps a desktop category label onto a sport name
// comparable with the GPS platform's sport types. The desktop log names
// categories in the plural, often as a path ("Running: Trail Runs");
// the last segment singularized is the sport.
func normalizeSport(category *string) string {
	raw := strings.TrimSpace(stringValue(category))
	if raw == "" {
		return ""
	}
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		raw = strings.TrimSpace(raw[i+1:])
	}
	return inflection.Singular(raw)
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOfFloat(v *float64) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
