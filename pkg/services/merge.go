package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/repositories"
)

// MergeReport is the outcome of one merge pass. In dry-run mode Merged
// and the moved counts describe what would happen.
type MergeReport struct {
	Pairs            int
	Merged           int
	Skipped          int
	Errored          int
	LinksMoved       int64
	AnnotationsMoved int64
}

// Counts maps the report onto run counters.
func (r *MergeReport) Counts() models.RunCounts {
	return models.RunCounts{
		Updated: r.Merged,
		Skipped: r.Skipped,
		Errored: r.Errored,
	}
}

// MergeService folds operator-confirmed duplicate pairs together: every
// source link and annotation moves from the dropped activity to the
// kept one, then the dropped activity is deleted. One transaction per
// pair; a failed pair rolls back alone and the batch continues.
type MergeService interface {
	// LoadPairs reads a keep_id,drop_id CSV. Rows with unparseable ids
	// or keep == drop are rejected and logged; a missing header column
	// is an error.
	LoadPairs(r io.Reader) ([]models.MergePair, error)

	MergePairs(ctx context.Context, pairs []models.MergePair, dryRun bool) (*MergeReport, error)
}

type mergeService struct {
	db             *database.DB
	activityRepo   repositories.ActivityRepository
	linkRepo       repositories.SourceLinkRepository
	annotationRepo repositories.AnnotationRepository
	logger         *zap.Logger
}

// NewMergeService creates a new MergeService.
func NewMergeService(
	db *database.DB,
	activityRepo repositories.ActivityRepository,
	linkRepo repositories.SourceLinkRepository,
	annotationRepo repositories.AnnotationRepository,
	logger *zap.Logger,
) MergeService {
	return &mergeService{
		db:             db,
		activityRepo:   activityRepo,
		linkRepo:       linkRepo,
		annotationRepo: annotationRepo,
		logger:         logger.Named("merge-service"),
	}
}

var _ MergeService = (*mergeService)(nil)

func (s *mergeService) LoadPairs(r io.Reader) ([]models.MergePair, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read pairs header: %w", err)
	}

	keepCol, dropCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "keep_id":
			keepCol = i
		case "drop_id":
			dropCol = i
		}
	}
	if keepCol < 0 || dropCol < 0 {
		return nil, fmt.Errorf("pairs file must have keep_id and drop_id columns, found %v", header)
	}

	var pairs []models.MergePair
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read pairs row: %w", err)
		}

		keepID, keepErr := strconv.ParseInt(strings.TrimSpace(record[keepCol]), 10, 64)
		dropID, dropErr := strconv.ParseInt(strings.TrimSpace(record[dropCol]), 10, 64)
		if keepErr != nil || dropErr != nil {
			s.logger.Warn("skipping pair row with invalid ids", zap.Strings("row", record))
			continue
		}
		if keepID == dropID {
			s.logger.Warn("skipping pair where keep and drop are the same activity",
				zap.Int64("id", keepID))
			continue
		}

		pairs = append(pairs, models.MergePair{KeepID: keepID, DropID: dropID})
	}

	return pairs, nil
}

func (s *mergeService) MergePairs(ctx context.Context, pairs []models.MergePair, dryRun bool) (*MergeReport, error) {
	report := &MergeReport{Pairs: len(pairs)}

	s.logger.Info("merge pass",
		zap.Int("pairs", len(pairs)),
		zap.Bool("dry_run", dryRun))

	for _, pair := range pairs {
		if err := s.mergePair(ctx, pair, dryRun, report); err != nil {
			report.Errored++
			s.logger.Error("merge pair failed",
				zap.Int64("keep_id", pair.KeepID),
				zap.Int64("drop_id", pair.DropID),
				zap.Error(err))
		}
	}

	s.logger.Info("merge finished",
		zap.Int("merged", report.Merged),
		zap.Int("skipped", report.Skipped),
		zap.Int("errored", report.Errored),
		zap.Int64("links_moved", report.LinksMoved),
		zap.Int64("annotations_moved", report.AnnotationsMoved))

	return report, nil
}

func (s *mergeService) mergePair(ctx context.Context, pair models.MergePair, dryRun bool, report *MergeReport) error {
	keepExists, err := s.activityRepo.Exists(ctx, pair.KeepID)
	if err != nil {
		return fmt.Errorf("check keep activity: %w", err)
	}
	dropExists, err := s.activityRepo.Exists(ctx, pair.DropID)
	if err != nil {
		return fmt.Errorf("check drop activity: %w", err)
	}
	// Re-running a merged pair lands here: the drop id is gone, the
	// pair is reported and skipped without error.
	if !keepExists || !dropExists {
		report.Skipped++
		s.logger.Warn("skipping merge pair",
			zap.Int64("keep_id", pair.KeepID),
			zap.Int64("drop_id", pair.DropID),
			zap.Bool("keep_exists", keepExists),
			zap.Bool("drop_exists", dropExists))
		return nil
	}

	if dryRun {
		links, err := s.linkRepo.CountByActivity(ctx, pair.DropID)
		if err != nil {
			return fmt.Errorf("count source links: %w", err)
		}
		annotations, err := s.annotationRepo.CountByCanonical(ctx, pair.DropID)
		if err != nil {
			return fmt.Errorf("count annotations: %w", err)
		}

		report.Merged++
		report.LinksMoved += links
		report.AnnotationsMoved += annotations
		s.logger.Info("would merge",
			zap.Int64("keep_id", pair.KeepID),
			zap.Int64("drop_id", pair.DropID),
			zap.Int64("links", links),
			zap.Int64("annotations", annotations))
		return nil
	}

	var linksMoved, annotationsMoved int64
	err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		n, err := s.linkRepo.RepointTx(ctx, tx, pair.DropID, pair.KeepID)
		if err != nil {
			return err
		}
		linksMoved = n

		n, err = s.annotationRepo.RepointTx(ctx, tx, pair.DropID, pair.KeepID)
		if err != nil {
			return err
		}
		annotationsMoved = n

		// Links are re-pointed before the delete, so no source link ever
		// references a missing activity.
		return s.activityRepo.DeleteTx(ctx, tx, pair.DropID)
	})
	if err != nil {
		return err
	}

	report.Merged++
	report.LinksMoved += linksMoved
	report.AnnotationsMoved += annotationsMoved
	s.logger.Info("merged pair",
		zap.Int64("keep_id", pair.KeepID),
		zap.Int64("drop_id", pair.DropID),
		zap.Int64("links_moved", linksMoved),
		zap.Int64("annotations_moved", annotationsMoved))
	return nil
}
