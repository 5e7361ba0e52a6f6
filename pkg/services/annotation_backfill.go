package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/supertl/canonical-engine/pkg/apperrors"
	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/repositories"
)

// generalWorkoutTypeID is the desktop log's catch-all workout type.
// Backfilled annotations all get it; refining the type stays manual.
const generalWorkoutTypeID = 1

// categoryMappingFile is the YAML shape of the operator-maintained
// mapping from desktop-log category labels to category tree ids:
//
//	categories:
//	  "XC Skate": 4
//	  "Roller": 3
type categoryMappingFile struct {
	Categories map[string]int `yaml:"categories"`
}

// AnnotationBackfillOptions control one backfill pass.
type AnnotationBackfillOptions struct {
	DryRun bool
	Limit  int
}

// AnnotationBackfillReport is the outcome of one backfill pass.
// Unmapped counts candidates per category label missing from the
// mapping; extending the mapping and re-running picks them up.
type AnnotationBackfillReport struct {
	Candidates int
	Created    int
	Skipped    int
	Errored    int
	Unmapped   map[string]int
}

// Counts folds the report into run-ledger counters.
func (r *AnnotationBackfillReport) Counts() models.RunCounts {
	return models.RunCounts{Created: r.Created, Skipped: r.Skipped, Errored: r.Errored}
}

// AnnotationBackfillService synthesizes annotation rows for canonical
// activities that carry a desktop source but no annotation yet, so the
// training log covers them.
type AnnotationBackfillService interface {
	// LoadCategoryMap parses the YAML category mapping.
	LoadCategoryMap(r io.Reader) (map[string]int, error)

	Backfill(ctx context.Context, categories map[string]int, opts AnnotationBackfillOptions) (*AnnotationBackfillReport, error)
}

type annotationBackfillService struct {
	db             *database.DB
	annotationRepo repositories.AnnotationRepository
	logger         *zap.Logger
}

// NewAnnotationBackfillService creates a new AnnotationBackfillService.
func NewAnnotationBackfillService(db *database.DB, annotationRepo repositories.AnnotationRepository, logger *zap.Logger) AnnotationBackfillService {
	return &annotationBackfillService{
		db:             db,
		annotationRepo: annotationRepo,
		logger:         logger.Named("annotation-backfill"),
	}
}

var _ AnnotationBackfillService = (*annotationBackfillService)(nil)

func (s *annotationBackfillService) LoadCategoryMap(r io.Reader) (map[string]int, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file categoryMappingFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode category mapping: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, &apperrors.SetupError{Missing: "category mapping has no categories"}
	}

	return file.Categories, nil
}

func (s *annotationBackfillService) Backfill(ctx context.Context, categories map[string]int, opts AnnotationBackfillOptions) (*AnnotationBackfillReport, error) {
	if len(categories) == 0 {
		return nil, &apperrors.SetupError{Missing: "category mapping is empty"}
	}

	candidates, err := s.annotationRepo.ListBackfillCandidates(ctx, opts.Limit)
	if err != nil {
		s.logger.Error("failed to list backfill candidates", zap.Error(err))
		return nil, fmt.Errorf("list backfill candidates: %w", err)
	}

	report := &AnnotationBackfillReport{
		Candidates: len(candidates),
		Unmapped:   make(map[string]int),
	}

	for _, c := range candidates {
		label := stringValue(c.Category)
		categoryID, ok := categories[label]
		if !ok {
			s.logger.Warn("category not in mapping",
				zap.Int64("canonical_activity_id", c.CanonicalActivityID),
				zap.String("category", label))
			report.Skipped++
			report.Unmapped[label]++
			continue
		}

		if opts.DryRun {
			report.Created++
			continue
		}

		if err := s.insertAnnotation(ctx, c, categoryID); err != nil {
			// A key collision means an unlinked annotation already owns
			// this native id; leave it for the untangler to review.
			if errors.Is(err, apperrors.ErrConflict) {
				s.logger.Warn("annotation key already exists",
					zap.String("activity_key", models.DesktopActivityKey(c.SportTracksID)),
					zap.Int64("canonical_activity_id", c.CanonicalActivityID))
				report.Skipped++
				continue
			}
			s.logger.Error("failed to backfill annotation",
				zap.Int64("canonical_activity_id", c.CanonicalActivityID),
				zap.Error(err))
			report.Errored++
			continue
		}
		report.Created++
	}

	if len(report.Unmapped) > 0 {
		labels := make([]string, 0, len(report.Unmapped))
		for label := range report.Unmapped {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			s.logger.Warn("unmapped category",
				zap.String("category", label),
				zap.Int("candidates", report.Unmapped[label]))
		}
	}

	s.logger.Info("annotation backfill finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("candidates", report.Candidates),
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
		zap.Int("errored", report.Errored))
	return report, nil
}

// backfillAnnotation builds the synthesized row for one candidate.
func backfillAnnotation(c *models.AnnotationBackfillCandidate, categoryID int) *models.SecondaryAnnotation {
	workoutType := generalWorkoutTypeID
	return &models.SecondaryAnnotation{
		ActivityKey:         models.DesktopActivityKey(c.SportTracksID),
		WorkoutTypeID:       &workoutType,
		CategoryID:          &categoryID,
		IsTraining:          models.IsTrainingYes,
		CanonicalActivityID: &c.CanonicalActivityID,
	}
}

func (s *annotationBackfillService) insertAnnotation(ctx context.Context, c *models.AnnotationBackfillCandidate, categoryID int) error {
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return s.annotationRepo.InsertTx(ctx, tx, backfillAnnotation(c, categoryID))
	})
}
