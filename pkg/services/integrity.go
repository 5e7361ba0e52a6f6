package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/repositories"
)

// integritySampleLimit caps how many offending rows each check quotes.
const integritySampleLimit = 10

// CheckResult bundles the referential checks with coverage numbers.
// Unlinked native rows and unlinked annotations are informational, not
// problems: both are expected mid-backfill.
type CheckResult struct {
	Integrity *models.IntegrityReport
	Coverage  *models.CoverageReport
}

// Healthy reports whether every referential invariant holds.
func (r *CheckResult) Healthy() bool {
	return len(r.Problems()) == 0
}

// Problems lists the violated invariants in display form.
func (r *CheckResult) Problems() []string {
	var problems []string
	if n := r.Integrity.OrphanSourceLinks; n > 0 {
		problems = append(problems, fmt.Sprintf("%d source links point at missing activities", n))
	}
	if n := r.Integrity.ActivitiesNoSources; n > 0 {
		problems = append(problems, fmt.Sprintf("%d activities have no source links", n))
	}
	if n := r.Integrity.AnnotationsMissingCanonical; n > 0 {
		problems = append(problems, fmt.Sprintf("%d annotations point at missing activities", n))
	}
	if n := r.Integrity.DuplicateNativeKeys; n > 0 {
		problems = append(problems, fmt.Sprintf("%d native keys are linked more than once", n))
	}
	return problems
}

// IntegrityService runs the consistency checks behind the check command.
type IntegrityService interface {
	Check(ctx context.Context) (*CheckResult, error)
}

type integrityService struct {
	repo   repositories.IntegrityRepository
	logger *zap.Logger
}

// NewIntegrityService creates a new IntegrityService.
func NewIntegrityService(repo repositories.IntegrityRepository, logger *zap.Logger) IntegrityService {
	return &integrityService{
		repo:   repo,
		logger: logger.Named("integrity-service"),
	}
}

var _ IntegrityService = (*integrityService)(nil)

func (s *integrityService) Check(ctx context.Context) (*CheckResult, error) {
	report := &models.IntegrityReport{}

	counts, err := s.repo.TableCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("table counts: %w", err)
	}
	report.TableCounts = counts

	report.OrphanSourceLinks, report.OrphanLinkSamples, err = s.repo.OrphanSourceLinks(ctx, integritySampleLimit)
	if err != nil {
		return nil, fmt.Errorf("orphan source links: %w", err)
	}

	report.ActivitiesNoSources, report.NoSourceSamples, err = s.repo.ActivitiesWithoutSources(ctx, integritySampleLimit)
	if err != nil {
		return nil, fmt.Errorf("activities without sources: %w", err)
	}

	report.AnnotationsMissingCanonical, err = s.repo.AnnotationsMissingCanonical(ctx)
	if err != nil {
		return nil, fmt.Errorf("dangling annotations: %w", err)
	}

	report.AnnotationsUnlinked, err = s.repo.AnnotationsUnlinked(ctx)
	if err != nil {
		return nil, fmt.Errorf("unlinked annotations: %w", err)
	}

	report.UnlinkedStrava, err = s.repo.UnlinkedStravaCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("unlinked strava rows: %w", err)
	}

	report.UnlinkedSportTracks, err = s.repo.UnlinkedSportTracksCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("unlinked sporttracks rows: %w", err)
	}

	report.DuplicateNativeKeys, err = s.repo.DuplicateNativeKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("duplicate native keys: %w", err)
	}

	coverage, err := s.repo.Coverage(ctx)
	if err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}

	result := &CheckResult{Integrity: report, Coverage: coverage}
	s.logger.Info("integrity check complete",
		zap.Bool("healthy", result.Healthy()),
		zap.Int64("activities", coverage.TotalActivities),
		zap.Int64("orphan_links", report.OrphanSourceLinks),
		zap.Int64("duplicate_native_keys", report.DuplicateNativeKeys))

	return result, nil
}
