package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/repositories"
	"github.com/supertl/canonical-engine/pkg/temporal"
)

// Mismatch scan defaults. A pair is suspect when the starts sit within
// five minutes of a whole 1..12 hour gap and the distances agree to a
// kilometer.
const (
	DefaultMismatchMaxHourDiff   = 12
	DefaultMismatchToleranceMin  = 5.0
	DefaultMismatchDistanceDiffM = 1000.0
)

// MismatchOptions control one scan. Zero values fall back to the
// package defaults.
type MismatchOptions struct {
	MaxHourDiff   int
	ToleranceMin  float64
	DistanceDiffM float64
}

// MismatchService finds strava-only and sporttracks-only activities
// that look like the same workout shifted by a whole number of hours.
// Those are matcher misses caused by a wall time stored as UTC; the
// output feeds the merge tool.
type MismatchService interface {
	FindTzMismatches(ctx context.Context, opts MismatchOptions) ([]*models.TzMismatchPair, error)

	// WritePairsCSV writes pairs in scan order for spreadsheet review.
	WritePairsCSV(w io.Writer, pairs []*models.TzMismatchPair) error
}

type mismatchService struct {
	activityRepo repositories.ActivityRepository
	logger       *zap.Logger
}

// NewMismatchService creates a new MismatchService.
func NewMismatchService(activityRepo repositories.ActivityRepository, logger *zap.Logger) MismatchService {
	return &mismatchService{
		activityRepo: activityRepo,
		logger:       logger.Named("mismatch-service"),
	}
}

var _ MismatchService = (*mismatchService)(nil)

func (s *mismatchService) FindTzMismatches(ctx context.Context, opts MismatchOptions) ([]*models.TzMismatchPair, error) {
	if opts.MaxHourDiff <= 0 {
		opts.MaxHourDiff = DefaultMismatchMaxHourDiff
	}
	if opts.ToleranceMin <= 0 {
		opts.ToleranceMin = DefaultMismatchToleranceMin
	}
	if opts.DistanceDiffM <= 0 {
		opts.DistanceDiffM = DefaultMismatchDistanceDiffM
	}

	pairs, err := s.activityRepo.ListTzMismatchPairs(ctx, opts.MaxHourDiff, opts.ToleranceMin, opts.DistanceDiffM)
	if err != nil {
		s.logger.Error("failed to list tz mismatch pairs", zap.Error(err))
		return nil, fmt.Errorf("list tz mismatch pairs: %w", err)
	}

	s.logger.Info("tz mismatch scan finished",
		zap.Int("pairs", len(pairs)),
		zap.Int("max_hour_diff", opts.MaxHourDiff))
	return pairs, nil
}

func (s *mismatchService) WritePairsCSV(w io.Writer, pairs []*models.TzMismatchPair) error {
	cw := csv.NewWriter(w)

	header := []string{
		"strava_activity_id",
		"sporttracks_activity_id",
		"strava_start_time",
		"sporttracks_start_time",
		"hour_diff",
		"strava_distance_m",
		"sporttracks_distance_m",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write mismatch csv header: %w", err)
	}

	for _, p := range pairs {
		record := []string{
			strconv.FormatInt(p.StravaActivityID, 10),
			strconv.FormatInt(p.SportTracksActivityID, 10),
			temporal.FormatUTC(p.StravaStartUTC),
			temporal.FormatUTC(p.SportTracksStartUTC),
			strconv.Itoa(p.HourDiff),
			strconv.FormatFloat(p.StravaDistanceM, 'f', -1, 64),
			strconv.FormatFloat(p.SportTracksDistanceM, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write mismatch csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
