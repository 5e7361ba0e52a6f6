package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/repositories"
	"github.com/supertl/canonical-engine/pkg/sqlguard"
	"github.com/supertl/canonical-engine/pkg/temporal"
	"github.com/supertl/canonical-engine/pkg/workpool"
)

// TimezoneOptions control one timezone pass.
type TimezoneOptions struct {
	DryRun bool
	// Force widens the selection to rows already carrying a value. The
	// provenance guard still applies: force never downgrades a
	// higher-provenance zone.
	Force bool
	Limit int
	// Only is an operator filter predicate over activity columns. It is
	// validated before any query sees it.
	Only string
}

// TimezoneService fills timezone name, provenance, and DST-aware UTC
// offset on canonical activities.
type TimezoneService interface {
	// Backfill resolves a zone for each candidate and writes name,
	// offset, and provenance. Default mode touches only rows with no
	// zone yet.
	Backfill(ctx context.Context, opts TimezoneOptions) (models.RunCounts, error)

	// RecomputeOffsets recomputes utc_offset_minutes for rows that
	// already carry a zone name. Default mode fills only missing
	// offsets.
	RecomputeOffsets(ctx context.Context, opts TimezoneOptions) (models.RunCounts, error)
}

type timezoneService struct {
	db           *database.DB
	activityRepo repositories.ActivityRepository
	pool         *workpool.Pool
	homeZone     string
	allowedZones map[string]struct{}
	logger       *zap.Logger
}

// NewTimezoneService creates a new TimezoneService. homeZone is the
// configured IANA zone for the fallback rules; allowedZones is the set
// of zones the athlete plausibly trains in.
func NewTimezoneService(
	db *database.DB,
	activityRepo repositories.ActivityRepository,
	pool *workpool.Pool,
	homeZone string,
	allowedZones map[string]struct{},
	logger *zap.Logger,
) TimezoneService {
	return &timezoneService{
		db:           db,
		activityRepo: activityRepo,
		pool:         pool,
		homeZone:     homeZone,
		allowedZones: allowedZones,
		logger:       logger.Named("timezone-service"),
	}
}

var _ TimezoneService = (*timezoneService)(nil)

// tzUpdate is one resolved assignment waiting to be written.
type tzUpdate struct {
	id     int64
	zone   string
	offset *int
	source models.TzSource
}

func (s *timezoneService) Backfill(ctx context.Context, opts TimezoneOptions) (models.RunCounts, error) {
	var counts models.RunCounts

	predicate, err := validateOnly(opts.Only)
	if err != nil {
		return counts, err
	}

	candidates, err := s.activityRepo.ListTzCandidates(ctx, !opts.Force, predicate, opts.Limit)
	if err != nil {
		s.logger.Error("failed to list timezone candidates", zap.Error(err))
		return counts, fmt.Errorf("list timezone candidates: %w", err)
	}

	s.logger.Info("timezone backfill pass",
		zap.Int("candidates", len(candidates)),
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("force", opts.Force))

	var updates []tzUpdate
	badZones := 0

	for _, c := range candidates {
		update, ok := s.planTimezone(c)
		if !ok {
			counts.Skipped++
			continue
		}
		if update.source == models.TzBadName {
			badZones++
		}
		updates = append(updates, update)
	}

	if opts.DryRun {
		counts.Updated = len(updates)
		s.logger.Info("timezone backfill dry run",
			zap.Int("would_update", counts.Updated),
			zap.Int("bad_timezones", badZones),
			zap.Int("skipped", counts.Skipped))
		return counts, nil
	}

	err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		for _, u := range updates {
			zone := u.zone
			if err := s.activityRepo.UpdateTimezoneTx(ctx, tx, u.id, &zone, u.offset, u.source); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("timezone backfill apply failed", zap.Error(err))
		return counts, fmt.Errorf("apply timezone backfill: %w", err)
	}

	counts.Updated = len(updates)
	s.logger.Info("timezone backfill finished",
		zap.Int("updated", counts.Updated),
		zap.Int("bad_timezones", badZones),
		zap.Int("skipped", counts.Skipped))

	return counts, nil
}

// planTimezone resolves one candidate into a pending update. ok is
// false when the provenance guard keeps the existing value, which only
// happens under force since the default selection has no zone yet.
func (s *timezoneService) planTimezone(c *models.TzCandidate) (tzUpdate, bool) {
	zone, source := s.resolveZone(c)

	var offsetPtr *int
	offset, err := temporal.OffsetMinutes(c.StartTimeUTC, zone)
	if err != nil {
		// The name is kept for diagnosis; the offset stays unset.
		source = models.TzBadName
		s.logger.Warn("unresolvable timezone name",
			zap.Int64("activity_id", c.ID),
			zap.String("tz_name", zone))
	} else {
		offsetPtr = &offset
	}

	if c.TzSource != nil && !source.CanReplace(*c.TzSource) {
		s.logger.Info("provenance guard kept existing timezone",
			zap.Int64("activity_id", c.ID),
			zap.String("existing", c.TzSource.String()),
			zap.String("candidate", source.String()))
		return tzUpdate{}, false
	}

	return tzUpdate{id: c.ID, zone: zone, offset: offsetPtr, source: source}, true
}

// resolveZone decides the zone and provenance for one candidate:
//  1. A usable zone label in the GPS payload wins; zones outside the
//     allowlist are recorded but flagged suspect.
//  2. A stationary trainer/virtual session with no positional fix is
//     forced home. This outranks the plain payload fallback.
//  3. Any other GPS payload falls back to home.
//  4. No payload at all means the home zone is assumed.
func (s *timezoneService) resolveZone(c *models.TzCandidate) (string, models.TzSource) {
	var payload *models.GpsPayload
	if len(c.GpsData) > 0 {
		p, err := models.DecodeGpsPayload(c.GpsData)
		if err != nil {
			s.logger.Warn("undecodable gps payload",
				zap.Int64("activity_id", c.ID),
				zap.Stringp("strava_activity_id", c.GpsNativeID))
		} else {
			payload = p
		}
	}

	if payload != nil {
		if zone := temporal.ExtractIANALabel(payload.TimezoneLabel()); zone != "" {
			if _, ok := s.allowedZones[zone]; ok {
				return zone, models.TzSourceReported
			}
			return zone, models.TzSourceSuspect
		}
		if payload.IsVirtualOrTrainer(c.Sport) && payload.HasNoGPS() {
			return s.homeZone, models.TzManualHomeNoGPS
		}
		return s.homeZone, models.TzSourceFallback
	}

	return s.homeZone, models.TzAssumedHome
}

func (s *timezoneService) RecomputeOffsets(ctx context.Context, opts TimezoneOptions) (models.RunCounts, error) {
	var counts models.RunCounts

	predicate, err := validateOnly(opts.Only)
	if err != nil {
		return counts, err
	}

	candidates, err := s.activityRepo.ListOffsetCandidates(ctx, opts.Force, predicate, opts.Limit)
	if err != nil {
		s.logger.Error("failed to list offset candidates", zap.Error(err))
		return counts, fmt.Errorf("list offset candidates: %w", err)
	}

	s.logger.Info("offset recompute pass",
		zap.Int("candidates", len(candidates)),
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("force", opts.Force))

	type offsetResult struct {
		id     int64
		offset int
	}

	// The arithmetic is pure, so it fans out; writes stay serialized
	// below.
	items := make([]workpool.Item[offsetResult], 0, len(candidates))
	for _, c := range candidates {
		c := c
		items = append(items, workpool.Item[offsetResult]{
			ID: strconv.FormatInt(c.ID, 10),
			Execute: func(ctx context.Context) (offsetResult, error) {
				offset, err := temporal.OffsetMinutes(c.StartTimeUTC, stringValue(c.TzName))
				if err != nil {
					return offsetResult{}, err
				}
				return offsetResult{id: c.ID, offset: offset}, nil
			},
		})
	}

	results := workpool.Process(ctx, s.pool, items, nil)

	var updates []offsetResult
	for _, r := range results {
		if r.Err != nil {
			counts.Skipped++
			s.logger.Warn("offset recompute skipped",
				zap.String("activity_id", r.ID),
				zap.Error(r.Err))
			continue
		}
		updates = append(updates, r.Result)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].id < updates[j].id })

	if opts.DryRun {
		counts.Updated = len(updates)
		s.logger.Info("offset recompute dry run",
			zap.Int("would_update", counts.Updated),
			zap.Int("skipped", counts.Skipped))
		return counts, nil
	}

	err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		for _, u := range updates {
			if err := s.activityRepo.UpdateOffsetTx(ctx, tx, u.id, u.offset); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("offset recompute apply failed", zap.Error(err))
		return counts, fmt.Errorf("apply offset recompute: %w", err)
	}

	counts.Updated = len(updates)
	s.logger.Info("offset recompute finished",
		zap.Int("updated", counts.Updated),
		zap.Int("skipped", counts.Skipped))

	return counts, nil
}

// validateOnly runs a non-empty operator predicate through sqlguard.
func validateOnly(only string) (string, error) {
	if only == "" {
		return "", nil
	}
	return sqlguard.ValidatePredicate(only)
}
