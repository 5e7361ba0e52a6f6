package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/database"
	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/repositories"
)

// UntangleIssue is one canonical activity with more than one annotation
// pointing at it. SourceIDs holds the normalized native ids of its
// source links, grouped by system.
type UntangleIssue struct {
	CanonicalActivityID int64
	AnnotationKeys      []string
	SourceIDs           map[models.SourceSystem][]string
}

// UntangleRecommendation names the single annotation to keep linked.
// Unlinking clears the canonical reference on the others; annotation
// rows themselves are owner data and are never deleted.
type UntangleRecommendation struct {
	CanonicalActivityID int64
	KeepKey             string
	UnlinkKeys          []string
	Reason              string
}

// UntangleFinding pairs an issue with its recommendation.
type UntangleFinding struct {
	Issue          *UntangleIssue
	Recommendation *UntangleRecommendation
}

// UntangleReport is the outcome of one untangle pass.
type UntangleReport struct {
	Findings []*UntangleFinding
	// Unlinked is how many annotation rows were cleared; zero unless
	// Apply was set.
	Unlinked int64
}

// UntangleOptions control one untangle pass.
type UntangleOptions struct {
	// CanonicalActivityID restricts the pass to a single entity; it is
	// reported only if actually entangled. Zero scans the whole store.
	CanonicalActivityID int64
	// Limit caps how many entangled entities are processed, most
	// entangled first. 0 means all.
	Limit int
	// Apply performs the recommended unlinks, one transaction per
	// entity. Without it the pass only reports.
	Apply bool
}

// UntangleService resolves canonical activities that accumulated
// conflicting annotations down to one authoritative link each.
type UntangleService interface {
	Untangle(ctx context.Context, opts UntangleOptions) (*UntangleReport, error)
}

type untangleService struct {
	db             *database.DB
	annotationRepo repositories.AnnotationRepository
	linkRepo       repositories.SourceLinkRepository
	logger         *zap.Logger
}

// NewUntangleService creates a new UntangleService.
func NewUntangleService(
	db *database.DB,
	annotationRepo repositories.AnnotationRepository,
	linkRepo repositories.SourceLinkRepository,
	logger *zap.Logger,
) UntangleService {
	return &untangleService{
		db:             db,
		annotationRepo: annotationRepo,
		linkRepo:       linkRepo,
		logger:         logger.Named("untangle-service"),
	}
}

var _ UntangleService = (*untangleService)(nil)

func (s *untangleService) Untangle(ctx context.Context, opts UntangleOptions) (*UntangleReport, error) {
	ids, err := s.entangledIDs(ctx, opts)
	if err != nil {
		return nil, err
	}

	s.logger.Info("untangle pass",
		zap.Int("entangled", len(ids)),
		zap.Bool("apply", opts.Apply))

	report := &UntangleReport{}
	for _, id := range ids {
		issue, err := s.loadIssue(ctx, id)
		if err != nil {
			return nil, err
		}
		rec := RecommendUntangle(issue)
		report.Findings = append(report.Findings, &UntangleFinding{Issue: issue, Recommendation: rec})

		if !opts.Apply || len(rec.UnlinkKeys) == 0 {
			continue
		}

		var unlinked int64
		err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
			n, err := s.annotationRepo.UnlinkTx(ctx, tx, id, rec.UnlinkKeys)
			if err != nil {
				return err
			}
			unlinked = n
			return nil
		})
		if err != nil {
			s.logger.Error("unlink failed",
				zap.Int64("canonical_activity_id", id),
				zap.Error(err))
			return report, fmt.Errorf("unlink annotations for activity %d: %w", id, err)
		}
		report.Unlinked += unlinked

		s.logger.Info("unlinked annotations",
			zap.Int64("canonical_activity_id", id),
			zap.String("kept", rec.KeepKey),
			zap.Int64("unlinked", unlinked))
	}

	return report, nil
}

func (s *untangleService) entangledIDs(ctx context.Context, opts UntangleOptions) ([]int64, error) {
	if opts.CanonicalActivityID != 0 {
		count, err := s.annotationRepo.CountByCanonical(ctx, opts.CanonicalActivityID)
		if err != nil {
			return nil, fmt.Errorf("count annotations: %w", err)
		}
		if count <= 1 {
			return nil, nil
		}
		return []int64{opts.CanonicalActivityID}, nil
	}

	ids, err := s.annotationRepo.ListMultiLinked(ctx, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("list entangled activities: %w", err)
	}
	return ids, nil
}

func (s *untangleService) loadIssue(ctx context.Context, canonicalActivityID int64) (*UntangleIssue, error) {
	annotations, err := s.annotationRepo.ListByCanonical(ctx, canonicalActivityID)
	if err != nil {
		return nil, fmt.Errorf("list annotations for activity %d: %w", canonicalActivityID, err)
	}
	keys := make([]string, 0, len(annotations))
	for _, a := range annotations {
		keys = append(keys, a.ActivityKey)
	}

	links, err := s.linkRepo.ListByActivity(ctx, canonicalActivityID)
	if err != nil {
		return nil, fmt.Errorf("list source links for activity %d: %w", canonicalActivityID, err)
	}
	sourceIDs := make(map[models.SourceSystem][]string)
	for _, l := range links {
		sourceIDs[l.Source] = append(sourceIDs[l.Source], models.NormalizeSourceID(l.Source, l.SourceActivityID))
	}

	return &UntangleIssue{
		CanonicalActivityID: canonicalActivityID,
		AnnotationKeys:      keys,
		SourceIDs:           sourceIDs,
	}, nil
}

// RecommendUntangle picks the annotation to keep. The tree prefers
// annotations whose key provably refers to one of the entity's own
// source links, GPS platform first; pure guesswork comes last and is
// flagged for review. Same issue in, same recommendation out, on every
// run.
func RecommendUntangle(issue *UntangleIssue) *UntangleRecommendation {
	gpsIDs := toSet(issue.SourceIDs[models.SourceStrava])
	desktopIDs := toSet(issue.SourceIDs[models.SourceSportTracks])

	var matchesGps, matchesDesktop []string
	for _, key := range issue.AnnotationKeys {
		ref := models.ParseActivityKey(key)
		switch ref.Kind {
		case models.GpsSource:
			if _, ok := gpsIDs[ref.NativeID]; ok {
				matchesGps = append(matchesGps, key)
			}
		case models.DesktopSource:
			if _, ok := desktopIDs[ref.NativeID]; ok {
				matchesDesktop = append(matchesDesktop, key)
			}
		}
	}

	keepWith := func(keep, reason string) *UntangleRecommendation {
		return &UntangleRecommendation{
			CanonicalActivityID: issue.CanonicalActivityID,
			KeepKey:             keep,
			UnlinkKeys:          allExcept(issue.AnnotationKeys, keep),
			Reason:              reason,
		}
	}

	if len(matchesGps) == 1 && len(matchesDesktop) == 1 {
		return keepWith(matchesGps[0],
			"both sources have a matching annotation; kept the GPS-platform row")
	}
	if len(matchesGps) == 1 {
		return keepWith(matchesGps[0],
			"kept the only annotation matching a linked strava source id")
	}
	if len(matchesDesktop) == 1 {
		return keepWith(matchesDesktop[0],
			"kept the only annotation matching a linked sporttracks source id")
	}
	if len(matchesGps) > 1 {
		sort.Strings(matchesGps)
		return keepWith(matchesGps[0],
			"multiple annotations match strava sources; kept deterministic smallest, review recommended")
	}
	if len(matchesDesktop) > 1 {
		sort.Strings(matchesDesktop)
		return keepWith(matchesDesktop[0],
			"multiple annotations match sporttracks sources; kept deterministic smallest, review recommended")
	}

	// Nothing matches a source link. Prefer GPS-shaped keys, then
	// desktop-shaped, then anything, smallest key within each band.
	if len(issue.AnnotationKeys) == 0 {
		return &UntangleRecommendation{
			CanonicalActivityID: issue.CanonicalActivityID,
			Reason:              "no annotations to untangle",
		}
	}
	ranked := make([]string, len(issue.AnnotationKeys))
	copy(ranked, issue.AnnotationKeys)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := models.ParseActivityKey(ranked[i]).Kind, models.ParseActivityKey(ranked[j]).Kind
		if ri != rj {
			return ri < rj
		}
		return ranked[i] < ranked[j]
	})
	return keepWith(ranked[0],
		"no annotation matches a linked source; kept by source-kind preference, review recommended")
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// allExcept keeps input order, which mirrors the stored key order.
func allExcept(keys []string, keep string) []string {
	var rest []string
	for _, k := range keys {
		if k != keep {
			rest = append(rest, k)
		}
	}
	return rest
}
