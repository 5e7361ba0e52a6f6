package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/repositories"
)

// Matching tolerances. Tier A is the high-confidence band; tier B is
// only consulted when no tier A candidate qualifies.
const (
	tierATimeWindow = 5 * time.Minute
	tierBTimeWindow = 15 * time.Minute
	tierAMetricTol  = 0.10
	tierBMetricTol  = 0.15
)

// MatchCandidate is one normalized source row presented to the matcher.
type MatchCandidate struct {
	StartUTC  time.Time
	DistanceM *float64
	DurationS *int
	Sport     *string
}

// MatchDecision names the activity a candidate links to and the
// confidence tier that won.
type MatchDecision struct {
	Activity *models.CanonicalActivity
	Tier     string
}

// Matcher decides whether a candidate links to an existing canonical
// activity. A nil decision means nothing within tolerance: the caller
// creates a new activity.
type Matcher interface {
	Match(ctx context.Context, candidate MatchCandidate) (*MatchDecision, error)
}

type matcher struct {
	activityRepo repositories.ActivityRepository
	logger       *zap.Logger
}

// NewMatcher creates a new Matcher.
func NewMatcher(activityRepo repositories.ActivityRepository, logger *zap.Logger) Matcher {
	return &matcher{
		activityRepo: activityRepo,
		logger:       logger.Named("matcher"),
	}
}

var _ Matcher = (*matcher)(nil)

func (m *matcher) Match(ctx context.Context, candidate MatchCandidate) (*MatchDecision, error) {
	nearby, err := m.activityRepo.FindNear(ctx, candidate.StartUTC, tierBTimeWindow)
	if err != nil {
		return nil, fmt.Errorf("find nearby activities: %w", err)
	}
	if len(nearby) == 0 {
		return nil, nil
	}

	// Rows arrive ordered by time distance then id, so the first hit in
	// each tier is already the deterministic tie-break winner.
	if winner := firstWithinTier(nearby, candidate, tierATimeWindow, tierAMetricTol); winner != nil {
		return &MatchDecision{Activity: winner, Tier: models.MatchTierA}, nil
	}
	if winner := firstWithinTier(nearby, candidate, tierBTimeWindow, tierBMetricTol); winner != nil {
		return &MatchDecision{Activity: winner, Tier: models.MatchTierB}, nil
	}

	return nil, nil
}

func firstWithinTier(activities []*models.CanonicalActivity, candidate MatchCandidate, window time.Duration, tol float64) *models.CanonicalActivity {
	for _, a := range activities {
		dt := a.StartTimeUTC.Sub(candidate.StartUTC)
		if dt < 0 {
			dt = -dt
		}
		if dt > window {
			continue
		}
		if relClose(a.DistanceM, candidate.DistanceM, tol) ||
			relClose(floatOfInt(a.DurationS()), floatOfInt(candidate.DurationS), tol) {
			return a
		}
	}
	return nil
}

// relClose reports whether two metric values agree within tol of the
// larger one. Zero and absent values never match.
func relClose(a, b *float64, tol float64) bool {
	if a == nil || b == nil || *a == 0 || *b == 0 {
		return false
	}
	return math.Abs(*a-*b)/math.Max(*a, *b) <= tol
}

func floatOfInt(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
