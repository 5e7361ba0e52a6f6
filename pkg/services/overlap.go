package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/repositories"
	"github.com/supertl/canonical-engine/pkg/temporal"
)

// DefaultMinOverlapSeconds is the reporting floor: shorter overlaps are
// assumed to be back-to-back sessions, not duplicates.
const DefaultMinOverlapSeconds = 60

// Interval is one training-linked activity's [start, end) window.
type Interval struct {
	ActivityID    int64
	Start         time.Time
	End           time.Time
	Name          string
	Sport         string
	DistanceM     *float64
	ElapsedS      *int
	SourceQuality int
}

// OverlapPair is two intervals sharing at least the minimum overlap.
type OverlapPair struct {
	A              *Interval
	B              *Interval
	OverlapSeconds int
}

// OverlapGroup is one connected component of the overlap graph, a
// cluster of activities that are probably the same workout. Groups are
// review material only; merging stays an operator decision.
type OverlapGroup struct {
	ActivityIDs []int64
	Members     []*Interval
}

// OverlapReport is the outcome of one detector pass.
type OverlapReport struct {
	Intervals int
	Skipped   int
	Pairs     []*OverlapPair
	Groups    []*OverlapGroup
}

// OverlapOptions control one detector pass.
type OverlapOptions struct {
	// ToleranceS expands every interval by this many seconds on both
	// ends to catch near-misses.
	ToleranceS int
	// MinOverlapS is the smallest overlap worth reporting.
	MinOverlapS int
}

// OverlapService scans training-linked activities for overlapping time
// intervals and clusters them for duplicate review.
type OverlapService interface {
	FindOverlaps(ctx context.Context, opts OverlapOptions) (*OverlapReport, error)

	// WritePairsCSV writes pairs in report order for spreadsheet review.
	WritePairsCSV(w io.Writer, pairs []*OverlapPair) error
}

type overlapService struct {
	activityRepo repositories.ActivityRepository
	logger       *zap.Logger
}

// NewOverlapService creates a new OverlapService.
func NewOverlapService(activityRepo repositories.ActivityRepository, logger *zap.Logger) OverlapService {
	return &overlapService{
		activityRepo: activityRepo,
		logger:       logger.Named("overlap-service"),
	}
}

var _ OverlapService = (*overlapService)(nil)

func (s *overlapService) FindOverlaps(ctx context.Context, opts OverlapOptions) (*OverlapReport, error) {
	activities, err := s.activityRepo.ListTrainingLinked(ctx)
	if err != nil {
		s.logger.Error("failed to list training-linked activities", zap.Error(err))
		return nil, fmt.Errorf("list training-linked activities: %w", err)
	}

	intervals, skipped := buildIntervals(activities)
	if skipped > 0 {
		s.logger.Warn("skipped activities without a usable interval", zap.Int("skipped", skipped))
	}

	pairs := sweepOverlaps(intervals, opts.ToleranceS, opts.MinOverlapS)
	sortOverlapPairs(pairs)
	groups := groupOverlaps(intervals, pairs)

	s.logger.Info("overlap scan finished",
		zap.Int("intervals", len(intervals)),
		zap.Int("pairs", len(pairs)),
		zap.Int("groups", len(groups)))

	return &OverlapReport{
		Intervals: len(intervals),
		Skipped:   skipped,
		Pairs:     pairs,
		Groups:    groups,
	}, nil
}

func (s *overlapService) WritePairsCSV(w io.Writer, pairs []*OverlapPair) error {
	cw := csv.NewWriter(w)

	header := []string{
		"overlap_seconds",
		"a_id", "a_start_utc", "a_end_utc", "a_sport", "a_distance_m", "a_name",
		"b_id", "b_start_utc", "b_end_utc", "b_sport", "b_distance_m", "b_name",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write overlap csv header: %w", err)
	}

	for _, p := range pairs {
		record := []string{
			strconv.Itoa(p.OverlapSeconds),
			strconv.FormatInt(p.A.ActivityID, 10),
			temporal.FormatUTC(p.A.Start),
			temporal.FormatUTC(p.A.End),
			p.A.Sport,
			formatFloat(p.A.DistanceM),
			p.A.Name,
			strconv.FormatInt(p.B.ActivityID, 10),
			temporal.FormatUTC(p.B.Start),
			temporal.FormatUTC(p.B.End),
			p.B.Sport,
			formatFloat(p.B.DistanceM),
			p.B.Name,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write overlap csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ============================================================================
// Detection
// ============================================================================

// buildIntervals converts activities into closed intervals. Rows whose
// end cannot be determined, or whose interval is inverted, are skipped
// and counted.
func buildIntervals(activities []*models.CanonicalActivity) ([]*Interval, int) {
	intervals := make([]*Interval, 0, len(activities))
	skipped := 0

	for _, a := range activities {
		end, ok := a.EndUTC()
		if !ok || !end.After(a.StartTimeUTC) {
			skipped++
			continue
		}
		intervals = append(intervals, &Interval{
			ActivityID:    a.ID,
			Start:         a.StartTimeUTC,
			End:           end,
			Name:          a.Name,
			Sport:         a.Sport,
			DistanceM:     a.DistanceM,
			ElapsedS:      a.ElapsedTimeS,
			SourceQuality: a.SourceQuality,
		})
	}

	return intervals, skipped
}

// sweepOverlaps scans start-ordered intervals once, keeping an active
// list of intervals still able to overlap anything later. Cost is
// O(n log n + k) with k the number of overlapping pairs.
func sweepOverlaps(intervals []*Interval, toleranceS, minOverlapS int) []*OverlapPair {
	tol := time.Duration(toleranceS) * time.Second

	var pairs []*OverlapPair
	var active []*Interval

	for _, cur := range intervals {
		horizon := cur.Start.Add(-tol)
		keep := active[:0]
		for _, prev := range active {
			if prev.End.Add(tol).Before(horizon) {
				continue
			}
			keep = append(keep, prev)
		}
		active = keep

		for _, prev := range active {
			if seconds, ok := overlapSeconds(prev, cur, tol, minOverlapS); ok {
				pairs = append(pairs, &OverlapPair{A: prev, B: cur, OverlapSeconds: seconds})
			}
		}

		active = append(active, cur)
	}

	return pairs
}

func overlapSeconds(a, b *Interval, tol time.Duration, minOverlapS int) (int, bool) {
	aStart, aEnd := a.Start.Add(-tol), a.End.Add(tol)
	bStart, bEnd := b.Start.Add(-tol), b.End.Add(tol)

	latestStart := aStart
	if bStart.After(latestStart) {
		latestStart = bStart
	}
	earliestEnd := aEnd
	if bEnd.Before(earliestEnd) {
		earliestEnd = bEnd
	}

	delta := earliestEnd.Sub(latestStart).Seconds()
	if delta >= float64(minOverlapS) {
		return int(delta), true
	}
	return 0, false
}

// sortOverlapPairs orders biggest overlap first, then earlier starts,
// then ids, so repeated runs print identically.
func sortOverlapPairs(pairs []*OverlapPair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		pi, pj := pairs[i], pairs[j]
		if pi.OverlapSeconds != pj.OverlapSeconds {
			return pi.OverlapSeconds > pj.OverlapSeconds
		}
		if !pi.A.Start.Equal(pj.A.Start) {
			return pi.A.Start.Before(pj.A.Start)
		}
		if !pi.B.Start.Equal(pj.B.Start) {
			return pi.B.Start.Before(pj.B.Start)
		}
		if pi.A.ActivityID != pj.A.ActivityID {
			return pi.A.ActivityID < pj.A.ActivityID
		}
		return pi.B.ActivityID < pj.B.ActivityID
	})
}

// groupOverlaps walks the overlap graph into connected components.
// Transitive chains land in one group even when the endpoints never
// directly overlap. Singletons are omitted; groups come out largest
// first.
func groupOverlaps(intervals []*Interval, pairs []*OverlapPair) []*OverlapGroup {
	graph := make(map[int64][]int64)
	for _, p := range pairs {
		graph[p.A.ActivityID] = append(graph[p.A.ActivityID], p.B.ActivityID)
		graph[p.B.ActivityID] = append(graph[p.B.ActivityID], p.A.ActivityID)
	}

	byID := make(map[int64]*Interval, len(intervals))
	for _, it := range intervals {
		byID[it.ActivityID] = it
	}

	seen := make(map[int64]bool)
	var groups []*OverlapGroup

	for _, it := range intervals {
		id := it.ActivityID
		if seen[id] {
			continue
		}
		if len(graph[id]) == 0 {
			seen[id] = true
			continue
		}

		stack := []int64{id}
		seen[id] = true
		var component []int64

		for len(stack) > 0 {
			u := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, u)
			for _, v := range graph[u] {
				if !seen[v] {
					seen[v] = true
					stack = append(stack, v)
				}
			}
		}

		sort.Slice(component, func(i, j int) bool { return component[i] < component[j] })

		members := make([]*Interval, 0, len(component))
		for _, cid := range component {
			members = append(members, byID[cid])
		}
		sort.Slice(members, func(i, j int) bool {
			if !members[i].Start.Equal(members[j].Start) {
				return members[i].Start.Before(members[j].Start)
			}
			return members[i].ActivityID < members[j].ActivityID
		})

		groups = append(groups, &OverlapGroup{ActivityIDs: component, Members: members})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i].ActivityIDs) != len(groups[j].ActivityIDs) {
			return len(groups[i].ActivityIDs) > len(groups[j].ActivityIDs)
		}
		return groups[i].ActivityIDs[0] < groups[j].ActivityIDs[0]
	})

	return groups
}
