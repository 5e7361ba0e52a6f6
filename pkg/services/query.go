package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/supertl/canonical-engine/pkg/apperrors"
	"github.com/supertl/canonical-engine/pkg/models"
	"github.com/supertl/canonical-engine/pkg/repositories"
)

// Window paging bounds. Consumers page with a keyset cursor, so a cap
// keeps one request from dragging the whole store over the wire.
const (
	DefaultWindowPageSize = 100
	MaxWindowPageSize     = 1000
)

// WindowQuery selects canonical activities starting inside [From, To).
// AfterStart/AfterID form the keyset cursor: pass the previous page's
// NextStart/NextID to continue, zero values for the first page.
type WindowQuery struct {
	From       time.Time
	To         time.Time
	AfterStart time.Time
	AfterID    int64
	PageSize   int
}

// WindowItem is one activity with its annotation, ready for calendar
// aggregation. Annotation is nil and CategoryPath empty for rows nothing
// annotates; entangled rows expose the first annotation by key and the
// full count so consumers can surface the conflict.
type WindowItem struct {
	Activity        *models.CanonicalActivity
	Annotation      *models.SecondaryAnnotation
	CategoryPath    string
	AnnotationCount int
}

// WindowPage is one page of a window query plus the cursor for the next.
type WindowPage struct {
	Items     []*WindowItem
	NextStart time.Time
	NextID    int64
	HasMore   bool
}

// ActivityDetail is one canonical activity with everything attached to
// it: source links and annotations.
type ActivityDetail struct {
	Activity    *models.CanonicalActivity
	Sources     []*models.SourceLink
	Annotations []*models.SecondaryAnnotation
}

// NativeRef names one native row linked to a canonical activity.
type NativeRef struct {
	Source   models.SourceSystem
	NativeID string
}

// QueryService is the read surface consumed by reporting and display
// components. It never mutates the store.
type QueryService interface {
	// ListWindow pages through canonical activities in a UTC window,
	// joined with their annotation and resolved category path.
	ListWindow(ctx context.Context, q WindowQuery) (*WindowPage, error)

	// GetActivity returns one activity with its linked sources and
	// annotations. Nil when the id does not exist.
	GetActivity(ctx context.Context, id int64) (*ActivityDetail, error)

	// CanonicalForNative translates a native source id to its canonical
	// activity id. A LookupError means the row was never ingested.
	CanonicalForNative(ctx context.Context, source models.SourceSystem, nativeID string) (int64, error)

	// CanonicalForKey translates a historical activity key like
	// "activity-123" or "st-abc" to its canonical activity id.
	CanonicalForKey(ctx context.Context, key string) (int64, error)

	// NativesForCanonical translates a canonical activity id to the
	// native ids linked to it, bare-form, ordered by source then id.
	NativesForCanonical(ctx context.Context, id int64) ([]NativeRef, error)
}

type queryService struct {
	activityRepo   repositories.ActivityRepository
	linkRepo       repositories.SourceLinkRepository
	annotationRepo repositories.AnnotationRepository
	categoryPaths  CategoryPathCache
	logger         *zap.Logger
}

// NewQueryService creates a new QueryService.
func NewQueryService(
	activityRepo repositories.ActivityRepository,
	linkRepo repositories.SourceLinkRepository,
	annotationRepo repositories.AnnotationRepository,
	categoryPaths CategoryPathCache,
	logger *zap.Logger,
) QueryService {
	return &queryService{
		activityRepo:   activityRepo,
		linkRepo:       linkRepo,
		annotationRepo: annotationRepo,
		categoryPaths:  categoryPaths,
		logger:         logger.Named("query-service"),
	}
}

var _ QueryService = (*queryService)(nil)

func (s *queryService) ListWindow(ctx context.Context, q WindowQuery) (*WindowPage, error) {
	if !q.To.After(q.From) {
		return nil, fmt.Errorf("window end %s is not after start %s",
			q.To.UTC().Format(time.RFC3339), q.From.UTC().Format(time.RFC3339))
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultWindowPageSize
	}
	if pageSize > MaxWindowPageSize {
		pageSize = MaxWindowPageSize
	}

	// Fetch one extra row to learn whether another page exists.
	activities, err := s.activityRepo.ListByStartRange(ctx, q.From, q.To, q.AfterStart, q.AfterID, pageSize+1)
	if err != nil {
		s.logger.Error("window query failed", zap.Error(err))
		return nil, fmt.Errorf("list activities in window: %w", err)
	}

	page := &WindowPage{HasMore: len(activities) > pageSize}
	if page.HasMore {
		activities = activities[:pageSize]
	}

	for _, activity := range activities {
		item, err := s.windowItem(ctx, activity)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
	}

	if n := len(activities); n > 0 {
		page.NextStart = activities[n-1].StartTimeUTC
		page.NextID = activities[n-1].ID
	}

	return page, nil
}

func (s *queryService) windowItem(ctx context.Context, activity *models.CanonicalActivity) (*WindowItem, error) {
	annotations, err := s.annotationRepo.ListByCanonical(ctx, activity.ID)
	if err != nil {
		return nil, fmt.Errorf("annotations for activity %d: %w", activity.ID, err)
	}

	item := &WindowItem{Activity: activity, AnnotationCount: len(annotations)}
	if len(annotations) == 0 {
		return item, nil
	}

	item.Annotation = annotations[0]
	path, err := s.categoryPaths.PathFor(ctx, item.Annotation.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("category path for activity %d: %w", activity.ID, err)
	}
	item.CategoryPath = path
	return item, nil
}

func (s *queryService) GetActivity(ctx context.Context, id int64) (*ActivityDetail, error) {
	activity, err := s.activityRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get activity %d: %w", id, err)
	}
	if activity == nil {
		return nil, nil
	}

	sources, err := s.linkRepo.ListByActivity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("source links for activity %d: %w", id, err)
	}
	annotations, err := s.annotationRepo.ListByCanonical(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("annotations for activity %d: %w", id, err)
	}

	return &ActivityDetail{
		Activity:    activity,
		Sources:     sources,
		Annotations: annotations,
	}, nil
}

func (s *queryService) CanonicalForNative(ctx context.Context, source models.SourceSystem, nativeID string) (int64, error) {
	if !source.IsValid() {
		return 0, &apperrors.LookupError{Kind: "source system", Value: source.String()}
	}

	link, err := s.linkRepo.GetByNative(ctx, source, nativeID)
	if err != nil {
		return 0, fmt.Errorf("lookup %s %s: %w", source, nativeID, err)
	}
	if link == nil && source == models.SourceStrava {
		// Older GPS links were stored with the key prefix.
		link, err = s.linkRepo.GetByNative(ctx, source, models.GpsActivityKey(nativeID))
		if err != nil {
			return 0, fmt.Errorf("lookup %s %s: %w", source, nativeID, err)
		}
	}
	if link == nil {
		return 0, &apperrors.LookupError{Kind: "native activity", Value: fmt.Sprintf("%s/%s", source, nativeID)}
	}

	return link.ActivityID, nil
}

func (s *queryService) CanonicalForKey(ctx context.Context, key string) (int64, error) {
	ref := models.ParseActivityKey(key)
	system, ok := ref.Kind.System()
	if !ok {
		return 0, &apperrors.LookupError{Kind: "activity key", Value: key}
	}

	id, err := s.CanonicalForNative(ctx, system, ref.NativeID)
	if err == nil {
		return id, nil
	}

	// Keys without a source link may still be linked directly on the
	// annotation row, e.g. after an operator edit.
	annotation, aerr := s.annotationRepo.GetByKey(ctx, key)
	if aerr != nil {
		return 0, fmt.Errorf("lookup annotation %s: %w", key, aerr)
	}
	if annotation != nil && annotation.CanonicalActivityID != nil {
		return *annotation.CanonicalActivityID, nil
	}

	return 0, err
}

func (s *queryService) NativesForCanonical(ctx context.Context, id int64) ([]NativeRef, error) {
	links, err := s.linkRepo.ListByActivity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("source links for activity %d: %w", id, err)
	}

	refs := make([]NativeRef, 0, len(links))
	for _, link := range links {
		refs = append(refs, NativeRef{
			Source:   link.Source,
			NativeID: models.NormalizeSourceID(link.Source, link.SourceActivityID),
		})
	}
	return refs, nil
}
