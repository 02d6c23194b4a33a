package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carbonstep/carbonstep-server/internal/domain"
	"github.com/carbonstep/carbonstep-server/internal/errors"
	"github.com/carbonstep/carbonstep-server/internal/id"
	"github.com/carbonstep/carbonstep-server/internal/store"
)

// ActivityService manages logged transport activities.
type ActivityService struct {
	store  *store.Store
	logger *slog.Logger
}

// NewActivityService creates a new activity service.
func NewActivityService(s *store.Store, logger *slog.Logger) *ActivityService {
	return &ActivityService{store: s, logger: logger}
}

// CreateInput holds the fields for manually logging an activity.
type CreateInput struct {
	Type            domain.ActivityType
	DistanceKm      float64
	DurationMinutes int
	CO2EmissionKg   float64
	Timestamp       time.Time
	Notes           string
}

// Create logs a new activity.
func (s *ActivityService) Create(ctx context.Context, in CreateInput) (*domain.Activity, error) {
	if _, ok := domain.ParseActivityType(string(in.Type)); !ok {
		return nil, errors.Validationf("unknown activity type: %s", in.Type)
	}
	if in.DistanceKm < 0 {
		return nil, errors.Validation("distance cannot be negative")
	}
	if in.CO2EmissionKg < 0 {
		return nil, errors.Validation("co2 emission cannot be negative")
	}

	activityID, err := id.Generate(id.PrefixActivity)
	if err != nil {
		return nil, fmt.Errorf("generate activity ID: %w", err)
	}

	timestamp := in.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	activity := &domain.Activity{
		ID:              activityID,
		Type:            in.Type,
		DistanceKm:      in.DistanceKm,
		DurationMinutes: in.DurationMinutes,
		CO2EmissionKg:   in.CO2EmissionKg,
		Timestamp:       timestamp,
		Notes:           in.Notes,
	}

	if err := s.store.CreateActivity(ctx, activity); err != nil {
		return nil, fmt.Errorf("create activity: %w", err)
	}

	s.logger.Info("activity logged",
		"activity_id", activity.ID,
		"type", activity.Type,
		"distance_km", activity.DistanceKm,
	)
	return activity, nil
}

// Get returns one activity by ID.
func (s *ActivityService) Get(ctx context.Context, activityID string) (*domain.Activity, error) {
	activity, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return activity, nil
}

// List returns activities sorted by timestamp descending, up to limit,
// optionally starting strictly before the given cursor timestamp.
func (s *ActivityService) List(ctx context.Context, limit int, before *time.Time) ([]*domain.Activity, error) {
	activities, err := s.store.ListActivitiesPage(ctx, limit, before)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return activities, nil
}

// Delete removes one activity by ID.
func (s *ActivityService) Delete(ctx context.Context, activityID string) error {
	if err := s.store.DeleteActivity(ctx, activityID); err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	s.logger.Info("activity deleted", "activity_id", activityID)
	return nil
}

// Count returns the number of stored activities.
func (s *ActivityService) Count(ctx context.Context) (int, error) {
	count, err := s.store.CountActivities(ctx)
	if err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return count, nil
}
