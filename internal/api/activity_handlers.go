package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/carbonstep/carbonstep-server/internal/domain"
	"github.com/carbonstep/carbonstep-server/internal/service"
)

const defaultActivityPageSize = 50

func (s *Server) registerActivityRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "createActivity",
		Method:      http.MethodPost,
		Path:        "/api/v1/activities",
		Summary:     "Log activity",
		Description: "Manually logs a single transport activity",
		Tags:        []string{"Activities"},
	}, s.handleCreateActivity)

	huma.Register(s.api, huma.Operation{
		OperationID: "listActivities",
		Method:      http.MethodGet,
		Path:        "/api/v1/activities",
		Summary:     "List activities",
		Description: "Returns activities newest first, with timestamp-cursor pagination",
		Tags:        []string{"Activities"},
	}, s.handleListActivities)

	huma.Register(s.api, huma.Operation{
		OperationID: "getActivity",
		Method:      http.MethodGet,
		Path:        "/api/v1/activities/{id}",
		Summary:     "Get activity",
		Tags:        []string{"Activities"},
	}, s.handleGetActivity)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteActivity",
		Method:      http.MethodDelete,
		Path:        "/api/v1/activities/{id}",
		Summary:     "Delete activity",
		Tags:        []string{"Activities"},
	}, s.handleDeleteActivity)
}

// === DTOs ===

// CreateActivityRequest is the request body for logging an activity.
type CreateActivityRequest struct {
	Type            string    `json:"type" validate:"required,max=50" doc:"Transport category (car, bus, train, ...)"`
	DistanceKm      float64   `json:"distance_km" validate:"gte=0" doc:"Distance in kilometers"`
	DurationMinutes int       `json:"duration_minutes,omitempty" validate:"gte=0" doc:"Duration in minutes"`
	CO2EmissionKg   float64   `json:"co2_emission_kg" validate:"gte=0" doc:"CO2 emission in kilograms"`
	Timestamp       time.Time `json:"timestamp,omitempty" doc:"When the activity happened (defaults to now)"`
	Notes           string    `json:"notes,omitempty" validate:"omitempty,max=1024" doc:"Free-form notes"`
}

// CreateActivityInput wraps the create request for Huma.
type CreateActivityInput struct {
	Body CreateActivityRequest
}

// ActivityOutput wraps a single activity for Huma.
type ActivityOutput struct {
	Body *domain.Activity
}

// ListActivitiesInput holds the pagination query parameters.
type ListActivitiesInput struct {
	Limit  int       `query:"limit" minimum:"1" maximum:"500" doc:"Page size (default 50)"`
	Before time.Time `query:"before" doc:"Return activities strictly older than this timestamp"`
}

// ActivitiesResponse contains one page of activities.
type ActivitiesResponse struct {
	Activities []*domain.Activity `json:"activities" doc:"Activities, newest first"`
	Count      int                `json:"count" doc:"Number of activities in this page"`
}

// ActivitiesOutput wraps the listing response for Huma.
type ActivitiesOutput struct {
	Body ActivitiesResponse
}

// ActivityIDInput identifies one activity.
type ActivityIDInput struct {
	ID string `path:"id" doc:"Activity ID"`
}

// === Handlers ===

func (s *Server) handleCreateActivity(ctx context.Context, input *CreateActivityInput) (*ActivityOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, mapError(err)
	}

	activity, err := s.services.Activity.Create(ctx, service.CreateInput{
		Type:            domain.ActivityType(input.Body.Type),
		DistanceKm:      input.Body.DistanceKm,
		DurationMinutes: input.Body.DurationMinutes,
		CO2EmissionKg:   input.Body.CO2EmissionKg,
		Timestamp:       input.Body.Timestamp,
		Notes:           input.Body.Notes,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &ActivityOutput{Body: activity}, nil
}

func (s *Server) handleListActivities(ctx context.Context, input *ListActivitiesInput) (*ActivitiesOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultActivityPageSize
	}

	var before *time.Time
	if !input.Before.IsZero() {
		before = &input.Before
	}

	activities, err := s.services.Activity.List(ctx, limit, before)
	if err != nil {
		return nil, mapError(err)
	}
	if activities == nil {
		activities = []*domain.Activity{}
	}

	return &ActivitiesOutput{Body: ActivitiesResponse{
		Activities: activities,
		Count:      len(activities),
	}}, nil
}

func (s *Server) handleGetActivity(ctx context.Context, input *ActivityIDInput) (*ActivityOutput, error) {
	activity, err := s.services.Activity.Get(ctx, input.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &ActivityOutput{Body: activity}, nil
}

func (s *Server) handleDeleteActivity(ctx context.Context, input *ActivityIDInput) (*struct{}, error) {
	if err := s.services.Activity.Delete(ctx, input.ID); err != nil {
		return nil, mapError(err)
	}
	return nil, nil
}
