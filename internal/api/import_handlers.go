package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/carbonstep/carbonstep-server/internal/domain"
	"github.com/carbonstep/carbonstep-server/internal/service"
)

// defaultImportBodyBytes caps the request body for import submissions when no
// limit is configured. Raw file content travels inside the JSON body, so this
// is the effective file cap.
const defaultImportBodyBytes = 16 << 20

func (s *Server) registerImportRoutes() {
	maxBody := s.maxImportBytes
	if maxBody <= 0 {
		maxBody = defaultImportBodyBytes
	}

	huma.Register(s.api, huma.Operation{
		OperationID:  "runImport",
		Method:       http.MethodPost,
		Path:         "/api/v1/imports",
		Summary:      "Import activities",
		Description:  "Parses, validates, and imports a batch of activity records with conflict resolution. Set validate_only to preview diagnostics without persisting anything.",
		Tags:         []string{"Imports"},
		MaxBodyBytes: maxBody,
	}, s.handleImport)

	huma.Register(s.api, huma.Operation{
		OperationID: "listImportRuns",
		Method:      http.MethodGet,
		Path:        "/api/v1/imports",
		Summary:     "Import history",
		Description: "Returns recent import runs, newest first",
		Tags:        []string{"Imports"},
	}, s.handleImportHistory)

	huma.Register(s.api, huma.Operation{
		OperationID: "getImportRun",
		Method:      http.MethodGet,
		Path:        "/api/v1/imports/{id}",
		Summary:     "Get import run",
		Tags:        []string{"Imports"},
	}, s.handleGetImportRun)
}

// === DTOs ===

// ImportRequest is the request body for an import submission.
type ImportRequest struct {
	Content      string `json:"content" validate:"required" doc:"Raw file content (JSON or CSV text)"`
	Format       string `json:"format" validate:"required,oneof=json csv carbon_tracker" doc:"Content format"`
	Resolution   string `json:"resolution,omitempty" validate:"omitempty,oneof=skip overwrite keep_both merge" doc:"Conflict resolution strategy (default skip)"`
	ValidateOnly bool   `json:"validate_only,omitempty" doc:"Validate and report diagnostics without persisting"`
	SourceFile   string `json:"source_file,omitempty" validate:"omitempty,max=512" doc:"Original file name, for history and diagnostics"`
}

// ImportInput wraps the import request for Huma.
type ImportInput struct {
	Body ImportRequest
}

// ImportResponse contains the outcome of one import run.
type ImportResponse struct {
	RunID  string              `json:"run_id,omitempty" doc:"Import history record ID (empty when history could not be written)"`
	Result domain.ImportResult `json:"result" doc:"Full import result with diagnostics and conflicts"`
}

// ImportOutput wraps the import response for Huma.
type ImportOutput struct {
	Body ImportResponse
}

// ImportRunsResponse contains the import history listing.
type ImportRunsResponse struct {
	Runs []*domain.ImportRun `json:"runs" doc:"Recent import runs, newest first"`
}

// ImportRunsOutput wraps the history response for Huma.
type ImportRunsOutput struct {
	Body ImportRunsResponse
}

// ImportRunInput identifies one import run.
type ImportRunInput struct {
	ID string `path:"id" doc:"Import run ID"`
}

// ImportRunOutput wraps a single import run for Huma.
type ImportRunOutput struct {
	Body *domain.ImportRun
}

// === Handlers ===

func (s *Server) handleImport(ctx context.Context, input *ImportInput) (*ImportOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, mapError(err)
	}

	result, run, err := s.services.Import.Import(ctx, service.ImportInput{
		Content:      []byte(input.Body.Content),
		Format:       domain.ImportFormat(input.Body.Format),
		Resolution:   domain.ConflictResolution(input.Body.Resolution),
		ValidateOnly: input.Body.ValidateOnly,
		SourceFile:   input.Body.SourceFile,
	})
	if err != nil {
		return nil, mapError(err)
	}

	resp := ImportResponse{Result: *result}
	if run != nil {
		resp.RunID = run.ID
	}
	return &ImportOutput{Body: resp}, nil
}

func (s *Server) handleImportHistory(ctx context.Context, _ *struct{}) (*ImportRunsOutput, error) {
	runs, err := s.services.Import.History(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	if runs == nil {
		runs = []*domain.ImportRun{}
	}
	return &ImportRunsOutput{Body: ImportRunsResponse{Runs: runs}}, nil
}

func (s *Server) handleGetImportRun(ctx context.Context, input *ImportRunInput) (*ImportRunOutput, error) {
	run, err := s.services.Import.GetRun(ctx, input.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &ImportRunOutput{Body: run}, nil
}
