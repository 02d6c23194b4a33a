// Package service contains the business logic services for the Carbon Step server.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carbonstep/carbonstep-server/internal/domain"
	"github.com/carbonstep/carbonstep-server/internal/id"
	"github.com/carbonstep/carbonstep-server/internal/importer"
	"github.com/carbonstep/carbonstep-server/internal/store"
)

// historyLimit caps how many import runs the history listing returns.
const historyLimit = 50

// ImportService runs activity imports and records their history.
type ImportService struct {
	store  *store.Store
	engine *importer.Engine
	logger *slog.Logger
}

// NewImportService creates a new import service.
func NewImportService(s *store.Store, logger *slog.Logger) *ImportService {
	return &ImportService{
		store:  s,
		engine: importer.NewEngine(s, logger),
		logger: logger,
	}
}

// ImportInput describes one import request.
type ImportInput struct {
	Content      []byte
	Format       domain.ImportFormat
	Resolution   domain.ConflictResolution
	ValidateOnly bool
	SourceFile   string
	Progress     importer.ProgressFunc
}

// Import runs the engine, persists the run in the import history, and emits
// the import_completed telemetry event. Only engine-fatal errors (parse,
// initial bulk fetch) are returned; per-record problems live in the result.
func (s *ImportService) Import(ctx context.Context, in ImportInput) (*domain.ImportResult, *domain.ImportRun, error) {
	result, err := s.engine.Run(ctx, in.Content, importer.Options{
		Format:       in.Format,
		Resolution:   in.Resolution,
		ValidateOnly: in.ValidateOnly,
		SourceFile:   in.SourceFile,
		Progress:     in.Progress,
	})
	if err != nil {
		return nil, nil, err
	}

	run, err := s.recordRun(ctx, result, in)
	if err != nil {
		// The import itself succeeded; a history write failure should not
		// hide the result from the caller.
		s.logger.Warn("failed to record import run", "error", err)
	}

	s.emitCompleted(result)
	return result, run, nil
}

// History returns recent import runs, newest first.
func (s *ImportService) History(ctx context.Context) ([]*domain.ImportRun, error) {
	runs, err := s.store.ListImportRuns(ctx, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one import run by ID.
func (s *ImportService) GetRun(ctx context.Context, runID string) (*domain.ImportRun, error) {
	run, err := s.store.GetImportRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get import run: %w", err)
	}
	return run, nil
}

func (s *ImportService) recordRun(ctx context.Context, result *domain.ImportResult, in ImportInput) (*domain.ImportRun, error) {
	runID, err := id.Generate(id.PrefixImport)
	if err != nil {
		return nil, fmt.Errorf("generate run ID: %w", err)
	}

	warnings := 0
	for _, v := range result.Validations {
		if v.Severity == domain.SeverityWarning {
			warnings++
		}
	}

	resolution := in.Resolution
	if resolution == "" {
		resolution = domain.ResolutionSkip
	}

	run := &domain.ImportRun{
		ID:              runID,
		SourceFile:      in.SourceFile,
		Format:          in.Format,
		Resolution:      resolution,
		ValidateOnly:    in.ValidateOnly,
		TotalRecords:    result.TotalRecords,
		ImportedRecords: result.ImportedRecords,
		SkippedRecords:  result.SkippedRecords,
		ErrorRecords:    result.ErrorRecords,
		WarningCount:    warnings,
		ConflictCount:   len(result.Conflicts),
		CreatedAt:       time.Now(),
		DurationMs:      result.ProcessingTime.Milliseconds(),
	}

	if err := s.store.CreateImportRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create import run: %w", err)
	}
	return run, nil
}

// emitCompleted logs the import_completed telemetry event. Severity follows
// whether any records were rejected.
func (s *ImportService) emitCompleted(result *domain.ImportResult) {
	summary := result.Summary()
	args := make([]any, 0, 2*(len(summary)+1))
	args = append(args, "event_id", uuid.NewString())
	for k, v := range summary {
		args = append(args, k, v)
	}

	if result.HasErrors() {
		s.logger.Warn("import_completed", args...)
	} else {
		s.logger.Info("import_completed", args...)
	}
}
