// Package importer is the data import reconciliation engine: it parses
// activity exports (JSON, CSV, native), validates them with per-record
// diagnostics, converts them to canonical activities, detects likely
// duplicates against the store, and applies the caller-chosen conflict
// resolution strategy.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carbonstep/carbonstep-server/internal/domain"
	"github.com/carbonstep/carbonstep-server/internal/errors"
	"github.com/carbonstep/carbonstep-server/internal/id"
)

// Store is the persistence surface the engine needs. The engine creates,
// reads (for conflict scanning), and deletes activities; it never owns the
// store's lifecycle.
type Store interface {
	ListActivities(ctx context.Context) ([]*domain.Activity, error)
	CreateActivity(ctx context.Context, activity *domain.Activity) error
	DeleteActivity(ctx context.Context, id string) error
}

// ProgressFunc receives advisory progress in [0,1] with a status string.
// Called synchronously between pipeline stages and per record.
type ProgressFunc func(progress float64, status string)

// Options configures one import run.
type Options struct {
	Format       domain.ImportFormat
	Resolution   domain.ConflictResolution // defaults to skip
	ValidateOnly bool                      // stop after validation, no persistence
	SourceFile   string
	Progress     ProgressFunc // optional
}

// Engine runs import pipelines against an injected store. Stateless between
// runs; construct once and reuse. A single engine must not run two imports
// against the same store concurrently — conflict detection depends on seeing
// the cumulative effect of records persisted earlier in the run.
type Engine struct {
	store  Store
	logger *slog.Logger

	// Injected for tests.
	now   func() time.Time
	newID func() (string, error)
}

// NewEngine creates an import engine backed by the given store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  func() (string, error) { return id.Generate(id.PrefixActivity) },
	}
}

// recordOutcome is the terminal state of one record. Every record lands in
// exactly one of imported, skipped, or errored, so the counts always
// partition the total.
type recordOutcome int

const (
	outcomeImported recordOutcome = iota + 1
	outcomeSkipped
)

// Run executes one import. Fatal errors — a malformed file or a failed bulk
// fetch of existing activities — abort the run with no result. Everything
// after that is absorbed per record: a failure processing one record becomes
// an error-level diagnostic and processing continues with the next.
func (e *Engine) Run(ctx context.Context, content []byte, opts Options) (*domain.ImportResult, error) {
	start := e.now()
	if opts.Resolution == "" {
		opts.Resolution = domain.ResolutionSkip
	}

	e.report(opts, 0.1, "Reading file")

	records, err := ParseRecords(content, opts.Format)
	if err != nil {
		return nil, err
	}
	e.report(opts, 0.2, fmt.Sprintf("Parsed %d records", len(records)))

	validations := ValidateRecords(records)
	e.report(opts, 0.3, "Validation complete")

	if opts.ValidateOnly {
		return e.validateOnlyResult(records, validations, opts, start), nil
	}

	known, err := e.store.ListActivities(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "fetching existing activities")
	}
	e.report(opts, 0.4, "Checking for conflicts")

	failed := errorLines(validations)

	var (
		imported, skipped, errored int
		conflicts                  []domain.Conflict
	)

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := i + 1
		e.report(opts, 0.4+0.5*float64(line)/float64(len(records)),
			fmt.Sprintf("Processing record %d of %d", line, len(records)))

		if _, excluded := failed[line]; excluded {
			errored++
			continue
		}

		activity, err := e.convert(rec)
		if err != nil {
			// Conversion failures count, but carry no diagnostic.
			errored++
			e.logger.Warn("record conversion failed", "line", line, "error", err)
			continue
		}

		conflict := DetectConflict(activity, known)

		var outcome recordOutcome
		if conflict == nil {
			if err = e.store.CreateActivity(ctx, activity); err == nil {
				known = append(known, activity)
				outcome = outcomeImported
			}
		} else {
			conflicts = append(conflicts, *conflict)
			outcome, err = e.resolveConflict(ctx, conflict, activity, opts.Resolution, &known)
		}
		if err != nil {
			errored++
			validations = append(validations, errorDiag(line,
				fmt.Sprintf("Failed to import record: %v", err), nil))
			e.logger.Warn("record import failed", "line", line, "error", err)
			continue
		}

		switch outcome {
		case outcomeImported:
			imported++
		case outcomeSkipped:
			skipped++
		}
	}

	e.report(opts, 1.0, "Import complete")

	end := e.now()
	result := &domain.ImportResult{
		TotalRecords:    len(records),
		ImportedRecords: imported,
		SkippedRecords:  skipped,
		ErrorRecords:    errored,
		Validations:     validations,
		Conflicts:       conflicts,
		ImportDate:      end,
		ProcessingTime:  end.Sub(start),
		SourceFile:      opts.SourceFile,
	}

	e.logger.Info("import completed",
		"source", opts.SourceFile,
		"total", result.TotalRecords,
		"imported", result.ImportedRecords,
		"skipped", result.SkippedRecords,
		"errors", result.ErrorRecords,
	)
	return result, nil
}

// validateOnlyResult builds the result for a validate-only run: nothing is
// imported or skipped, and errorRecords counts error-level diagnostics.
func (e *Engine) validateOnlyResult(records []RawRecord, validations []domain.Validation, opts Options, start time.Time) *domain.ImportResult {
	errorCount := 0
	for _, v := range validations {
		if v.Severity == domain.SeverityError {
			errorCount++
		}
	}

	end := e.now()
	return &domain.ImportResult{
		TotalRecords:   len(records),
		ErrorRecords:   errorCount,
		Validations:    validations,
		ImportDate:     end,
		ProcessingTime: end.Sub(start),
		SourceFile:     opts.SourceFile,
	}
}

func (e *Engine) report(opts Options, progress float64, status string) {
	if opts.Progress != nil {
		opts.Progress(progress, status)
	}
}
