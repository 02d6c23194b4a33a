package domain

import (
	"path/filepath"
	"time"
)

// ImportFormat selects how raw file content is parsed.
type ImportFormat string

const (
	// FormatJSON accepts a top-level array of records or the native
	// {"activities": [...]} export envelope.
	FormatJSON ImportFormat = "json"
	// FormatCSV expects a header row; header cells become record keys.
	FormatCSV ImportFormat = "csv"
	// FormatCarbonTracker is the app's native export. Currently parsed
	// identically to JSON; reserved for format-specific handling.
	FormatCarbonTracker ImportFormat = "carbon_tracker"
)

// ConflictResolution is the caller-chosen policy applied to every detected
// conflict in an import run.
type ConflictResolution string

const (
	// ResolutionSkip leaves the existing activity untouched and drops the
	// incoming record.
	ResolutionSkip ConflictResolution = "skip"
	// ResolutionOverwrite deletes the existing activity and persists the
	// incoming record as a new one.
	ResolutionOverwrite ConflictResolution = "overwrite"
	// ResolutionKeepBoth persists the incoming record under a fresh ID,
	// leaving the existing activity untouched.
	ResolutionKeepBoth ConflictResolution = "keep_both"
	// ResolutionMerge combines existing and incoming into one activity,
	// keeping the existing ID and timestamp.
	ResolutionMerge ConflictResolution = "merge"
)

// ValidationSeverity classifies one import diagnostic.
type ValidationSeverity string

const (
	SeverityValid   ValidationSeverity = "valid"
	SeverityWarning ValidationSeverity = "warning"
	SeverityError   ValidationSeverity = "error"
)

// Validation is one diagnostic produced while checking an import batch.
// Immutable once created; accumulated in order for the whole run.
type Validation struct {
	Severity   ValidationSeverity `json:"severity"`
	Message    string             `json:"message"`
	LineNumber int                `json:"line_number,omitempty"` // 1-based, 0 when unknown
	Context    map[string]any     `json:"context,omitempty"`
}

// Conflict records a detected likely-duplicate between an incoming record
// and an already-persisted activity. Snapshots are kept for user inspection.
type Conflict struct {
	ExistingID string    `json:"existing_id"`
	Existing   *Activity `json:"existing"`
	Incoming   *Activity `json:"incoming"`
	Reason     string    `json:"reason"`
}

// ImportResult is the final output of one import run.
//
// Invariant: when not running validate-only,
// ImportedRecords + SkippedRecords + ErrorRecords == TotalRecords.
type ImportResult struct {
	TotalRecords    int           `json:"total_records"`
	ImportedRecords int           `json:"imported_records"`
	SkippedRecords  int           `json:"skipped_records"`
	ErrorRecords    int           `json:"error_records"`
	Validations     []Validation  `json:"validations"`
	Conflicts       []Conflict    `json:"conflicts"`
	ImportDate      time.Time     `json:"import_date"`
	ProcessingTime  time.Duration `json:"processing_time"`
	SourceFile      string        `json:"source_file"`
}

// HasErrors reports whether any record was rejected.
func (r *ImportResult) HasErrors() bool {
	return r.ErrorRecords > 0
}

// HasWarnings reports whether any diagnostic is warning-level.
func (r *ImportResult) HasWarnings() bool {
	for _, v := range r.Validations {
		if v.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// IsSuccessful reports whether something was imported and nothing failed.
func (r *ImportResult) IsSuccessful() bool {
	return r.ImportedRecords > 0 && r.ErrorRecords == 0
}

// SuccessRate returns the imported fraction in [0,1]; 0 for an empty run.
func (r *ImportResult) SuccessRate() float64 {
	if r.TotalRecords == 0 {
		return 0
	}
	return float64(r.ImportedRecords) / float64(r.TotalRecords)
}

// Summary returns the serializable summary map emitted with the
// import_completed telemetry event. SourceFile is reduced to its basename;
// runs without one report an empty string, not ".".
func (r *ImportResult) Summary() map[string]any {
	sourceFile := r.SourceFile
	if sourceFile != "" {
		sourceFile = filepath.Base(sourceFile)
	}

	return map[string]any{
		"totalRecords":     r.TotalRecords,
		"importedRecords":  r.ImportedRecords,
		"skippedRecords":   r.SkippedRecords,
		"errorRecords":     r.ErrorRecords,
		"successRate":      r.SuccessRate(),
		"hasErrors":        r.HasErrors(),
		"hasWarnings":      r.HasWarnings(),
		"importDate":       r.ImportDate.Format(time.RFC3339),
		"processingTimeMs": r.ProcessingTime.Milliseconds(),
		"sourceFile":       sourceFile,
	}
}

// ImportRun is the persisted history record for one completed import.
type ImportRun struct {
	ID              string             `json:"id"`
	SourceFile      string             `json:"source_file"`
	Format          ImportFormat       `json:"format"`
	Resolution      ConflictResolution `json:"resolution"`
	ValidateOnly    bool               `json:"validate_only"`
	TotalRecords    int                `json:"total_records"`
	ImportedRecords int                `json:"imported_records"`
	SkippedRecords  int                `json:"skipped_records"`
	ErrorRecords    int                `json:"error_records"`
	WarningCount    int                `json:"warning_count"`
	ConflictCount   int                `json:"conflict_count"`
	CreatedAt       time.Time          `json:"created_at"`
	DurationMs      int64              `json:"duration_ms"`
}
