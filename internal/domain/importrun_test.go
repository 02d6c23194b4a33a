package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestImportResult_Derived(t *testing.T) {
	r := &ImportResult{
		TotalRecords:    10,
		ImportedRecords: 7,
		SkippedRecords:  2,
		ErrorRecords:    1,
		Validations: []Validation{
			{Severity: SeverityWarning, Message: "unusually high distance"},
			{Severity: SeverityError, Message: "missing field: co2"},
		},
	}

	assert.True(t, r.HasErrors())
	assert.True(t, r.HasWarnings())
	assert.False(t, r.IsSuccessful())
	assert.InDelta(t, 0.7, r.SuccessRate(), 1e-9)
}

func TestImportResult_EmptyRun(t *testing.T) {
	r := &ImportResult{}

	assert.False(t, r.HasErrors())
	assert.False(t, r.HasWarnings())
	assert.False(t, r.IsSuccessful())
	assert.Zero(t, r.SuccessRate())
}

func TestImportResult_Summary(t *testing.T) {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &ImportResult{
		TotalRecords:    4,
		ImportedRecords: 4,
		ImportDate:      date,
		ProcessingTime:  1500 * time.Millisecond,
		SourceFile:      "/uploads/march/activities.csv",
	}

	m := r.Summary()
	assert.Equal(t, 4, m["totalRecords"])
	assert.Equal(t, 4, m["importedRecords"])
	assert.Equal(t, int64(1500), m["processingTimeMs"])
	assert.Equal(t, "2024-03-01T12:00:00Z", m["importDate"])
	// Basename only - full paths must not leak into telemetry.
	assert.Equal(t, "activities.csv", m["sourceFile"])
	assert.Equal(t, 1.0, m["successRate"])
}

func TestImportResult_SummaryNoSourceFile(t *testing.T) {
	r := &ImportResult{TotalRecords: 1, ImportedRecords: 1}

	m := r.Summary()
	assert.Equal(t, "", m["sourceFile"])
}
