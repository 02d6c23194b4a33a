package importer

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonstep/carbonstep-server/internal/domain"
)

// fakeStore is an in-memory Store with failure injection.
type fakeStore struct {
	activities map[string]*domain.Activity
	listErr    error
	createErr  error
	deleteErr  error
	creates    int
	deletes    []string
}

func newFakeStore(existing ...*domain.Activity) *fakeStore {
	s := &fakeStore{activities: make(map[string]*domain.Activity)}
	for _, a := range existing {
		s.activities[a.ID] = a
	}
	return s
}

func (s *fakeStore) ListActivities(_ context.Context) ([]*domain.Activity, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]*domain.Activity, 0, len(s.activities))
	for _, a := range s.activities {
		out = append(out, a)
	}
	return out, nil
}

func (s *fakeStore) CreateActivity(_ context.Context, a *domain.Activity) error {
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.activities[a.ID]; ok {
		return fmt.Errorf("activity %s already exists", a.ID)
	}
	cp := *a
	s.activities[a.ID] = &cp
	s.creates++
	return nil
}

func (s *fakeStore) DeleteActivity(_ context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.activities[id]; !ok {
		return fmt.Errorf("activity %s not found", id)
	}
	delete(s.activities, id)
	s.deletes = append(s.deletes, id)
	return nil
}

// testEngine returns an engine with a deterministic clock and ID sequence.
func testEngine(s Store) *Engine {
	e := NewEngine(s, nil)
	e.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	counter := 0
	e.newID = func() (string, error) {
		counter++
		return fmt.Sprintf("act-test-%d", counter), nil
	}
	return e
}

func assertPartition(t *testing.T, r *domain.ImportResult) {
	t.Helper()
	assert.Equal(t, r.TotalRecords, r.ImportedRecords+r.SkippedRecords+r.ErrorRecords,
		"imported+skipped+errors must partition total")
}

func TestRun_CleanCSVImport(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(store)

	content := []byte("type,distance,co2,date\ncar,12.5,2.1,2024-01-15\n")
	result, err := engine.Run(context.Background(), content, Options{
		Format:     domain.FormatCSV,
		Resolution: domain.ResolutionSkip,
		SourceFile: "activities.csv",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalRecords)
	assert.Equal(t, 1, result.ImportedRecords)
	assert.Equal(t, 0, result.ErrorRecords)
	assert.True(t, result.IsSuccessful())
	assertPartition(t, result)

	require.Len(t, store.activities, 1)
	for _, a := range store.activities {
		assert.Equal(t, domain.ActivityCar, a.Type)
		assert.Equal(t, 12.5, a.DistanceKm)
		assert.Equal(t, 2.1, a.CO2EmissionKg)
		assert.True(t, a.Timestamp.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
	}
}

func TestRun_DefaultsApplied(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(store)

	content := []byte(`[{"type":"car","distance":10,"co2":2.0,"date":"2024-01-15"}]`)
	result, err := engine.Run(context.Background(), content, Options{Format: domain.FormatJSON})
	require.NoError(t, err)
	require.Equal(t, 1, result.ImportedRecords)

	a, ok := store.activities["act-test-1"]
	require.True(t, ok, "ID is generated when the source has none")
	assert.Equal(t, 30, a.DurationMinutes, "duration defaults to distance * 3")
}

func TestRun_MissingRequiredFields(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(store)

	content := []byte(`[{"type":"car","distance":5}]`)
	result, err := engine.Run(context.Background(), content, Options{Format: domain.FormatJSON})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalRecords)
	assert.Equal(t, 0, result.ImportedRecords)
	assert.Equal(t, 1, result.ErrorRecords)
	assertPartition(t, result)

	errorCount := 0
	for _, v := range result.Validations {
		if v.Severity == domain.SeverityError {
			errorCount++
		}
	}
	assert.Equal(t, 2, errorCount, "one diagnostic each for co2 and date")
	assert.Zero(t, store.creates)
}

func TestRun_HighDistanceStillImports(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(store)

	content := []byte(`[{"type":"car","distance":1500,"co2":300,"date":"2024-01-15"}]`)
	result, err := engine.Run(context.Background(), content, Options{Format: domain.FormatJSON})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ImportedRecords)
	assert.True(t, result.HasWarnings())
	assert.False(t, result.HasErrors())
	assertPartition(t, result)
}

func TestRun_ValidateOnly(t *testing.T) {
	store := newFakeStore()
	engine := testEngine(store)

	content := []byte(`[
		{"type":"car","distance":10,"co2":2.0,"date":"2024-01-15"},
		{"type":"car","distance":5}
	]`)
	opts := Options{Format: domain.FormatJSON, ValidateOnly: true}

	result, err := engine.Run(context.Background(), content, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalRecords)
	assert.Equal(t, 0, result.ImportedRecords)
	assert.Equal(t, 0, result.SkippedRecords)
	assert.Equal(t, 2, result.ErrorRecords, "counts error-level diagnostics")
	assert.Zero(t, store.creates, "validate-only never persists")

	// Idempotent: a second run produces identical diagnostics.
	again, err := engine.Run(context.Background(), content, opts)
	require.NoError(t, err)
	assert.Equal(t, result.Validations, again.Validations)
	assert.Zero(t, store.creates)
}

func TestRun_ConflictSkip(t *testing.T) {
	ts := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	existing := activityAt("A", domain.ActivityCar, ts)
	store := newFakeStore(existing)
	engine := testEngine(store)

	content := []byte(`[{"type":"car","distance":10,"co2":2.0,"date":"2024-01-15T08:30:00Z"}]`)
	result, err := engine.Run(context.Background(), content, Options{
		Format:     domain.FormatJSON,
		Resolution: domain.ResolutionSkip,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ImportedRecords)
	assert.Equal(t, 1, result.SkippedRecords)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "A", result.Conflicts[0].ExistingID)
	assertPartition(t, result)

	// Store untouched.
	assert.Len(t, store.activities, 1)
	assert.Zero(t, store.creates)
}

func TestRun_ConflictOverwrite(t *testing.T) {
	ts := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	existing := activityAt("A", domain.ActivityCar, ts)
	store := newFakeStore(existing)
	engine := testEngine(store)

	content := []byte(`[{"type":"car","distance":99,"co2":9.0,"date":"2024-01-15T08:30:00Z"}]`)
	result, err := engine.Run(context.Background(), content, Options{
		Format:     domain.FormatJSON,
		Resolution: domain.ResolutionOverwrite,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ImportedRecords)
	assert.Len(t, result.Conflicts, 1)
	assertPartition(t, result)

	assert.Contains(t, store.deletes, "A")
	require.Len(t, store.activities, 1)
	for id, a := range store.activities {
		assert.NotEqual(t, "A", id)
		assert.Equal(t, 99.0, a.DistanceKm)
	}
}

func TestRun_ConflictKeepBoth(t *testing.T) {
	ts := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	existing := activityAt("A", domain.ActivityCar, ts)
	store := newFakeStore(existing)
	engine := testEngine(store)

	content := []byte(`[{"type":"car","distance":10,"co2":2.0,"date":"2024-01-15T08:30:00Z","notes":"from export"}]`)
	result, err := engine.Run(context.Background(), content, Options{
		Format:     domain.FormatJSON,
		Resolution: domain.ResolutionKeepBoth,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ImportedRecords)
	assertPartition(t, result)

	require.Len(t, store.activities, 2)
	assert.Contains(t, store.activities, "A")

	var kept *domain.Activity
	for id, a := range store.activities {
		if id != "A" {
			kept = a
		}
	}
	require.NotNil(t, kept)
	assert.True(t, strings.HasPrefix(kept.ID, "act-test-"), "fresh ID generated")
	assert.Equal(t, "from export (Imported)", kept.Notes)
}

func TestRun_ConflictMerge(t *testing.T) {
	ts := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	existing := &domain.Activity{
		ID:              "A",
		Type:            domain.ActivityCar,
		DistanceKm:      10,
		DurationMinutes: 20,
		CO2EmissionKg:   2.0,
		Timestamp:       ts,
		Notes:           "original",
	}
	store := newFakeStore(existing)
	engine := testEngine(store)

	content := []byte(`[{"type":"car","distance":20,"co2":4.0,"duration":10,"date":"2024-01-15T08:30:00Z","notes":"reimport"}]`)
	result, err := engine.Run(context.Background(), content, Options{
		Format:     domain.FormatJSON,
		Resolution: domain.ResolutionMerge,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ImportedRecords)
	assertPartition(t, result)

	merged, ok := store.activities["A"]
	require.True(t, ok, "merged activity keeps the existing ID")
	assert.Equal(t, 15.0, merged.DistanceKm)
	assert.Equal(t, 3.0, merged.CO2EmissionKg)
	assert.Equal(t, 30, merged.DurationMinutes)
	assert.True(t, merged.Timestamp.Equal(ts))
	assert.Equal(t, "original | Merged with: reimport", merged.Notes)
}

func TestRun_IntraRunDuplicates(t *testing.T) {
	// Two identical records in one file, empty store: the second must see
	// the first one's persisted activity and conflict against it.
	store := newFakeStore()
	engine := testEngine(store)

	content := []byte(`[
		{"type":"car","distance":10,"co2":2.0,"date":"2024-01-15T08:30:00Z"},
		{"type":"car","distance":10,"co2":2.0,"date":"2024-01-15T08:30:00Z"}
	]`)
	result, err := engine.Run(context.Background(), content, Options{
		Format:     domain.FormatJSON,
		Resolution: domain.ResolutionSkip,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ImportedRecords)
	assert.Equal(t, 1, result.SkippedRecords)
	assert.Len(t, result.Conflicts, 1)
	assertPartition(t, result)
	assert.Len(t, store.activities, 1)
}

func TestRun_MixedBatchPartition(t *testing.T) {
	ts := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	store := newFakeStore(activityAt("A", domain.ActivityCar, ts))
	engine := testEngine(store)

	content := []byte(`[
		{"type":"bus","distance":3,"co2":0.2,"date":"2024-02-01"},
		{"type":"car","distance":5},
		{"type":"car","distance":10,"co2":2.0,"date":"2024-01-15T08:30:00Z"},
		{"type":"train","distance":-4,"co2":1.0,"date":"2024-02-02"}
	]`)
	result, err := engine.Run(context.Background(), content, Options{
		Format:     domain.FormatJSON,
		Resolution: domain.ResolutionSkip,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalRecords)
	assert.Equal(t, 1, result.ImportedRecords)
	assert.Equal(t, 1, result.SkippedRecords)
	assert.Equal(t, 2, result.ErrorRecords)
	assertPartition(t, result)
}

func TestRun_ParseFailureIsFatal(t *testing.T) {
	engine := testEngine(newFakeStore())

	result, err := engine.Run(context.Background(), []byte(`{"activities": [`), Options{Format: domain.FormatJSON})
	require.Error(t, err)
	assert.Nil(t, result, "no partial result on parse failure")
}

func TestRun_BulkFetchFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	store.listErr = fmt.Errorf("disk on fire")
	engine := testEngine(store)

	content := []byte(`[{"type":"car","distance":10,"co2":2.0,"date":"2024-01-15"}]`)
	result, err := engine.Run(context.Background(), content, Options{Format: domain.FormatJSON})
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestRun_PersistenceFailureAbsorbedPerRecord(t *testing.T) {
	store := newFakeStore()
	store.createErr = fmt.Errorf("write failed")
	engine := testEngine(store)

	content := []byte(`[
		{"type":"car","distance":10,"co2":2.0,"date":"2024-01-15"},
		{"type":"bus","distance":3,"co2":0.2,"date":"2024-02-01"}
	]`)
	result, err := engine.Run(context.Background(), content, Options{Format: domain.FormatJSON})
	require.NoError(t, err, "per-record persistence failures never abort the run")

	assert.Equal(t, 2, result.ErrorRecords)
	assertPartition(t, result)

	diagCount := 0
	for _, v := range result.Validations {
		if v.Severity == domain.SeverityError {
			diagCount++
		}
	}
	assert.Equal(t, 2, diagCount)
}

func TestRun_Cancellation(t *testing.T) {
	engine := testEngine(newFakeStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	content := []byte(`[{"type":"car","distance":10,"co2":2.0,"date":"2024-01-15"}]`)
	_, err := engine.Run(ctx, content, Options{Format: domain.FormatJSON})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ProgressCheckpoints(t *testing.T) {
	engine := testEngine(newFakeStore())

	var progress []float64
	var statuses []string
	content := []byte(`[
		{"type":"car","distance":10,"co2":2.0,"date":"2024-01-15"},
		{"type":"bus","distance":3,"co2":0.2,"date":"2024-02-01"}
	]`)
	_, err := engine.Run(context.Background(), content, Options{
		Format: domain.FormatJSON,
		Progress: func(p float64, status string) {
			progress = append(progress, p)
			statuses = append(statuses, status)
		},
	})
	require.NoError(t, err)

	require.NotEmpty(t, progress)
	assert.Equal(t, 0.1, progress[0])
	assert.Contains(t, progress, 0.2)
	assert.Contains(t, progress, 0.3)
	assert.Contains(t, progress, 0.4)
	assert.Equal(t, 1.0, progress[len(progress)-1])

	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress never goes backwards")
	}
	assert.Contains(t, statuses[len(statuses)-1], "complete")
}

func TestRun_EmptyBatch(t *testing.T) {
	engine := testEngine(newFakeStore())

	result, err := engine.Run(context.Background(), []byte(`[]`), Options{Format: domain.FormatJSON})
	require.NoError(t, err)

	assert.Zero(t, result.TotalRecords)
	assert.Zero(t, result.SuccessRate())
	assert.False(t, result.IsSuccessful())
	assertPartition(t, result)
}

func TestRun_ResultMetadata(t *testing.T) {
	engine := testEngine(newFakeStore())

	content := []byte(`[{"type":"car","distance":10,"co2":2.0,"date":"2024-01-15"}]`)
	result, err := engine.Run(context.Background(), content, Options{
		Format:     domain.FormatJSON,
		SourceFile: "/exports/march/activities.json",
	})
	require.NoError(t, err)

	assert.Equal(t, "/exports/march/activities.json", result.SourceFile)

	summary := result.Summary()
	assert.Equal(t, "activities.json", summary["sourceFile"], "summary carries the basename only")
	assert.Equal(t, 1.0, summary["successRate"])
	assert.Equal(t, false, summary["hasErrors"])
}
