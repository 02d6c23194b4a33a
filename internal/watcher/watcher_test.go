package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonstep/carbonstep-server/internal/domain"
	"github.com/carbonstep/carbonstep-server/internal/service"
)

type fakeImporter struct {
	mu     sync.Mutex
	inputs []service.ImportInput
}

func (f *fakeImporter) Import(_ context.Context, in service.ImportInput) (*domain.ImportResult, *domain.ImportRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return &domain.ImportResult{TotalRecords: 1, ImportedRecords: 1}, nil, nil
}

func (f *fakeImporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func (f *fakeImporter) last() service.ImportInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[len(f.inputs)-1]
}

// blockingImporter holds every import until released, or until the context
// is canceled.
type blockingImporter struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingImporter() *blockingImporter {
	return &blockingImporter{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingImporter) Import(ctx context.Context, _ service.ImportInput) (*domain.ImportResult, *domain.ImportRun, error) {
	close(b.started)
	select {
	case <-b.release:
		return &domain.ImportResult{TotalRecords: 1, ImportedRecords: 1}, nil, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func setupWatcher(t *testing.T) (*Watcher, *fakeImporter, string) {
	t.Helper()

	dir := t.TempDir()
	imp := &fakeImporter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w, err := New(dir, domain.ResolutionSkip, 1<<20, imp, logger)
	require.NoError(t, err)
	w.settle = 50 * time.Millisecond // keep tests fast

	return w, imp, dir
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, domain.FormatJSON, DetectFormat("export.json"))
	assert.Equal(t, domain.FormatJSON, DetectFormat("EXPORT.JSON"))
	assert.Equal(t, domain.FormatCSV, DetectFormat("activities.csv"))
	assert.Empty(t, DetectFormat("notes.txt"))
	assert.Empty(t, DetectFormat("export.json.imported"))
	assert.Empty(t, DetectFormat("export.json.failed"))
}

func TestWatcher_ImportsDroppedFile(t *testing.T) {
	w, imp, dir := setupWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	path := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"type":"car"}]`), 0o644))

	require.Eventually(t, func() bool { return imp.count() == 1 }, 5*time.Second, 20*time.Millisecond)

	in := imp.last()
	assert.Equal(t, domain.FormatJSON, in.Format)
	assert.Equal(t, domain.ResolutionSkip, in.Resolution)
	assert.Equal(t, path, in.SourceFile)

	// File is renamed so it is never imported twice.
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path + ".imported")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_ImportsPreexistingFiles(t *testing.T) {
	w, imp, dir := setupWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.csv"), []byte("type,distance\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	require.Eventually(t, func() bool { return imp.count() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, domain.FormatCSV, imp.last().Format)
}

func TestWatcher_IgnoresUnknownExtensions(t *testing.T) {
	w, imp, dir := setupWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hello"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, imp.count())
}

func TestWatcher_CloseWaitsForInFlightImport(t *testing.T) {
	dir := t.TempDir()
	imp := newBlockingImporter()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w, err := New(dir, domain.ResolutionSkip, 1<<20, imp, logger)
	require.NoError(t, err)
	w.settle = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	path := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"type":"car"}]`), 0o644))

	select {
	case <-imp.started:
	case <-time.After(5 * time.Second):
		t.Fatal("import never started")
	}

	closed := make(chan struct{})
	go func() {
		_ = w.Close()
		close(closed)
	}()

	// Close must block while the import is still running.
	select {
	case <-closed:
		t.Fatal("Close returned while an import was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(imp.release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close never returned after the import finished")
	}

	// The import completed, so the file was marked processed.
	_, err = os.Stat(path + ".imported")
	assert.NoError(t, err)
}

func TestWatcher_ShutdownKeepsUnfinishedFile(t *testing.T) {
	dir := t.TempDir()
	imp := newBlockingImporter()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w, err := New(dir, domain.ResolutionSkip, 1<<20, imp, logger)
	require.NoError(t, err)
	w.settle = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	path := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"type":"car"}]`), 0o644))

	select {
	case <-imp.started:
	case <-time.After(5 * time.Second):
		t.Fatal("import never started")
	}

	cancel()
	require.NoError(t, w.Close())

	// An import cut short by shutdown must not condemn the file; it stays in
	// place so the next startup scan retries it.
	_, err = os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(path + ".failed")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".imported")
	assert.True(t, os.IsNotExist(err))
}

func TestWatcher_SizeLimit(t *testing.T) {
	dir := t.TempDir()
	imp := &fakeImporter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w, err := New(dir, domain.ResolutionSkip, 8, imp, logger) // 8 byte cap
	require.NoError(t, err)
	w.settle = 50 * time.Millisecond

	path := filepath.Join(dir, "big.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"type":"car","distance":1}]`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	// Oversized file is marked failed, never imported.
	require.Eventually(t, func() bool {
		_, err := os.Stat(path + ".failed")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, imp.count())
}
