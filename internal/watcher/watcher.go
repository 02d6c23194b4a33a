// Package watcher watches a drop folder for activity export files and
// imports them automatically.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/carbonstep/carbonstep-server/internal/domain"
	"github.com/carbonstep/carbonstep-server/internal/service"
)

// settleDelay is how long a file must sit quietly before it is imported.
// Export tools write files incrementally; importing mid-write yields a
// parse failure.
const settleDelay = 2 * time.Second

// Importer runs one import. Satisfied by *service.ImportService.
type Importer interface {
	Import(ctx context.Context, in service.ImportInput) (*domain.ImportResult, *domain.ImportRun, error)
}

// Watcher imports export files dropped into a directory. Processed files are
// renamed in place (.imported / .failed) so they are not picked up twice.
type Watcher struct {
	dir        string
	resolution domain.ConflictResolution
	maxBytes   int64
	importer   Importer
	logger     *slog.Logger

	fsw    *fsnotify.Watcher
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
	settle time.Duration
}

// New creates a watcher for the given drop directory. The directory is
// created if it does not exist.
func New(dir string, resolution domain.ConflictResolution, maxBytes int64, imp Importer, logger *slog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating drop directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		dir:        dir,
		resolution: resolution,
		maxBytes:   maxBytes,
		importer:   imp,
		logger:     logger,
		fsw:        fsw,
		timers:     make(map[string]*time.Timer),
		settle:     settleDelay,
	}, nil
}

// Start begins watching. Files already present in the drop directory are
// imported first. Runs until ctx is canceled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.logger.Info("drop folder watcher started", "dir", w.dir, "resolution", w.resolution)

	w.scanExisting(ctx)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Close stops the watcher and waits for in-flight imports.
func (w *Watcher) Close() error {
	err := w.fsw.Close()

	w.mu.Lock()
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// schedule (re)starts the settle timer for a path. Every write event pushes
// the import back, so a file is only imported once it stops changing.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if DetectFormat(path) == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		// The WaitGroup add happens under the same lock that Close uses to
		// mark the watcher closed, so Close either sees this import and
		// waits for it, or the import never starts.
		w.mu.Lock()
		delete(w.timers, path)
		if w.closed {
			w.mu.Unlock()
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()

		w.process(ctx, path)
	})
}

func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("cannot scan drop directory", "dir", w.dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if DetectFormat(path) != "" {
			w.process(ctx, path)
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	format := DetectFormat(path)
	if format == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		// Gone before we got to it (renamed or deleted).
		return
	}
	if w.maxBytes > 0 && info.Size() > w.maxBytes {
		w.logger.Warn("dropped file exceeds size limit", "file", path, "size", info.Size())
		w.markProcessed(path, false)
		return
	}

	content, err := os.ReadFile(path) //#nosec G304 -- Path comes from the watched drop directory
	if err != nil {
		w.logger.Warn("cannot read dropped file", "file", path, "error", err)
		return
	}

	result, _, err := w.importer.Import(ctx, service.ImportInput{
		Content:    content,
		Format:     format,
		Resolution: w.resolution,
		SourceFile: path,
	})
	if err != nil {
		// A shutdown mid-import is not a bad file. Leave it in place so the
		// startup scan picks it up again next run.
		if ctx.Err() != nil {
			w.logger.Warn("import interrupted by shutdown, keeping file for retry", "file", path)
			return
		}
		w.logger.Error("drop folder import failed", "file", path, "error", err)
		w.markProcessed(path, false)
		return
	}

	w.logger.Info("drop folder import finished",
		"file", filepath.Base(path),
		"imported", result.ImportedRecords,
		"skipped", result.SkippedRecords,
		"errors", result.ErrorRecords,
	)
	w.markProcessed(path, true)
}

// markProcessed renames the file so it is not imported again. The new suffix
// no longer matches a known format, which keeps it out of future scans.
func (w *Watcher) markProcessed(path string, ok bool) {
	suffix := ".imported"
	if !ok {
		suffix = ".failed"
	}
	if err := os.Rename(path, path+suffix); err != nil {
		w.logger.Warn("cannot rename processed file", "file", path, "error", err)
	}
}

// DetectFormat maps a file extension to an import format.
// Returns "" for files the watcher should ignore.
func DetectFormat(path string) domain.ImportFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return domain.FormatJSON
	case ".csv":
		return domain.FormatCSV
	default:
		return ""
	}
}
