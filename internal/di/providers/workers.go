package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/carbonstep/carbonstep-server/internal/config"
	"github.com/carbonstep/carbonstep-server/internal/domain"
	"github.com/carbonstep/carbonstep-server/internal/logger"
	"github.com/carbonstep/carbonstep-server/internal/service"
	"github.com/carbonstep/carbonstep-server/internal/watcher"
)

// DropWatcherHandle wraps the drop-folder watcher with shutdown capability.
// Watcher is nil when no drop path is configured.
type DropWatcherHandle struct {
	*watcher.Watcher
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *DropWatcherHandle) Shutdown() error {
	if h.Watcher == nil {
		return nil
	}
	h.cancel()
	return h.Watcher.Close()
}

// ProvideDropWatcher provides the drop-folder import watcher.
func ProvideDropWatcher(i do.Injector) (*DropWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Import.DropPath == "" {
		log.Info("Drop folder watcher disabled - no drop path configured")
		return &DropWatcherHandle{}, nil
	}

	importService := do.MustInvoke[*service.ImportService](i)

	w, err := watcher.New(
		cfg.Import.DropPath,
		domain.ConflictResolution(cfg.Import.DefaultResolution),
		cfg.Import.MaxFileBytes,
		importService,
		log.Logger,
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		return nil, err
	}

	return &DropWatcherHandle{Watcher: w, cancel: cancel}, nil
}
