// Package di provides dependency injection configuration for the Carbon Step server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/carbonstep/carbonstep-server/internal/config"
	"github.com/carbonstep/carbonstep-server/internal/di/providers"
	"github.com/carbonstep/carbonstep-server/internal/logger"
	"github.com/carbonstep/carbonstep-server/internal/service"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Database layer
	do.Provide(injector, providers.ProvideStore)

	// Business services
	do.Provide(injector, providers.ProvideImportService)
	do.Provide(injector, providers.ProvideActivityService)

	// Workers
	do.Provide(injector, providers.ProvideDropWatcher)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle management.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	// Invoke core services to trigger initialization
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)

	// Business services
	_ = do.MustInvoke[*service.ImportService](injector)
	_ = do.MustInvoke[*service.ActivityService](injector)

	// Workers
	_ = do.MustInvoke[*providers.DropWatcherHandle](injector)

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}
