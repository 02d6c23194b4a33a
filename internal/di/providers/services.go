package providers

import (
	"github.com/samber/do/v2"

	"github.com/carbonstep/carbonstep-server/internal/logger"
	"github.com/carbonstep/carbonstep-server/internal/service"
)

// ProvideImportService provides the import service.
func ProvideImportService(i do.Injector) (*service.ImportService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewImportService(storeHandle.Store, log.Logger), nil
}

// ProvideActivityService provides the activity service.
func ProvideActivityService(i do.Injector) (*service.ActivityService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewActivityService(storeHandle.Store, log.Logger), nil
}
