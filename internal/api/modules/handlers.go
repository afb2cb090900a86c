// Package modules implements the module authoring API: module working copies,
// version lifecycle (create draft, publish, deprecate, yank), dependency
// resolution, migration registration, and upgrade path computation.
package modules

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitehub/module-engine/internal/db/repositories"
	"github.com/sitehub/module-engine/internal/services"
	"github.com/sitehub/module-engine/internal/storage"
)

// Handlers bundles the dependencies shared by the module authoring endpoints.
type Handlers struct {
	modules    *repositories.ModuleRepository
	migrations *repositories.MigrationRepository
	lifecycle  *services.Lifecycle
	resolver   *services.Resolver
	calculator *services.UpgradeCalculator
	storage    storage.Storage
}

// NewHandlers creates the module authoring handler set
func NewHandlers(
	modules *repositories.ModuleRepository,
	migrations *repositories.MigrationRepository,
	lifecycle *services.Lifecycle,
	resolver *services.Resolver,
	calculator *services.UpgradeCalculator,
	storageBackend storage.Storage,
) *Handlers {
	return &Handlers{
		modules:    modules,
		migrations: migrations,
		lifecycle:  lifecycle,
		resolver:   resolver,
		calculator: calculator,
		storage:    storageBackend,
	}
}

// respondServiceError maps service-layer errors to HTTP responses. Sentinel
// errors carry their own user-facing message; anything unrecognized is a 500
// with a generic message so internal details never leak to clients.
func respondServiceError(c *gin.Context, err error) {
	var unsatisfiable *services.UnsatisfiableDependencyError

	switch {
	case errors.Is(err, services.ErrModuleNotFound),
		errors.Is(err, services.ErrVersionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrInvalidVersion),
		errors.Is(err, services.ErrInvalidTarget),
		errors.Is(err, services.ErrVersionNotIncreasing):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrDuplicateVersion),
		errors.Is(err, services.ErrNotDraft),
		errors.Is(err, services.ErrNotPublished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrPlatformIncompatible):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})

	case errors.As(err, &unsatisfiable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      err.Error(),
			"module_id":  unsatisfiable.ModuleID,
			"constraint": unsatisfiable.Constraint,
		})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
