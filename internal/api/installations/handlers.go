// Package installations implements the tenant-facing installation API:
// installing a module version on a site, running upgrades, planning and
// executing rollbacks, and managing data backups.
package installations

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitehub/module-engine/internal/db/repositories"
	"github.com/sitehub/module-engine/internal/services"
)

// Handlers bundles the dependencies shared by the installation endpoints.
type Handlers struct {
	installations *repositories.InstallationRepository
	migrations    *repositories.MigrationRepository
	modules       *repositories.ModuleRepository
	engine        *services.MigrationEngine
	rollback      *services.RollbackService
	backups       *services.BackupService

	// backupUpgradesByDefault is the engine.backup_before_upgrade setting;
	// individual upgrade requests can override it.
	backupUpgradesByDefault bool
}

// NewHandlers creates the installation handler set
func NewHandlers(
	installations *repositories.InstallationRepository,
	migrations *repositories.MigrationRepository,
	modules *repositories.ModuleRepository,
	engine *services.MigrationEngine,
	rollback *services.RollbackService,
	backups *services.BackupService,
	backupUpgradesByDefault bool,
) *Handlers {
	return &Handlers{
		installations:           installations,
		migrations:              migrations,
		modules:                 modules,
		engine:                  engine,
		rollback:                rollback,
		backups:                 backups,
		backupUpgradesByDefault: backupUpgradesByDefault,
	}
}

// respondServiceError maps service-layer errors to HTTP responses. Execution
// failures (a migration payload erroring mid-run) are reported with enough
// structure for the operator to locate the failing step.
func respondServiceError(c *gin.Context, err error) {
	var (
		blocked *services.RollbackBlockedError
		failed  *services.MigrationFailedError
	)

	switch {
	case errors.Is(err, services.ErrNoActiveVersion),
		errors.Is(err, services.ErrModuleNotFound),
		errors.Is(err, services.ErrVersionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrInvalidVersion),
		errors.Is(err, services.ErrInvalidTarget):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrMigrationInProgress),
		errors.Is(err, services.ErrNoValidRollbackPoint):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.As(err, &blocked):
		c.JSON(http.StatusConflict, gin.H{
			"error":    err.Error(),
			"blockers": blocked.Blockers,
		})

	case errors.As(err, &failed):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":        err.Error(),
			"from_version": failed.FromVersion,
			"to_version":   failed.ToVersion,
			"direction":    failed.Direction,
		})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
