// backups.go implements manual backup creation, listing, and restore for an
// installation's module data.
package installations

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitehub/module-engine/internal/db/models"
)

// @Summary      List backups
// @Description  List an installation's data backups, newest first.
// @Tags         Backups
// @Produce      json
// @Param        id  path  string  true  "Installation ID"
// @Success      200  {object}  map[string]interface{}  "backups: [...]"
// @Router       /api/v1/installations/{id}/backups [get]
// ListBackups handles GET /api/v1/installations/:id/backups
func (h *Handlers) ListBackups(c *gin.Context) {
	backups, err := h.backups.ListBackups(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list backups"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"backups": backups})
}

// @Summary      Create backup
// @Description  Take a manual backup of the installation's module data, tagged with the currently active version.
// @Tags         Backups
// @Produce      json
// @Param        id  path  string  true  "Installation ID"
// @Success      201  {object}  models.DataBackup
// @Failure      404  {object}  map[string]interface{}  "No active version"
// @Router       /api/v1/installations/{id}/backups [post]
// CreateBackup handles POST /api/v1/installations/:id/backups
func (h *Handlers) CreateBackup(c *gin.Context) {
	installationID := c.Param("id")

	active, err := h.installations.GetActive(c.Request.Context(), installationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query installation"})
		return
	}
	if active == nil || active.Version == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Installation has no active version"})
		return
	}

	backup, err := h.backups.CreateBackup(c.Request.Context(), installationID, *active.Version, models.BackupReasonManual)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create backup"})
		return
	}

	c.JSON(http.StatusCreated, backup)
}

// @Summary      Restore backup
// @Description  Replace the installation's current module data with a backup's contents. The module schema must already match the version the backup was taken against.
// @Tags         Backups
// @Produce      json
// @Param        id        path  string  true  "Installation ID"
// @Param        backupID  path  string  true  "Backup ID"
// @Success      204  "Restored"
// @Failure      404  {object}  map[string]interface{}  "Backup not found"
// @Router       /api/v1/installations/{id}/backups/{backupID}/restore [post]
// RestoreBackup handles POST /api/v1/installations/:id/backups/:backupID/restore
func (h *Handlers) RestoreBackup(c *gin.Context) {
	if err := h.backups.RestoreBackup(c.Request.Context(), c.Param("backupID")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}
