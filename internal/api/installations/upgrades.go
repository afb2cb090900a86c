// upgrades.go implements the upgrade execution endpoint. The heavy lifting —
// path computation, backup, per-step payload execution, run bookkeeping — is
// in services.MigrationEngine; this layer only shapes requests and responses.
package installations

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitehub/module-engine/internal/services"
)

// UpgradeRequest asks the engine to upgrade an installation. CreateBackup
// left unset falls back to the engine.backup_before_upgrade setting.
type UpgradeRequest struct {
	TargetVersion string  `json:"target_version" binding:"required"`
	CreateBackup  *bool   `json:"create_backup"`
	TenantScope   string  `json:"tenant_scope" binding:"required"`
	ExecutedBy    *string `json:"executed_by"`
}

// @Summary      Run upgrade
// @Description  Upgrade an installation to a published target version, applying every intermediate migration in sequence. A failed step leaves the installation on the last successfully reached version.
// @Tags         Upgrades
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Installation ID"
// @Success      200  {object}  services.UpgradeResult
// @Failure      400  {object}  map[string]interface{}  "Target below current or not published"
// @Failure      404  {object}  map[string]interface{}  "No active version or target not found"
// @Failure      409  {object}  map[string]interface{}  "A migration is already running"
// @Failure      500  {object}  map[string]interface{}  "Migration payload failed"
// @Router       /api/v1/installations/{id}/upgrade [post]
// Upgrade handles POST /api/v1/installations/:id/upgrade
func (h *Handlers) Upgrade(c *gin.Context) {
	var req UpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	createBackup := h.backupUpgradesByDefault
	if req.CreateBackup != nil {
		createBackup = *req.CreateBackup
	}

	result, err := h.engine.RunUpgrade(c.Request.Context(), c.Param("id"), services.UpgradeOptions{
		TargetVersion: req.TargetVersion,
		CreateBackup:  createBackup,
		TenantScope:   req.TenantScope,
		ExecutedBy:    req.ExecutedBy,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
