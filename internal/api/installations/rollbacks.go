// rollbacks.go implements rollback planning and execution. Plans are free to
// compute and mutate nothing; execution claims the installation row and
// reverses migrations newest-first.
package installations

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitehub/module-engine/internal/services"
)

// RollbackRequest asks the engine to roll an installation back. CreateBackup
// defaults to true when unset; the pre-rollback backup is the safety net for
// a destructive operation and must be opted out of, not into.
type RollbackRequest struct {
	TargetVersionID string  `json:"target_version_id" binding:"required"`
	Force           bool    `json:"force"`
	CreateBackup    *bool   `json:"create_backup"`
	RestoreData     bool    `json:"restore_data"`
	TenantScope     string  `json:"tenant_scope" binding:"required"`
	ExecutedBy      *string `json:"executed_by"`
}

// RollbackPreviousRequest rolls back to the nearest unblocked rollback point.
// No target is named; the engine picks it.
type RollbackPreviousRequest struct {
	Force        bool    `json:"force"`
	CreateBackup *bool   `json:"create_backup"`
	RestoreData  bool    `json:"restore_data"`
	TenantScope  string  `json:"tenant_scope" binding:"required"`
	ExecutedBy   *string `json:"executed_by"`
}

// backupOrDefault resolves an optional create_backup field, defaulting to on.
func backupOrDefault(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}

// @Summary      Plan rollback
// @Description  Compute a rollback plan to a target version without executing it: migrations to reverse, blockers, data loss warnings, and whether a backup exists for the target.
// @Tags         Rollbacks
// @Produce      json
// @Param        id                 path   string  true  "Installation ID"
// @Param        target_version_id  query  string  true  "Target version ID"
// @Success      200  {object}  services.RollbackPlan
// @Failure      400  {object}  map[string]interface{}  "Invalid target (wrong module, yanked, or not older)"
// @Failure      404  {object}  map[string]interface{}  "No active version"
// @Router       /api/v1/installations/{id}/rollback-plan [get]
// GetRollbackPlan handles GET /api/v1/installations/:id/rollback-plan
func (h *Handlers) GetRollbackPlan(c *gin.Context) {
	targetVersionID := c.Query("target_version_id")
	if targetVersionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_version_id query parameter is required"})
		return
	}

	plan, err := h.rollback.CreatePlan(c.Request.Context(), c.Param("id"), targetVersionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, plan)
}

// @Summary      Execute rollback
// @Description  Roll an installation back to a target version, reversing migrations newest-first. Blocked plans require force=true; force skips migrations with no down payload.
// @Tags         Rollbacks
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Installation ID"
// @Success      200  {object}  services.RollbackResult
// @Failure      404  {object}  map[string]interface{}  "No active version"
// @Failure      409  {object}  map[string]interface{}  "Rollback blocked and not forced"
// @Failure      500  {object}  map[string]interface{}  "Down payload failed"
// @Router       /api/v1/installations/{id}/rollback [post]
// Rollback handles POST /api/v1/installations/:id/rollback
func (h *Handlers) Rollback(c *gin.Context) {
	var req RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	result, err := h.rollback.Execute(c.Request.Context(), c.Param("id"), req.TargetVersionID, services.RollbackOptions{
		Force:        req.Force,
		CreateBackup: backupOrDefault(req.CreateBackup),
		RestoreData:  req.RestoreData,
		TenantScope:  req.TenantScope,
		ExecutedBy:   req.ExecutedBy,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// @Summary      Rollback to previous version
// @Description  Roll back to the nearest older version with an unblocked rollback plan.
// @Tags         Rollbacks
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Installation ID"
// @Success      200  {object}  services.RollbackResult
// @Failure      404  {object}  map[string]interface{}  "No active version"
// @Failure      409  {object}  map[string]interface{}  "No valid rollback point"
// @Router       /api/v1/installations/{id}/rollback/previous [post]
// RollbackPrevious handles POST /api/v1/installations/:id/rollback/previous
func (h *Handlers) RollbackPrevious(c *gin.Context) {
	var req RollbackPreviousRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	result, err := h.rollback.RollbackToPrevious(c.Request.Context(), c.Param("id"), services.RollbackOptions{
		Force:        req.Force,
		CreateBackup: backupOrDefault(req.CreateBackup),
		RestoreData:  req.RestoreData,
		TenantScope:  req.TenantScope,
		ExecutedBy:   req.ExecutedBy,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// @Summary      List rollback points
// @Description  List the older versions this installation could roll back to, with per-target blockers and backup availability.
// @Tags         Rollbacks
// @Produce      json
// @Param        id  path  string  true  "Installation ID"
// @Success      200  {object}  map[string]interface{}  "rollback_points: [...]"
// @Failure      404  {object}  map[string]interface{}  "No active version"
// @Router       /api/v1/installations/{id}/rollback-points [get]
// GetRollbackPoints handles GET /api/v1/installations/:id/rollback-points
func (h *Handlers) GetRollbackPoints(c *gin.Context) {
	points, err := h.rollback.GetRollbackPoints(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rollback_points": points})
}
