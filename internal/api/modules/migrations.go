// migrations.go implements migration registration and upgrade path
// computation. Migration SQL payloads are stored in blob storage; only the
// storage references land in the database.
package modules

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sitehub/module-engine/internal/db/models"
	"github.com/sitehub/module-engine/internal/db/repositories"
	"github.com/sitehub/module-engine/pkg/semver"
)

// CreateMigrationRequest registers the schema transformation between two
// versions of a module. DownSQL may be omitted for irreversible migrations,
// which blocks rollback across this migration.
type CreateMigrationRequest struct {
	FromVersion              string  `json:"from_version" binding:"required"`
	ToVersion                string  `json:"to_version" binding:"required"`
	UpSQL                    string  `json:"up_sql" binding:"required"`
	DownSQL                  *string `json:"down_sql"`
	RequiresMaintenance      bool    `json:"requires_maintenance"`
	EstimatedDurationSeconds int     `json:"estimated_duration_seconds"`
}

// @Summary      Register migration
// @Description  Register the up/down SQL bridging two versions of a module. Payloads are stored in blob storage and executed per-tenant during upgrades and rollbacks.
// @Tags         Migrations
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Module ID"
// @Success      201  {object}  models.Migration
// @Failure      400  {object}  map[string]interface{}  "Invalid versions or empty up SQL"
// @Failure      404  {object}  map[string]interface{}  "Target version not found"
// @Failure      409  {object}  map[string]interface{}  "Migration already registered"
// @Router       /api/v1/modules/{id}/migrations [post]
// CreateMigration handles POST /api/v1/modules/:id/migrations
func (h *Handlers) CreateMigration(c *gin.Context) {
	moduleID := c.Param("id")

	var req CreateMigrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	cmp, err := semver.CompareStrings(req.FromVersion, req.ToVersion)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid version: " + err.Error()})
		return
	}
	if cmp >= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to_version must be greater than from_version"})
		return
	}

	// The target version must already exist; the source version may be any
	// earlier version string (including one that predates migration tracking).
	target, err := h.modules.GetVersion(c.Request.Context(), moduleID, req.ToVersion)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query version"})
		return
	}
	if target == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Target version not found: " + req.ToVersion})
		return
	}

	if strings.TrimSpace(req.UpSQL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "up_sql must not be empty"})
		return
	}

	basePath := fmt.Sprintf("payloads/%s/%s_%s", moduleID, req.FromVersion, req.ToVersion)

	upRef := basePath + "/up.sql"
	if _, err := h.storage.Upload(c.Request.Context(), upRef,
		strings.NewReader(req.UpSQL), int64(len(req.UpSQL))); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store up payload"})
		return
	}

	var downRef *string
	if req.DownSQL != nil && strings.TrimSpace(*req.DownSQL) != "" {
		ref := basePath + "/down.sql"
		if _, err := h.storage.Upload(c.Request.Context(), ref,
			strings.NewReader(*req.DownSQL), int64(len(*req.DownSQL))); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store down payload"})
			return
		}
		downRef = &ref
	}

	migration := &models.Migration{
		ModuleID:                 moduleID,
		FromVersion:              req.FromVersion,
		ToVersion:                req.ToVersion,
		UpPayloadRef:             upRef,
		DownPayloadRef:           downRef,
		IsReversible:             downRef != nil,
		RequiresMaintenance:      req.RequiresMaintenance,
		EstimatedDurationSeconds: req.EstimatedDurationSeconds,
	}

	if err := h.migrations.CreateMigration(c.Request.Context(), migration); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "A migration between these versions already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create migration"})
		return
	}

	c.JSON(http.StatusCreated, migration)
}

// @Summary      Compute upgrade path
// @Description  Compute the ordered sequence of published versions between two versions of a module, with breaking change flags and a duration estimate.
// @Tags         Migrations
// @Produce      json
// @Param        id    path   string  true  "Module ID"
// @Param        from  query  string  true  "Current version"
// @Param        to    query  string  true  "Target version"
// @Success      200  {object}  services.UpgradePath
// @Failure      400  {object}  map[string]interface{}  "Invalid versions or target below current"
// @Router       /api/v1/modules/{id}/upgrade-path [get]
// GetUpgradePath handles GET /api/v1/modules/:id/upgrade-path
func (h *Handlers) GetUpgradePath(c *gin.Context) {
	from := c.Query("from")
	to := c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to query parameters are required"})
		return
	}

	path, err := h.calculator.GetUpgradePath(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, path)
}
