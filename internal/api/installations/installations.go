// installations.go implements installing a module version on a tenant site
// and reading back the installation's current version, history, and runs.
package installations

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitehub/module-engine/internal/db/models"
)

// InstallRequest binds an installation to its first module version.
type InstallRequest struct {
	VersionID   string  `json:"version_id" binding:"required"`
	InstalledBy *string `json:"installed_by"`
}

// @Summary      Install module version
// @Description  Bind a tenant installation to a published module version. Fails if the installation already has an active version; upgrades and rollbacks change versions after that.
// @Tags         Installations
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Installation ID"
// @Success      201  {object}  models.SiteModuleVersion
// @Failure      404  {object}  map[string]interface{}  "Version not found"
// @Failure      409  {object}  map[string]interface{}  "Installation already has an active version"
// @Failure      422  {object}  map[string]interface{}  "Version is not published"
// @Router       /api/v1/installations/{id} [post]
// Install handles POST /api/v1/installations/:id
func (h *Handlers) Install(c *gin.Context) {
	installationID := c.Param("id")

	var req InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	version, err := h.modules.GetVersionByID(c.Request.Context(), req.VersionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query version"})
		return
	}
	if version == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Version not found"})
		return
	}
	if version.Status != models.VersionStatusPublished {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Only published versions can be installed"})
		return
	}

	existing, err := h.installations.GetActive(c.Request.Context(), installationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query installation"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Installation already has an active version"})
		return
	}

	row, err := h.installations.CreateActive(c.Request.Context(), installationID, req.VersionID, req.InstalledBy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to install version"})
		return
	}

	// Counters are observational; install succeeds even if they cannot be bumped.
	_ = h.modules.AdjustActiveInstallCount(c.Request.Context(), req.VersionID, 1)
	_ = h.modules.IncrementDownloadCount(c.Request.Context(), req.VersionID)

	c.JSON(http.StatusCreated, row)
}

// @Summary      Get active version
// @Description  Return the version an installation is currently running.
// @Tags         Installations
// @Produce      json
// @Param        id  path  string  true  "Installation ID"
// @Success      200  {object}  models.SiteModuleVersion
// @Failure      404  {object}  map[string]interface{}  "No active version"
// @Router       /api/v1/installations/{id}/version [get]
// GetActiveVersion handles GET /api/v1/installations/:id/version
func (h *Handlers) GetActiveVersion(c *gin.Context) {
	row, err := h.installations.GetActive(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query installation"})
		return
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Installation has no active version"})
		return
	}

	c.JSON(http.StatusOK, row)
}

// @Summary      Installation history
// @Description  List every version the installation has run, newest first, including rolled-back and failed rows.
// @Tags         Installations
// @Produce      json
// @Param        id  path  string  true  "Installation ID"
// @Success      200  {object}  map[string]interface{}  "history: [...]"
// @Router       /api/v1/installations/{id}/history [get]
// GetHistory handles GET /api/v1/installations/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	history, err := h.installations.ListHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history})
}

// @Summary      Migration runs
// @Description  List every migration run executed against the installation, newest first.
// @Tags         Installations
// @Produce      json
// @Param        id  path  string  true  "Installation ID"
// @Success      200  {object}  map[string]interface{}  "runs: [...]"
// @Router       /api/v1/installations/{id}/runs [get]
// GetRuns handles GET /api/v1/installations/:id/runs
func (h *Handlers) GetRuns(c *gin.Context) {
	runs, err := h.migrations.ListRuns(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list migration runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
