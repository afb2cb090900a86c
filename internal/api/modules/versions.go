// versions.go implements the version lifecycle endpoints: draft creation,
// publish, deprecate, yank, listing, and dependency resolution.
package modules

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitehub/module-engine/internal/db/models"
	"github.com/sitehub/module-engine/internal/services"
)

// CreateVersionRequest is the payload for creating a new draft version.
// Fields omitted here (render source, schemas, styling) are snapshotted from
// the module working copy, not supplied by the caller.
type CreateVersionRequest struct {
	Version                   string              `json:"version" binding:"required"`
	Changelog                 *string             `json:"changelog"`
	ReleaseNotes              *string             `json:"release_notes"`
	MinPlatformVersion        *string             `json:"min_platform_version"`
	IsBreakingChange          bool                `json:"is_breaking_change"`
	BreakingChangeDescription *string             `json:"breaking_change_description"`
	Dependencies              models.Dependencies `json:"dependencies"`
}

// @Summary      Create draft version
// @Description  Snapshot the module working copy into a new immutable draft version. The version must be valid semver and strictly greater than the latest version.
// @Tags         Versions
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Module ID"
// @Success      201  {object}  models.ModuleVersion
// @Failure      400  {object}  map[string]interface{}  "Invalid or non-increasing version"
// @Failure      404  {object}  map[string]interface{}  "Module not found"
// @Failure      409  {object}  map[string]interface{}  "Version already exists"
// @Router       /api/v1/modules/{id}/versions [post]
// CreateVersion handles POST /api/v1/modules/:id/versions
func (h *Handlers) CreateVersion(c *gin.Context) {
	var req CreateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	version, err := h.lifecycle.CreateVersion(c.Request.Context(), c.Param("id"), services.CreateVersionInput{
		Version:                   req.Version,
		Changelog:                 req.Changelog,
		ReleaseNotes:              req.ReleaseNotes,
		MinPlatformVersion:        req.MinPlatformVersion,
		IsBreakingChange:          req.IsBreakingChange,
		BreakingChangeDescription: req.BreakingChangeDescription,
		Dependencies:              req.Dependencies,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, version)
}

// @Summary      List versions
// @Description  List all versions of a module, oldest first. Optionally filter by status.
// @Tags         Versions
// @Produce      json
// @Param        id      path   string  true   "Module ID"
// @Param        status  query  string  false  "Filter by status (draft, published, deprecated, yanked)"
// @Success      200  {object}  map[string]interface{}  "versions: [...]"
// @Failure      400  {object}  map[string]interface{}  "Unknown status filter"
// @Router       /api/v1/modules/{id}/versions [get]
// ListVersions handles GET /api/v1/modules/:id/versions
func (h *Handlers) ListVersions(c *gin.Context) {
	moduleID := c.Param("id")

	var (
		versions []*models.ModuleVersion
		err      error
	)
	if status := c.Query("status"); status != "" {
		vs := models.VersionStatus(status)
		if !vs.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status filter: " + status})
			return
		}
		versions, err = h.modules.ListVersionsByStatus(c.Request.Context(), moduleID, vs)
	} else {
		versions, err = h.modules.ListVersions(c.Request.Context(), moduleID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list versions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// @Summary      Get version
// @Description  Fetch a single version of a module by its version string.
// @Tags         Versions
// @Produce      json
// @Param        id       path  string  true  "Module ID"
// @Param        version  path  string  true  "Version string (e.g. 1.4.0)"
// @Success      200  {object}  models.ModuleVersion
// @Failure      404  {object}  map[string]interface{}  "Version not found"
// @Router       /api/v1/modules/{id}/versions/{version} [get]
// GetVersion handles GET /api/v1/modules/:id/versions/:version
func (h *Handlers) GetVersion(c *gin.Context) {
	version, err := h.modules.GetVersion(c.Request.Context(), c.Param("id"), c.Param("version"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query version"})
		return
	}
	if version == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Version not found"})
		return
	}

	c.JSON(http.StatusOK, version)
}

// @Summary      Latest published version
// @Description  Return the highest published version of a module. Prerelease versions are excluded unless include_prerelease=true.
// @Tags         Versions
// @Produce      json
// @Param        id                  path   string  true   "Module ID"
// @Param        include_prerelease  query  bool    false  "Include prerelease versions"
// @Success      200  {object}  models.ModuleVersion
// @Failure      404  {object}  map[string]interface{}  "No published version"
// @Router       /api/v1/modules/{id}/versions/latest [get]
// LatestVersion handles GET /api/v1/modules/:id/versions/latest
func (h *Handlers) LatestVersion(c *gin.Context) {
	includePrerelease := c.Query("include_prerelease") == "true"

	version, err := h.lifecycle.LatestPublished(c.Request.Context(), c.Param("id"), includePrerelease)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if version == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No published version"})
		return
	}

	c.JSON(http.StatusOK, version)
}

// @Summary      Publish version
// @Description  Transition a draft version to published. Validates platform compatibility and dependency satisfiability first.
// @Tags         Versions
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Version ID"
// @Success      200  {object}  models.ModuleVersion
// @Failure      404  {object}  map[string]interface{}  "Version not found"
// @Failure      409  {object}  map[string]interface{}  "Version is not a draft"
// @Failure      422  {object}  map[string]interface{}  "Platform incompatible or unsatisfiable dependency"
// @Router       /api/v1/versions/{id}/publish [post]
// PublishVersion handles POST /api/v1/versions/:id/publish
func (h *Handlers) PublishVersion(c *gin.Context) {
	var req struct {
		PublishedBy *string `json:"published_by"`
	}
	// Body is optional; ignore bind errors from an empty body.
	_ = c.ShouldBindJSON(&req)

	version, err := h.lifecycle.PublishVersion(c.Request.Context(), c.Param("id"), req.PublishedBy)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, version)
}

// @Summary      Deprecate version
// @Description  Mark a published version as deprecated. Existing installations keep running it; new installations are discouraged.
// @Tags         Versions
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Version ID"
// @Success      204  "Deprecated"
// @Failure      409  {object}  map[string]interface{}  "Version is not published"
// @Router       /api/v1/versions/{id}/deprecate [post]
// DeprecateVersion handles POST /api/v1/versions/:id/deprecate
func (h *Handlers) DeprecateVersion(c *gin.Context) {
	var req struct {
		Reason *string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.lifecycle.DeprecateVersion(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// @Summary      Yank version
// @Description  Mark a published version as yanked. Yanked versions are excluded from resolution and are not valid rollback targets.
// @Tags         Versions
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "Version ID"
// @Success      204  "Yanked"
// @Failure      409  {object}  map[string]interface{}  "Version is not published"
// @Router       /api/v1/versions/{id}/yank [post]
// YankVersion handles POST /api/v1/versions/:id/yank
func (h *Handlers) YankVersion(c *gin.Context) {
	var req struct {
		Reason *string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.lifecycle.YankVersion(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// @Summary      Resolve version dependencies
// @Description  Resolve a version's dependency constraints to concrete published versions. Resolution picks the oldest published version satisfying each constraint.
// @Tags         Versions
// @Produce      json
// @Param        id  path  string  true  "Version ID"
// @Success      200  {object}  map[string]interface{}  "resolved: {module_id: version}"
// @Failure      404  {object}  map[string]interface{}  "Version not found"
// @Failure      422  {object}  map[string]interface{}  "Unsatisfiable dependency"
// @Router       /api/v1/versions/{id}/dependencies [get]
// ResolveDependencies handles GET /api/v1/versions/:id/dependencies
func (h *Handlers) ResolveDependencies(c *gin.Context) {
	version, err := h.modules.GetVersionByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query version"})
		return
	}
	if version == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Version not found"})
		return
	}

	resolved, err := h.resolver.ResolveDependencies(c.Request.Context(), version.Dependencies)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	// Flatten to module_id -> version string for the response.
	flat := make(map[string]string, len(resolved))
	for moduleID, v := range resolved {
		flat[moduleID] = v.Version
	}

	c.JSON(http.StatusOK, gin.H{
		"version_id":   version.ID,
		"dependencies": version.Dependencies,
		"resolved":     flat,
	})
}
