// modules.go implements CRUD for module working copies. The working copy is
// what a module author edits; it only becomes visible to tenant sites when a
// version is published.
package modules

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitehub/module-engine/internal/db/models"
	"github.com/sitehub/module-engine/internal/db/repositories"
)

// CreateModuleRequest is the payload for registering a new module working copy.
type CreateModuleRequest struct {
	OrganizationID  string         `json:"organization_id" binding:"required"`
	Name            string         `json:"name" binding:"required"`
	Slug            string         `json:"slug" binding:"required"`
	Description     *string        `json:"description"`
	RenderSourceRef string         `json:"render_source_ref" binding:"required"`
	SettingsSchema  models.JSONMap `json:"settings_schema"`
	APIRoutes       models.JSONMap `json:"api_routes"`
	Styling         models.JSONMap `json:"styling"`
	DefaultSettings models.JSONMap `json:"default_settings"`
	CreatedBy       *string        `json:"created_by"`
}

// @Summary      Register module
// @Description  Register a new module working copy. Versions are created from it later.
// @Tags         Modules
// @Accept       json
// @Produce      json
// @Success      201  {object}  models.Module
// @Failure      400  {object}  map[string]interface{}  "Invalid request body"
// @Failure      409  {object}  map[string]interface{}  "Slug already in use"
// @Router       /api/v1/modules [post]
// CreateModule handles POST /api/v1/modules
func (h *Handlers) CreateModule(c *gin.Context) {
	var req CreateModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	module := &models.Module{
		OrganizationID:  req.OrganizationID,
		Name:            req.Name,
		Slug:            req.Slug,
		Description:     req.Description,
		RenderSourceRef: req.RenderSourceRef,
		SettingsSchema:  req.SettingsSchema,
		APIRoutes:       req.APIRoutes,
		Styling:         req.Styling,
		DefaultSettings: req.DefaultSettings,
		CreatedBy:       req.CreatedBy,
	}

	if err := h.modules.CreateModule(c.Request.Context(), module); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "A module with this slug already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create module"})
		return
	}

	c.JSON(http.StatusCreated, module)
}

// @Summary      Get module
// @Description  Fetch a module working copy with its version pointers.
// @Tags         Modules
// @Produce      json
// @Param        id  path  string  true  "Module ID"
// @Success      200  {object}  models.Module
// @Failure      404  {object}  map[string]interface{}  "Module not found"
// @Router       /api/v1/modules/{id} [get]
// GetModule handles GET /api/v1/modules/:id
func (h *Handlers) GetModule(c *gin.Context) {
	module, err := h.modules.GetModuleByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query module"})
		return
	}
	if module == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Module not found"})
		return
	}

	c.JSON(http.StatusOK, module)
}
