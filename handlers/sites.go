package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wakecap/siteguard-video-analyzer/models"
)

// CreateProject registers a construction site.
func (h *Handlers) CreateProject(c *gin.Context) {
	var project models.Project
	if err := c.ShouldBindJSON(&project); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if project.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if project.ID == "" {
		project.ID = uuid.New().String()
	}

	if err := h.store.CreateProject(c.Request.Context(), &project); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// ListProjects returns all projects ordered by name.
func (h *Handlers) ListProjects(c *gin.Context) {
	projects, err := h.store.ListProjects(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// GetProject returns one project.
func (h *Handlers) GetProject(c *gin.Context) {
	project, err := h.store.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// DeleteProject removes a project and its cameras.
func (h *Handlers) DeleteProject(c *gin.Context) {
	if err := h.store.DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateCamera registers a camera position on an existing project.
func (h *Handlers) CreateCamera(c *gin.Context) {
	var camera models.Camera
	if err := c.ShouldBindJSON(&camera); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if camera.ProjectID == "" || camera.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id and name are required"})
		return
	}
	if _, err := h.store.GetProject(c.Request.Context(), camera.ProjectID); err != nil {
		h.respondError(c, err)
		return
	}
	if camera.ID == "" {
		camera.ID = uuid.New().String()
	}

	if err := h.store.CreateCamera(c.Request.Context(), &camera); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, camera)
}

// ListCameras returns cameras, optionally filtered by project_id.
func (h *Handlers) ListCameras(c *gin.Context) {
	cameras, err := h.store.ListCameras(c.Request.Context(), c.Query("project_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cameras": cameras})
}

// GetCamera returns one camera.
func (h *Handlers) GetCamera(c *gin.Context) {
	camera, err := h.store.GetCamera(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, camera)
}

// DeleteCamera removes a camera.
func (h *Handlers) DeleteCamera(c *gin.Context) {
	if err := h.store.DeleteCamera(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// NearbyCameras returns cameras within radius_m meters of a point, closest
// first.
func (h *Handlers) NearbyCameras(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lat parameter"})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lon parameter"})
		return
	}

	radius := 1000.0
	if raw := c.Query("radius_m"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil || radius <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid radius_m parameter"})
			return
		}
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
	}

	cameras, err := h.store.ListCamerasNear(c.Request.Context(), lat, lon, radius, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cameras": cameras})
}
