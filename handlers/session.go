package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wakecap/siteguard-video-analyzer/service"
)

// Analyze submits a completed video to the configured provider and replaces
// the session's live view with the outcome. Thumbnails fill in on the
// session view as background capture lands.
func (h *Handlers) Analyze(c *gin.Context) {
	var req service.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.VideoID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "video_id is required"})
		return
	}

	result, err := h.svc.Analyze(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetSession returns the current session view.
func (h *Handlers) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.SessionSnapshot())
}

// SaveReport persists the live analysis as a report. Saving twice, or saving
// a failed analysis with no violations, is a conflict.
func (h *Handlers) SaveReport(c *gin.Context) {
	report, err := h.svc.SaveReport(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// LoadReport switches the session to a historical report.
func (h *Handlers) LoadReport(c *gin.Context) {
	report, err := h.svc.LoadReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ResetSession clears the session view.
func (h *Handlers) ResetSession(c *gin.Context) {
	h.svc.ResetSession()
	c.Status(http.StatusNoContent)
}
