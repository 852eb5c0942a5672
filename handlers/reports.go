package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wakecap/siteguard-video-analyzer/models"
)

// ListReports returns all saved reports, newest first, with violation
// summaries but no thumbnail bytes.
func (h *Handlers) ListReports(c *gin.Context) {
	reports, err := h.store.ListReports(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// GetReport returns one report with its violations and observations.
func (h *Handlers) GetReport(c *gin.Context) {
	report, err := h.store.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// PatchReport applies operator input to the active report. Updates target
// the session's active report id; patching any other report is a conflict
// the client resolves by loading it first.
func (h *Handlers) PatchReport(c *gin.Context) {
	var patch models.ReportPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if patch.Status != nil && !patch.Status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid report status"})
		return
	}

	report, err := h.svc.UpdateActiveReport(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// DeleteReport removes a report with its violations and observations. A
// deleted active report also clears the session.
func (h *Handlers) DeleteReport(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.DeleteReport(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	if h.svc.SessionSnapshot().ActiveReportID == id {
		h.svc.ResetSession()
	}
	c.Status(http.StatusNoContent)
}

// GetViolationThumbnail serves the captured evidence frame for one
// violation. Pending and failed thumbnails have no bytes to serve.
func (h *Handlers) GetViolationThumbnail(c *gin.Context) {
	position, err := strconv.Atoi(c.Param("position"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid violation position"})
		return
	}

	thumb, status, err := h.store.GetViolationThumbnail(c.Request.Context(), c.Param("id"), position)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if status != models.ThumbnailCaptured || len(thumb) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "No thumbnail captured for this violation",
			"status": status,
		})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", thumb)
}

// RebindEvidence re-runs evidence capture for a report's pending violations
// and reports how many resolved either way.
func (h *Handlers) RebindEvidence(c *gin.Context) {
	captured, failed, err := h.svc.RebindEvidence(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"captured": captured, "failed": failed})
}
