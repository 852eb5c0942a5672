// Package handlers exposes the analyzer over HTTP. Handlers translate
// between gin requests and the service/store layer; state errors map to
// conflict responses so clients can resolve a diverged view instead of
// silently overwriting it.
package handlers

import (
	"errors"
	"net/http"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"github.com/wakecap/siteguard-video-analyzer/config"
	"github.com/wakecap/siteguard-video-analyzer/models"
	"github.com/wakecap/siteguard-video-analyzer/service"
)

// Handlers represents the HTTP handlers
type Handlers struct {
	svc            *service.Service
	store          service.Store
	maxUploadBytes int64
}

// NewHandlers creates new HTTP handlers
func NewHandlers(svc *service.Service, store service.Store, cfg *config.Config) *Handlers {
	return &Handlers{
		svc:            svc,
		store:          store,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "siteguard-video-analyzer",
	})
}

// GetStatus reports provider readiness, broker connectivity and the session
// view.
func (h *Handlers) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Status())
}

// GetStats returns aggregate counts over stored reports and videos.
func (h *Handlers) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	reports, err := h.store.ListReports(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	videos, err := h.store.ListVideos(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	pendingIDs, err := h.store.ListReportIDsWithPendingThumbnails(ctx, 1000)
	if err != nil {
		h.respondError(c, err)
		return
	}

	totalViolations := 0
	bySeverity := make(map[string]int)
	for _, report := range reports {
		for _, violation := range report.Violations {
			bySeverity[string(violation.Severity)]++
			totalViolations++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total_reports":                   len(reports),
		"total_videos":                    len(videos),
		"total_violations":                totalViolations,
		"violations_by_severity":          bySeverity,
		"reports_with_pending_thumbnails": len(pendingIDs),
	})
}

// respondError maps store and service errors onto HTTP statuses. State
// errors are conflicts the client resolves; everything unexpected is a 500
// with the detail kept in the log.
func (h *Handlers) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrReportMismatch),
		errors.Is(err, service.ErrNothingToSave),
		errors.Is(err, service.ErrAlreadySaved),
		errors.Is(err, service.ErrVideoNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUploadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrVideoTooLong):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Errorf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
