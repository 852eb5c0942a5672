package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// UploadVideo accepts a multipart upload under the "video" field and runs it
// through ingest. Oversized uploads are rejected before any bytes are read.
func (h *Handlers) UploadVideo(c *gin.Context) {
	file, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Multipart field 'video' is required"})
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "Upload exceeds the maximum size",
			"limit": h.maxUploadBytes,
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer src.Close()

	video, err := h.svc.IngestVideo(c.Request.Context(), file.Filename, src)
	if err != nil {
		// Ingest failures still record a video row; return it so the
		// client can show what went wrong.
		if video != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "video": video})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, video)
}

// ListVideos returns all uploaded videos, newest first.
func (h *Handlers) ListVideos(c *gin.Context) {
	videos, err := h.store.ListVideos(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos})
}

// GetVideo returns one video row.
func (h *Handlers) GetVideo(c *gin.Context) {
	video, err := h.store.GetVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, video)
}

// DeleteVideo removes the stored file and the row. Saved reports keep their
// analysis either way.
func (h *Handlers) DeleteVideo(c *gin.Context) {
	if err := h.svc.DeleteVideo(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
