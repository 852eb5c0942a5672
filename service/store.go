package service

import (
	"context"

	"github.com/wakecap/siteguard-video-analyzer/models"
)

// ReportStore persists analysis reports with their violations and
// observations. Implementations return models.ErrNotFound for unknown ids.
type ReportStore interface {
	CreateReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	ListReports(ctx context.Context) ([]*models.Report, error)
	UpdateReport(ctx context.Context, id string, patch models.ReportPatch) (*models.Report, error)
	DeleteReport(ctx context.Context, id string) error
	UpdateViolationThumbnail(ctx context.Context, reportID string, position int, status models.ThumbnailStatus, thumb []byte) error
	GetViolationThumbnail(ctx context.Context, reportID string, position int) ([]byte, models.ThumbnailStatus, error)
	// ListReportIDsWithPendingThumbnails returns ids of reports with
	// unattempted captures, oldest report first. A non-positive limit
	// returns them all.
	ListReportIDsWithPendingThumbnails(ctx context.Context, limit int) ([]string, error)
}

// VideoStore persists uploaded video metadata.
type VideoStore interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	ListVideos(ctx context.Context) ([]*models.Video, error)
	UpdateVideo(ctx context.Context, video *models.Video) error
	DeleteVideo(ctx context.Context, id string) error
}

// SiteStore persists projects and their cameras.
type SiteStore interface {
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	DeleteProject(ctx context.Context, id string) error
	CreateCamera(ctx context.Context, camera *models.Camera) error
	GetCamera(ctx context.Context, id string) (*models.Camera, error)
	ListCameras(ctx context.Context, projectID string) ([]*models.Camera, error)
	DeleteCamera(ctx context.Context, id string) error
	ListCamerasNear(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]models.CameraWithDistance, error)
}

// Store bundles the three stores; both the MySQL database and the in-memory
// store satisfy it.
type Store interface {
	ReportStore
	VideoStore
	SiteStore
}
