// Package memstore keeps reports, videos and site data in process memory.
// It backs tests and single-node deployments that run without MySQL; the
// method set mirrors the database package so either can serve the service
// layer.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/s2"

	"github.com/wakecap/siteguard-video-analyzer/models"
)

const earthRadiusMeters = 6371010.0

type Store struct {
	mu       sync.RWMutex
	reports  map[string]*models.Report
	videos   map[string]*models.Video
	projects map[string]*models.Project
	cameras  map[string]*models.Camera
}

func New() *Store {
	return &Store{
		reports:  map[string]*models.Report{},
		videos:   map[string]*models.Video{},
		projects: map[string]*models.Project{},
		cameras:  map[string]*models.Camera{},
	}
}

func cloneReport(r *models.Report) *models.Report {
	out := *r
	if r.SafetyScore != nil {
		score := *r.SafetyScore
		out.SafetyScore = &score
	}
	out.Violations = make([]models.Violation, len(r.Violations))
	copy(out.Violations, r.Violations)
	for i := range out.Violations {
		if r.Violations[i].Thumbnail != nil {
			out.Violations[i].Thumbnail = append([]byte(nil), r.Violations[i].Thumbnail...)
		}
	}
	out.PositiveObservations = append([]string(nil), r.PositiveObservations...)
	if out.Violations == nil {
		out.Violations = []models.Violation{}
	}
	if out.PositiveObservations == nil {
		out.PositiveObservations = []string{}
	}
	return &out
}

func (s *Store) CreateReport(ctx context.Context, report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[report.ID]; ok {
		return fmt.Errorf("report %s already exists", report.ID)
	}

	stored := cloneReport(report)
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	for i := range stored.Violations {
		if stored.Violations[i].ThumbnailStatus == "" {
			stored.Violations[i].ThumbnailStatus = models.ThumbnailPending
		}
	}
	s.reports[report.ID] = stored
	return nil
}

func (s *Store) GetReport(ctx context.Context, id string) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, models.ErrNotFound)
	}
	return cloneReport(report), nil
}

func (s *Store) ListReports(ctx context.Context) ([]*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]*models.Report, 0, len(s.reports))
	for _, report := range s.reports {
		clone := cloneReport(report)
		for i := range clone.Violations {
			clone.Violations[i].Thumbnail = nil
		}
		reports = append(reports, clone)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].AnalyzedAt.After(reports[j].AnalyzedAt)
	})
	return reports, nil
}

func (s *Store) UpdateReport(ctx context.Context, id string, patch models.ReportPatch) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, models.ErrNotFound)
	}

	if patch.OperatorComment != nil {
		report.OperatorComment = *patch.OperatorComment
	}
	if patch.Status != nil {
		report.Status = *patch.Status
	}
	if patch.Violations != nil {
		report.Violations = make([]models.Violation, len(patch.Violations))
		copy(report.Violations, patch.Violations)
		for i := range report.Violations {
			if report.Violations[i].ThumbnailStatus == "" {
				report.Violations[i].ThumbnailStatus = models.ThumbnailPending
			}
		}
	}
	report.UpdatedAt = time.Now()
	return cloneReport(report), nil
}

func (s *Store) DeleteReport(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[id]; !ok {
		return fmt.Errorf("report %s: %w", id, models.ErrNotFound)
	}
	delete(s.reports, id)
	return nil
}

func (s *Store) UpdateViolationThumbnail(ctx context.Context, reportID string, position int, status models.ThumbnailStatus, thumb []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, ok := s.reports[reportID]
	if !ok || position < 0 || position >= len(report.Violations) {
		return fmt.Errorf("report %s violation %d: %w", reportID, position, models.ErrNotFound)
	}
	report.Violations[position].ThumbnailStatus = status
	report.Violations[position].Thumbnail = append([]byte(nil), thumb...)
	report.UpdatedAt = time.Now()
	return nil
}

func (s *Store) GetViolationThumbnail(ctx context.Context, reportID string, position int) ([]byte, models.ThumbnailStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[reportID]
	if !ok || position < 0 || position >= len(report.Violations) {
		return nil, "", fmt.Errorf("report %s violation %d: %w", reportID, position, models.ErrNotFound)
	}
	v := report.Violations[position]
	return append([]byte(nil), v.Thumbnail...), v.ThumbnailStatus, nil
}

func (s *Store) ListReportIDsWithPendingThumbnails(ctx context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := []string{}
	for id, report := range s.reports {
		if len(report.PendingThumbnails()) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.reports[ids[i]], s.reports[ids[j]]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return ids[i] < ids[j]
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) CreateVideo(ctx context.Context, video *models.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.videos[video.ID]; ok {
		return fmt.Errorf("video %s already exists", video.ID)
	}

	stored := *video
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.videos[video.ID] = &stored
	return nil
}

func (s *Store) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	video, ok := s.videos[id]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", id, models.ErrNotFound)
	}
	clone := *video
	return &clone, nil
}

func (s *Store) ListVideos(ctx context.Context) ([]*models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	videos := make([]*models.Video, 0, len(s.videos))
	for _, video := range s.videos {
		clone := *video
		videos = append(videos, &clone)
	}
	sort.Slice(videos, func(i, j int) bool {
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
	return videos, nil
}

func (s *Store) UpdateVideo(ctx context.Context, video *models.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.videos[video.ID]
	if !ok {
		return fmt.Errorf("video %s: %w", video.ID, models.ErrNotFound)
	}
	stored.StoredPath = video.StoredPath
	stored.SizeBytes = video.SizeBytes
	stored.DurationSeconds = video.DurationSeconds
	stored.Status = video.Status
	stored.Error = video.Error
	stored.UpdatedAt = time.Now()
	return nil
}

func (s *Store) DeleteVideo(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.videos[id]; !ok {
		return fmt.Errorf("video %s: %w", id, models.ErrNotFound)
	}
	delete(s.videos, id)
	return nil
}

func (s *Store) CreateProject(ctx context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[project.ID]; ok {
		return fmt.Errorf("project %s already exists", project.ID)
	}
	stored := *project
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.projects[project.ID] = &stored
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}
	clone := *project
	return &clone, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := make([]*models.Project, 0, len(s.projects))
	for _, project := range s.projects {
		clone := *project
		projects = append(projects, &clone)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].Name < projects[j].Name
	})
	return projects, nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}
	delete(s.projects, id)
	for cameraID, camera := range s.cameras {
		if camera.ProjectID == id {
			delete(s.cameras, cameraID)
		}
	}
	return nil
}

func (s *Store) CreateCamera(ctx context.Context, camera *models.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cameras[camera.ID]; ok {
		return fmt.Errorf("camera %s already exists", camera.ID)
	}
	stored := *camera
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.cameras[camera.ID] = &stored
	return nil
}

func (s *Store) GetCamera(ctx context.Context, id string) (*models.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	camera, ok := s.cameras[id]
	if !ok {
		return nil, fmt.Errorf("camera %s: %w", id, models.ErrNotFound)
	}
	clone := *camera
	return &clone, nil
}

func (s *Store) ListCameras(ctx context.Context, projectID string) ([]*models.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cameras := []*models.Camera{}
	for _, camera := range s.cameras {
		if projectID != "" && camera.ProjectID != projectID {
			continue
		}
		clone := *camera
		cameras = append(cameras, &clone)
	}
	sort.Slice(cameras, func(i, j int) bool {
		return cameras[i].Name < cameras[j].Name
	})
	return cameras, nil
}

func (s *Store) DeleteCamera(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cameras[id]; !ok {
		return fmt.Errorf("camera %s: %w", id, models.ErrNotFound)
	}
	delete(s.cameras, id)
	return nil
}

func (s *Store) ListCamerasNear(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]models.CameraWithDistance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if radiusMeters <= 0 {
		return []models.CameraWithDistance{}, nil
	}

	center := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
	results := []models.CameraWithDistance{}
	for _, camera := range s.cameras {
		point := s2.PointFromLatLng(s2.LatLngFromDegrees(camera.Latitude, camera.Longitude))
		meters := center.Distance(point).Radians() * earthRadiusMeters
		if meters > radiusMeters {
			continue
		}
		results = append(results, models.CameraWithDistance{
			Camera:         *camera,
			DistanceMeters: meters,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].DistanceMeters < results[j].DistanceMeters
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
