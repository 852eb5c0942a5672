package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/wakecap/siteguard-video-analyzer/models"
)

const (
	earthRadiusMeters = 6371010.0

	// Covering parameters for the nearby-camera search. Level 16 cells are
	// roughly 150m across, small enough that the range scan stays tight.
	nearbyCoverMaxLevel = 16
	nearbyCoverMaxCells = 8
)

// CreateProject inserts a new project. The id must already be set.
func (d *Database) CreateProject(ctx context.Context, project *models.Project) error {
	query := `INSERT INTO projects (id, name, address, latitude, longitude) VALUES (?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		project.ID,
		project.Name,
		project.Address,
		project.Latitude,
		project.Longitude,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// GetProject fetches one project by id.
func (d *Database) GetProject(ctx context.Context, id string) (*models.Project, error) {
	query := `SELECT id, name, address, latitude, longitude, created_at FROM projects WHERE id = ?`

	var (
		project models.Project
		address sql.NullString
	)
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&project.ID,
		&project.Name,
		&address,
		&project.Latitude,
		&project.Longitude,
		&project.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("project %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch project %s: %w", id, err)
	}
	project.Address = address.String
	return &project, nil
}

// ListProjects returns all projects ordered by name.
func (d *Database) ListProjects(ctx context.Context) ([]*models.Project, error) {
	query := `SELECT id, name, address, latitude, longitude, created_at FROM projects ORDER BY name ASC`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	projects := []*models.Project{}
	for rows.Next() {
		var (
			project models.Project
			address sql.NullString
		)
		err := rows.Scan(
			&project.ID,
			&project.Name,
			&address,
			&project.Latitude,
			&project.Longitude,
			&project.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		project.Address = address.String
		projects = append(projects, &project)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project and its cameras.
func (d *Database) DeleteProject(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cameras WHERE project_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete cameras for project %s: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete project %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("project %s: %w", id, models.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit project delete: %w", err)
	}
	return nil
}

// CreateCamera inserts a camera and indexes its position as an S2 leaf cell
// so nearby lookups can range scan instead of comparing every row.
func (d *Database) CreateCamera(ctx context.Context, camera *models.Camera) error {
	cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(camera.Latitude, camera.Longitude))

	query := `
	INSERT INTO cameras (id, project_id, name, latitude, longitude, s2_cell_id)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		camera.ID,
		camera.ProjectID,
		camera.Name,
		camera.Latitude,
		camera.Longitude,
		uint64(cell),
	)
	if err != nil {
		return fmt.Errorf("failed to insert camera: %w", err)
	}
	return nil
}

// GetCamera fetches one camera by id.
func (d *Database) GetCamera(ctx context.Context, id string) (*models.Camera, error) {
	query := `SELECT id, project_id, name, latitude, longitude, created_at FROM cameras WHERE id = ?`

	var camera models.Camera
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&camera.ID,
		&camera.ProjectID,
		&camera.Name,
		&camera.Latitude,
		&camera.Longitude,
		&camera.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("camera %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch camera %s: %w", id, err)
	}
	return &camera, nil
}

// ListCameras returns the cameras of one project, or all cameras when
// projectID is empty.
func (d *Database) ListCameras(ctx context.Context, projectID string) ([]*models.Camera, error) {
	query := `SELECT id, project_id, name, latitude, longitude, created_at FROM cameras`
	args := []interface{}{}
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY name ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cameras: %w", err)
	}
	defer rows.Close()

	cameras := []*models.Camera{}
	for rows.Next() {
		var camera models.Camera
		err := rows.Scan(
			&camera.ID,
			&camera.ProjectID,
			&camera.Name,
			&camera.Latitude,
			&camera.Longitude,
			&camera.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, &camera)
	}
	return cameras, rows.Err()
}

// DeleteCamera removes one camera.
func (d *Database) DeleteCamera(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM cameras WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete camera %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("camera %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListCamerasNear returns cameras within radiusMeters of a point, closest
// first. The candidate set comes from an S2 covering of the search cap; the
// exact distance filter runs on the rows it returns.
func (d *Database) ListCamerasNear(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]models.CameraWithDistance, error) {
	if radiusMeters <= 0 {
		return []models.CameraWithDistance{}, nil
	}

	center := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
	searchCap := s2.CapFromCenterAngle(center, s1.Angle(radiusMeters/earthRadiusMeters))

	coverer := &s2.RegionCoverer{MaxLevel: nearbyCoverMaxLevel, MaxCells: nearbyCoverMaxCells}
	covering := coverer.Covering(searchCap)

	ranges := make([]string, 0, len(covering))
	args := make([]interface{}, 0, len(covering)*2)
	for _, cell := range covering {
		ranges = append(ranges, "(s2_cell_id BETWEEN ? AND ?)")
		args = append(args, uint64(cell.RangeMin()), uint64(cell.RangeMax()))
	}

	query := fmt.Sprintf(`
	SELECT id, project_id, name, latitude, longitude, created_at
	FROM cameras
	WHERE %s`, strings.Join(ranges, " OR "))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby cameras: %w", err)
	}
	defer rows.Close()

	results := []models.CameraWithDistance{}
	for rows.Next() {
		var camera models.Camera
		err := rows.Scan(
			&camera.ID,
			&camera.ProjectID,
			&camera.Name,
			&camera.Latitude,
			&camera.Longitude,
			&camera.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}

		point := s2.PointFromLatLng(s2.LatLngFromDegrees(camera.Latitude, camera.Longitude))
		meters := center.Distance(point).Radians() * earthRadiusMeters
		if meters > radiusMeters {
			continue
		}
		results = append(results, models.CameraWithDistance{
			Camera:         camera,
			DistanceMeters: meters,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cameras: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].DistanceMeters < results[j].DistanceMeters
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
